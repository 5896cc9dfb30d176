package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/qotd/internal/config"
	"github.com/zulandar/qotd/internal/ledger"
	"github.com/zulandar/qotd/internal/platform"
	"go.uber.org/zap"
)

// Collector runs the collect phase: look for replies to every pending
// question, republish answers under the day's thread, and keep the rest.
type Collector struct {
	client platform.Client
	store  ledger.Store
	cfg    *config.Config
	daily  *DailyThreads
	log    *zap.Logger
	now    func() time.Time
}

// CollectorOpts holds parameters for creating a Collector.
type CollectorOpts struct {
	Client platform.Client
	Store  ledger.Store
	Config *config.Config
	Logger *zap.Logger      // defaults to a no-op logger
	Now    func() time.Time // defaults to time.Now
}

// CollectReport summarises one collect run.
type CollectReport struct {
	Checked     int
	Published   int
	Retained    int
	Expired     int
	Failed      int
	DailyThread string
}

// NewCollector creates a Collector with the given options.
func NewCollector(opts CollectorOpts) (*Collector, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	daily, err := NewDailyThreads(DailyThreadsOpts{
		Client:       opts.Client,
		Store:        opts.Store,
		Channel:      opts.Config.DestinationChannel,
		Announcement: opts.Config.Announcement,
		Location:     opts.Config.Location(),
		Logger:       log,
	})
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Collector{
		client: opts.Client,
		store:  opts.Store,
		cfg:    opts.Config,
		daily:  daily,
		log:    log,
		now:    now,
	}, nil
}

// Run processes every pending entry once. An empty ledger is a no-op with
// no platform calls and no write. Per-entry failures are reported as
// joined *TransientError values and those entries stay pending. Ledger
// I/O failures abort the run.
//
// The day's thread is created lazily, when the first answer is found, so
// a run with nothing to report never posts an empty announcement.
//
// The retained entries are saved once at the end. A crash before that save
// means answers already published this run are published again next time.
func (c *Collector) Run(ctx context.Context) (*CollectReport, error) {
	l, err := c.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	report := &CollectReport{}
	if len(l.Pending) == 0 {
		return report, nil
	}

	now := c.now()
	var (
		errs       []error
		retained   = make([]ledger.PendingEntry, 0, len(l.Pending))
		anchor     string
		resolveErr error
	)
	for _, e := range l.Pending {
		report.Checked++

		answer, found, err := FindAnswer(ctx, c.client, e)
		if err != nil {
			c.log.Warn("reply lookup failed", zap.String("user", e.User), zap.String("anchor", e.ThreadAnchor), zap.Error(err))
			report.Failed++
			errs = append(errs, err)
			retained = append(retained, e)
			continue
		}
		if !found {
			if e.Expired(now, c.cfg.PendingMaxAge) {
				c.log.Info("dropping expired question",
					zap.String("user", e.User),
					zap.String("anchor", e.ThreadAnchor),
					zap.Time("asked_at", e.AskedAt))
				report.Expired++
				continue
			}
			retained = append(retained, e)
			continue
		}

		if anchor == "" && resolveErr == nil {
			anchor, resolveErr = c.daily.Resolve(ctx, l, now)
			if resolveErr != nil && isLedgerFailure(resolveErr) {
				return report, resolveErr
			}
			report.DailyThread = anchor
		}
		if resolveErr != nil {
			report.Failed++
			errs = append(errs, &TransientError{User: e.User, Anchor: e.ThreadAnchor, Op: "resolve daily thread", Err: resolveErr})
			retained = append(retained, e)
			continue
		}

		if err := c.publish(ctx, e, answer, anchor); err != nil {
			c.log.Warn("publish failed", zap.String("user", e.User), zap.Error(err))
			report.Failed++
			errs = append(errs, err)
			retained = append(retained, e)
			continue
		}
		report.Published++
		c.log.Info("published answer", zap.String("user", e.User), zap.String("thread", anchor))
	}

	report.Retained = len(retained)
	if report.Published > 0 || report.Expired > 0 {
		l.ReplacePending(retained)
		if err := c.store.Save(ctx, l); err != nil {
			return report, errors.Join(append(errs, err)...)
		}
	}
	return report, errors.Join(errs...)
}

// publish formats one answer and posts it under the daily thread.
func (c *Collector) publish(ctx context.Context, e ledger.PendingEntry, answer, anchor string) error {
	avatar, err := c.client.AvatarURL(ctx, e.User)
	if err != nil {
		c.log.Debug("avatar lookup failed", zap.String("user", e.User), zap.Error(err))
		avatar = ""
	}
	msg := FormatAnswer(e.Question, e.User, answer, avatar)
	msg.ThreadAnchor = anchor
	if _, err := c.client.Post(ctx, c.cfg.DestinationChannel, msg); err != nil {
		return &TransientError{User: e.User, Anchor: e.ThreadAnchor, Op: "publish answer", Err: err}
	}
	return nil
}

// isLedgerFailure reports whether err came from the ledger store rather
// than the platform.
func isLedgerFailure(err error) bool {
	var ioErr *ledger.IOError
	return errors.As(err, &ioErr) || errors.Is(err, ledger.ErrConflict)
}
