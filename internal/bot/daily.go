package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/qotd/internal/ledger"
	"github.com/zulandar/qotd/internal/platform"
	"go.uber.org/zap"
)

// DailyThreads resolves the parent message that a day's answers are posted
// under, creating it on first use.
type DailyThreads struct {
	client   platform.Client
	store    ledger.Store
	channel  string
	template string
	loc      *time.Location
	log      *zap.Logger
}

// DailyThreadsOpts holds parameters for creating a DailyThreads resolver.
type DailyThreadsOpts struct {
	Client       platform.Client
	Store        ledger.Store
	Channel      string
	Announcement string         // {date} is replaced with the day key
	Location     *time.Location // defaults to time.Local
	Logger       *zap.Logger
}

// NewDailyThreads creates a resolver with the given options.
func NewDailyThreads(opts DailyThreadsOpts) (*DailyThreads, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("bot: client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: store is required")
	}
	if opts.Channel == "" {
		return nil, fmt.Errorf("bot: destination channel is required")
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &DailyThreads{
		client:   opts.Client,
		store:    opts.Store,
		channel:  opts.Channel,
		template: opts.Announcement,
		loc:      loc,
		log:      log,
	}, nil
}

// Resolve returns today's thread anchor. An existing anchor is returned as
// is. Otherwise the announcement is posted, recorded in l, and l is saved
// before returning so a retry never posts a second announcement.
func (d *DailyThreads) Resolve(ctx context.Context, l *ledger.Ledger, now time.Time) (string, error) {
	day := ledger.DayKey(now, d.loc)
	if ref, ok := l.DailyThread(day); ok {
		return ref.ThreadAnchor, nil
	}

	anchor, err := d.client.Post(ctx, d.channel, platform.Message{Text: Announcement(d.template, day)})
	if err != nil {
		return "", fmt.Errorf("bot: post announcement for %s: %w", day, err)
	}
	if anchor == "" {
		return "", fmt.Errorf("bot: post announcement for %s: response has no message id", day)
	}

	if err := l.SetDailyThread(ledger.DailyThreadRef{Day: day, ThreadAnchor: anchor, CreatedAt: now}); err != nil {
		return "", fmt.Errorf("bot: record daily thread: %w", err)
	}
	if err := d.store.Save(ctx, l); err != nil {
		return "", err
	}
	d.log.Info("created daily thread", zap.String("day", day), zap.String("anchor", anchor))
	return anchor, nil
}
