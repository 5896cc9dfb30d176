package bot

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/qotd/internal/config"
	"github.com/zulandar/qotd/internal/ledger"
	"github.com/zulandar/qotd/internal/platform"
	"go.uber.org/zap"
)

// Asker runs the ask phase: select recipients, send each a question by
// direct message, and record a pending entry per delivered question.
type Asker struct {
	client   platform.Client
	store    ledger.Store
	cfg      *config.Config
	log      *zap.Logger
	rng      *rand.Rand
	now      func() time.Time
	newRound func() string
}

// AskerOpts holds parameters for creating an Asker.
type AskerOpts struct {
	Client   platform.Client
	Store    ledger.Store
	Config   *config.Config
	Logger   *zap.Logger      // defaults to a no-op logger
	Rand     *rand.Rand       // defaults to a clock-seeded source
	Now      func() time.Time // defaults to time.Now
	NewRound func() string    // defaults to uuid.NewString
}

// AskResult summarises one ask round.
type AskResult struct {
	Round  string
	Picks  []Pick
	Asked  []ledger.PendingEntry
	DryRun bool
}

// NewAsker creates an Asker with the given options.
func NewAsker(opts AskerOpts) (*Asker, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("bot: client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: store is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	a := &Asker{
		client:   opts.Client,
		store:    opts.Store,
		cfg:      opts.Config,
		log:      opts.Logger,
		rng:      opts.Rand,
		now:      opts.Now,
		newRound: opts.NewRound,
	}
	if a.log == nil {
		a.log = zap.NewNop()
	}
	if a.rng == nil {
		seed := uint64(time.Now().UnixNano())
		a.rng = rand.New(rand.NewPCG(seed, seed>>32|seed<<32))
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.newRound == nil {
		a.newRound = uuid.NewString
	}
	return a, nil
}

// Run performs one ask round. Shared setup failures (member listing, bot
// identity, selection, ledger I/O) abort the round. A failure to reach one
// recipient is reported as a *DeliveryError and the remaining recipients
// are still asked; the joined delivery errors are returned with the
// result. With dryRun set nothing is sent and the ledger is not touched.
func (a *Asker) Run(ctx context.Context, dryRun bool) (*AskResult, error) {
	botID, err := a.botIdentity(ctx)
	if err != nil {
		return nil, err
	}
	members, err := a.client.ChannelMembers(ctx, a.cfg.SourceChannel)
	if err != nil {
		return nil, fmt.Errorf("bot: list members of %s: %w", a.cfg.SourceChannel, err)
	}

	exclude := append([]string{botID}, a.cfg.ExcludeUsers...)
	picks, err := Select(members, exclude, a.cfg.RecipientCount, a.cfg.Questions, a.rng)
	if err != nil {
		return nil, fmt.Errorf("bot: select recipients from %s: %w", a.cfg.SourceChannel, err)
	}

	res := &AskResult{Round: a.newRound(), Picks: picks, DryRun: dryRun}
	if dryRun {
		for _, p := range picks {
			a.log.Info("dry run: would ask", zap.String("user", p.User), zap.String("question", p.Question))
		}
		return res, nil
	}

	l, err := a.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	l.LastPickedUsers = make([]string, 0, len(picks))
	for _, p := range picks {
		l.LastPickedUsers = append(l.LastPickedUsers, p.User)
	}

	var errs []error
	for _, p := range picks {
		entry, err := a.deliver(ctx, res.Round, p)
		if err != nil {
			a.log.Warn("delivery failed", zap.String("user", p.User), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		if err := l.Append(entry); err != nil {
			errs = append(errs, &DeliveryError{User: p.User, Step: StepSave, Err: err})
			continue
		}
		if err := a.store.Save(ctx, l); err != nil {
			return res, errors.Join(append(errs, err)...)
		}
		res.Asked = append(res.Asked, entry)
		a.log.Info("asked question",
			zap.String("round", res.Round),
			zap.String("user", entry.User),
			zap.String("anchor", entry.ThreadAnchor))
	}

	// Persist the selection even when every delivery failed.
	if len(res.Asked) == 0 {
		if err := a.store.Save(ctx, l); err != nil {
			return res, errors.Join(append(errs, err)...)
		}
	}
	return res, errors.Join(errs...)
}

// deliver opens a direct conversation with the recipient and posts the
// question there. The posted message id becomes the entry's thread anchor.
func (a *Asker) deliver(ctx context.Context, round string, p Pick) (ledger.PendingEntry, error) {
	dm, err := a.client.OpenDirect(ctx, p.User)
	if err != nil {
		return ledger.PendingEntry{}, &DeliveryError{User: p.User, Step: StepOpen, Err: err}
	}
	if dm == "" {
		return ledger.PendingEntry{}, &DeliveryError{User: p.User, Step: StepOpen, Err: errors.New("response has no conversation id")}
	}
	anchor, err := a.client.Post(ctx, dm, platform.Message{Text: p.Question})
	if err != nil {
		return ledger.PendingEntry{}, &DeliveryError{User: p.User, Step: StepPost, Err: err}
	}
	if anchor == "" {
		return ledger.PendingEntry{}, &DeliveryError{User: p.User, Step: StepPost, Err: errors.New("response has no message id")}
	}
	return ledger.PendingEntry{
		User:         p.User,
		DM:           dm,
		Question:     p.Question,
		ThreadAnchor: anchor,
		AskedAt:      a.now(),
		Round:        round,
	}, nil
}

// botIdentity returns the configured bot user id, asking the platform when
// none is configured and the client can report it.
func (a *Asker) botIdentity(ctx context.Context) (string, error) {
	if a.cfg.BotUserID != "" {
		return a.cfg.BotUserID, nil
	}
	idr, ok := a.client.(platform.Identifier)
	if !ok {
		return "", nil
	}
	id, err := idr.Identity(ctx)
	if err != nil {
		return "", fmt.Errorf("bot: resolve bot identity: %w", err)
	}
	return id, nil
}
