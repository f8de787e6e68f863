package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"refwatch/internal/estimator"
	"refwatch/internal/govmeta"
	"refwatch/internal/referenda"
	"refwatch/internal/storage"
	"refwatch/internal/transport"
	logx "refwatch/pkg/logx"
)

const (
	DefaultPostDelay  = 5 * time.Second
	DefaultAlertTitle = "Confirming Referendum Alert"
	DefaultUsername   = "Confirming Referendum"
)

// ProposalSource lists the referenda currently in their confirmation period.
type ProposalSource interface {
	Confirming(ctx context.Context) ([]referenda.ConfirmingProposal, error)
}

// Estimator projects a block height onto wall-clock time.
type Estimator interface {
	TimeUntilBlock(ctx context.Context, target uint64) (estimator.Remaining, error)
}

// TitleLookup resolves referendum details. It never fails; a placeholder
// stands in when no mirror answers.
type TitleLookup interface {
	Lookup(ctx context.Context, id uint32) govmeta.Details
}

// Recorder receives the outcome of every pass.
type Recorder interface {
	ObserveRun(rep Report, err error)
}

type Config struct {
	Network    string
	PostDelay  time.Duration
	AlertTitle string
	Username   string
	// DryRun composes and logs messages without publishing or persisting.
	DryRun bool
}

type Deps struct {
	Proposals ProposalSource
	Estimator Estimator
	Titles    TitleLookup

	// Social is the authoritative channel; its errors abort the pass.
	Social transport.Publisher
	// Chat channels are best-effort.
	Chat    []transport.Publisher
	Pending transport.PendingPublisher

	// Store may be nil, in which case every referendum counts as new.
	Store   storage.Store
	Metrics Recorder
	Log     logx.Logger
}

// Announcement is one composed message.
type Announcement struct {
	ID        uint32
	Remaining estimator.Remaining
	Urgent    bool
	Text      string
}

// Report summarizes one pass.
type Report struct {
	Started    time.Time
	Duration   time.Duration
	Confirming int
	Announced  []Announcement
	Skipped    int
	ChatErrors int
	Pending    int
	DryRun     bool
	// Snapshot is what was (or, on a dry run, would have been) persisted.
	Snapshot storage.Snapshot
}

type Service struct {
	cfg  Config
	deps Deps
	log  logx.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Proposals == nil || deps.Estimator == nil {
		return nil, errors.New("notifier: proposal source and estimator are required")
	}
	if deps.Social == nil && !cfg.DryRun {
		return nil, errors.New("notifier: social publisher is required")
	}
	if cfg.PostDelay < 0 {
		cfg.PostDelay = 0
	}
	if cfg.AlertTitle == "" {
		cfg.AlertTitle = DefaultAlertTitle
	}
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:   cfg,
		deps:  deps,
		log:   log,
		now:   time.Now,
		sleep: sleepCtx,
	}, nil
}

// Run performs one announcement pass.
func (s *Service) Run(ctx context.Context) (rep Report, err error) {
	rep.Started = s.now()
	rep.DryRun = s.cfg.DryRun
	defer func() {
		rep.Duration = s.now().Sub(rep.Started)
		if s.deps.Metrics != nil {
			s.deps.Metrics.ObserveRun(rep, err)
		}
	}()

	prev, err := s.loadSnapshot(ctx)
	if err != nil {
		return rep, err
	}

	proposals, err := s.deps.Proposals.Confirming(ctx)
	if err != nil {
		return rep, fmt.Errorf("list confirming referenda: %w", err)
	}
	rep.Confirming = len(proposals)
	s.log.Info("confirming referenda loaded", logx.Int("count", len(proposals)), logx.Int("cached", len(prev)))

	next := make(storage.Snapshot, len(proposals))
	for i, p := range proposals {
		if aerr := s.process(ctx, p, prev, next, &rep); aerr != nil {
			// Keep what earlier runs knew about referenda this pass never reached.
			for _, rest := range proposals[i+1:] {
				carry(prev, next, rest.ID)
			}
			rep.Snapshot = next
			if serr := s.saveSnapshot(ctx, next); serr != nil {
				s.log.Error("cache save after abort failed", logx.Err(serr))
			}
			return rep, aerr
		}
	}

	if s.deps.Pending != nil && !s.cfg.DryRun {
		n, perr := s.deps.Pending.PublishPending(ctx)
		if perr != nil {
			s.log.Error("publish pending messages failed", logx.Err(perr))
		}
		rep.Pending = n
	}

	rep.Snapshot = next
	if err := s.saveSnapshot(ctx, next); err != nil {
		return rep, err
	}
	s.log.Info("run finished",
		logx.Int("confirming", rep.Confirming),
		logx.Int("announced", len(rep.Announced)),
		logx.Int("skipped", rep.Skipped),
	)
	return rep, nil
}

// process estimates and, when it qualifies, announces one referendum. A
// returned error aborts the pass. A failed social post leaves p out of next,
// so it is retried on the next pass; a failure before any post was attempted
// keeps p's previous record.
func (s *Service) process(ctx context.Context, p referenda.ConfirmingProposal, prev, next storage.Snapshot, rep *Report) error {
	log := s.log.With(logx.Uint64("ref", uint64(p.ID)))

	rem, err := s.deps.Estimator.TimeUntilBlock(ctx, uint64(p.DeadlineBlock))
	if err != nil {
		carry(prev, next, p.ID)
		return fmt.Errorf("estimate referendum %d: %w", p.ID, err)
	}
	log.Info("referendum is confirming",
		logx.String("remaining", rem.String()),
		logx.String("origin", p.Origin),
		logx.String("track", p.TrackName()),
	)

	if !Qualifies(prev, p.ID, rem) {
		next[storage.Key(p.ID)] = record(rem)
		rep.Skipped++
		return nil
	}

	title := govmeta.Placeholder().Title
	if s.deps.Titles != nil {
		title = s.deps.Titles.Lookup(ctx, p.ID).Title
	}
	a := Announcement{
		ID:        p.ID,
		Remaining: rem,
		Urgent:    Urgent(rem),
		Text:      ComposeMessage(s.cfg.Network, title, p.ID, rem),
	}

	if s.cfg.DryRun {
		log.Info("dry run, not publishing", logx.String("message", a.Text))
		next[storage.Key(p.ID)] = record(rem)
		rep.Announced = append(rep.Announced, a)
		return nil
	}

	post := transport.Post{
		Title:    s.cfg.AlertTitle,
		Text:     a.Text,
		Username: s.cfg.Username,
		Urgent:   a.Urgent,
	}
	for _, ch := range s.deps.Chat {
		if err := ch.Publish(ctx, post); err != nil {
			rep.ChatErrors++
			log.Error("chat publish failed", logx.String("channel", ch.Name()), logx.Err(err))
		}
	}

	if err := s.deps.Social.Publish(ctx, post); err != nil {
		return fmt.Errorf("announce referendum %d on %s: %w", p.ID, s.deps.Social.Name(), err)
	}
	next[storage.Key(p.ID)] = record(rem)
	rep.Announced = append(rep.Announced, a)
	log.Info("announcement posted", logx.Duration("sleep", s.cfg.PostDelay))

	return s.sleep(ctx, s.cfg.PostDelay)
}

// carry copies id's record from prev into next, if prev has one.
func carry(prev, next storage.Snapshot, id uint32) {
	if r, ok := prev[storage.Key(id)]; ok {
		next[storage.Key(id)] = r
	}
}

func (s *Service) loadSnapshot(ctx context.Context) (storage.Snapshot, error) {
	if s.deps.Store == nil {
		return storage.Snapshot{}, nil
	}
	snap, err := s.deps.Store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load cache: %w", err)
	}
	if snap == nil {
		snap = storage.Snapshot{}
	}
	return snap, nil
}

func (s *Service) saveSnapshot(ctx context.Context, snap storage.Snapshot) error {
	if s.deps.Store == nil || s.cfg.DryRun {
		return nil
	}
	// Persist even when ctx was cancelled mid-pass.
	ctx = context.WithoutCancel(ctx)
	if err := s.deps.Store.Save(ctx, snap); err != nil {
		return fmt.Errorf("save cache: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
