package watcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"ctawatch/internal/feed"
	"ctawatch/internal/kit"
	"ctawatch/internal/metrics"
	"ctawatch/internal/storage"
	logx "ctawatch/pkg/logx"
)

// Service drives the poll → normalize → reconcile → distribute cycle on a
// fixed interval. Cycles run strictly sequentially: the schedule fires on a
// constant delay and a tick arriving while a cycle is still in flight is
// skipped, so a slow cycle delays the next one instead of overlapping it.
//
// A cycle failure never terminates the service; it logs and waits for the
// next tick.
type Service struct {
	mu sync.Mutex

	cfg     Config
	log     logx.Logger
	fetcher Fetcher
	store   storage.Store
	sender  kit.Sender
	metrics *metrics.Metrics

	limiter *rate.Limiter

	c       *cron.Cron
	entry   cron.EntryID
	running atomic.Bool // overlap guard

	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(cfg Config, fetcher Fetcher, store storage.Store, sender kit.Sender, m *metrics.Metrics, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:     log,
		fetcher: fetcher,
		store:   store,
		sender:  sender,
		metrics: m,
	}
	s.applyLocked(cfg.withDefaults())
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply updates the runtime knobs. An interval change restarts the schedule
// if the service is running.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	oldInterval := s.cfg.Interval
	s.applyLocked(cfg)
	restart := s.c != nil && cfg.Interval != oldInterval
	s.mu.Unlock()

	if restart {
		s.log.Info("poll interval changed; rescheduling", logx.Duration("interval", cfg.Interval))
		s.stopCron()
		s.startCron()
	}
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Info("watcher disabled")
		return
	}
	if s.runCtx != nil {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	interval := s.cfg.Interval
	s.mu.Unlock()

	s.startCron()
	s.log.Info("watcher started", logx.Duration("interval", interval))
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	cancel := s.runCancel
	s.runCancel = nil
	s.runCtx = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.stopCronWait(ctx)
	s.log.Info("watcher stopped")
}

func (s *Service) startCron() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runCtx == nil {
		return
	}
	ctx := s.runCtx
	c := cron.New()
	s.entry = c.Schedule(cron.Every(s.cfg.Interval), cron.FuncJob(func() {
		s.tick(ctx)
	}))
	c.Start()
	s.c = c
}

func (s *Service) stopCron() {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c != nil {
		c.Stop()
	}
}

func (s *Service) stopCronWait(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	done := c.Stop() // resolves when in-flight jobs finish
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn("watcher stop cancelled with cycle still running")
	}
}

// tick runs one cycle unless the previous one is still in flight.
func (s *Service) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("previous cycle still running; tick skipped")
		return
	}
	defer s.running.Store(false)

	defer func() {
		if r := recover(); r != nil {
			s.metrics.CycleFinished("panic")
			s.log.Error("poll cycle panicked", logx.Any("panic", r))
		}
	}()

	s.RunOnce(ctx)
}

// RunOnce executes a single poll cycle: fetch, reconcile against the store,
// distribute untracked (and, under the redistribute policy, changed) alerts,
// and persist outcomes. Exported so operators and tests can drive cycles
// directly.
func (s *Service) RunOnce(ctx context.Context) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	started := time.Now()
	s.log.Debug("poll cycle started")

	fetched, err := s.fetcher.Active(ctx, cfg.Feed)
	if err != nil {
		s.metrics.CycleFinished("fetch_error")
		s.log.Warn("alert fetch failed; cycle skipped", logx.Err(err))
		return
	}
	s.metrics.AlertsFetched(len(fetched))

	if len(fetched) == 0 {
		s.metrics.CycleFinished("ok")
		s.log.Debug("no active alerts")
		return
	}

	known, err := s.store.AlertsByIDs(ctx, IDs(fetched))
	if err != nil {
		s.metrics.CycleFinished("store_error")
		s.log.Warn("alert lookup failed; cycle skipped", logx.Err(err))
		return
	}

	p := Reconcile(fetched, known)
	for _, id := range p.DuplicateIDs {
		s.log.Warn("duplicate alert id within one fetch; keeping first occurrence", logx.Int("alert_id", id))
	}
	s.log.Info("poll cycle reconciled",
		logx.Int("fetched", len(fetched)),
		logx.Int("untracked", len(p.Untracked)),
		logx.Int("changed", len(p.Changed)),
		logx.Int("unchanged", p.Unchanged),
	)

	for _, a := range p.Untracked {
		s.metrics.AlertNew()
		s.announce(ctx, a)
	}

	for _, ch := range p.Changed {
		s.metrics.AlertChanged()
		if !cfg.RedistributeChanged {
			s.log.Info("alert changed (announce-once policy, not redistributed)",
				logx.Int("alert_id", ch.Alert.ID),
				logx.String("headline", ch.Alert.Headline),
			)
			continue
		}
		s.redistribute(ctx, ch)
	}

	s.metrics.CycleFinished("ok")
	s.log.Debug("poll cycle finished", logx.Duration("took", time.Since(started)))
}

// announce delivers a first-seen alert and records it with the resulting
// publish count. Each alert is independent: a failure here leaves the alert
// untracked, to be retried (and possibly redelivered) next cycle — an
// accepted at-least-once risk.
func (s *Service) announce(ctx context.Context, a feed.Alert) {
	n, err := s.deliver(ctx, a)
	if err != nil {
		s.log.Warn("alert skipped this cycle", logx.Int("alert_id", a.ID), logx.Err(err))
		return
	}
	if err := s.store.InsertAlert(ctx, storage.FromAlert(a, n)); err != nil {
		s.log.Warn("alert store insert failed; alert will be reprocessed next cycle",
			logx.Int("alert_id", a.ID), logx.Err(err))
		return
	}
	s.log.Info("alert announced",
		logx.Int("alert_id", a.ID),
		logx.String("headline", a.Headline),
		logx.Int("published_to", n),
	)
}

func (s *Service) redistribute(ctx context.Context, ch Changed) {
	n, err := s.deliver(ctx, ch.Alert)
	if err != nil {
		s.log.Warn("changed alert skipped this cycle", logx.Int("alert_id", ch.Alert.ID), logx.Err(err))
		return
	}
	// UpdateAlert adds n to the cumulative count itself; the row carries the
	// refreshed descriptive fields.
	if err := s.store.UpdateAlert(ctx, storage.FromAlert(ch.Alert, 0), n); err != nil {
		s.log.Warn("alert store update failed", logx.Int("alert_id", ch.Alert.ID), logx.Err(err))
		return
	}
	s.log.Info("changed alert redistributed",
		logx.Int("alert_id", ch.Alert.ID),
		logx.String("headline", ch.Alert.Headline),
		logx.Int("published_to", n),
	)
}
