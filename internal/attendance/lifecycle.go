package attendance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rollcall/internal/metrics"
)

// DefaultSweepSchedule runs the sweep often enough that sessions rarely stay
// marked active long after expiry. Admission checks expires_at regardless.
const DefaultSweepSchedule = "@every 15s"

const sweepTimeout = 30 * time.Second

// Sweeper closes expired sessions on a cron schedule. It also arms a timer at
// each new session's expiry when the issuing process stays up.
type Sweeper struct {
	svc      *Service
	schedule string
	logger   *slog.Logger
	cron     *cron.Cron

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewSweeper creates a sweeper for svc.
func NewSweeper(svc *Service, schedule string, logger *slog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		svc:      svc,
		schedule: schedule,
		logger:   logger,
		timers:   make(map[string]*time.Timer),
	}
}

// Start registers the schedule and runs one sweep right away so sessions that
// expired while nothing was running close promptly.
func (w *Sweeper) Start(ctx context.Context) error {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(w.logger.Handler(), slog.LevelDebug))
	c := cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if _, err := c.AddFunc(w.schedule, func() { w.run(ctx) }); err != nil {
		return fmt.Errorf("parse sweep schedule %q: %w", w.schedule, err)
	}
	w.cron = c
	w.run(ctx)
	c.Start()
	w.logger.Info("session sweeper started", "schedule", w.schedule)
	return nil
}

// Stop halts the schedule and pending timers; the returned context is done
// once a running sweep finishes.
func (w *Sweeper) Stop() context.Context {
	w.mu.Lock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()
	if w.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return w.cron.Stop()
}

func (w *Sweeper) run(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, sweepTimeout)
	defer cancel()
	if _, err := w.Sweep(ctx); err != nil {
		w.logger.Error("session sweep failed", "error", err)
	}
}

// Sweep closes every active session whose expiry has passed.
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.SweepDuration.Observe(time.Since(start).Seconds()) }()

	ids, err := w.svc.closeExpired(ctx, w.svc.now())
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		w.logger.Debug("sweep closed sessions", "count", len(ids))
	}
	return len(ids), nil
}

// Schedule arms a sweep at the session's expiry.
func (w *Sweeper) Schedule(s Session) {
	delay := s.ExpiresAt.Sub(w.svc.now())
	if delay < 0 {
		delay = 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if old, ok := w.timers[s.ID]; ok {
		old.Stop()
	}
	w.timers[s.ID] = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.timers, s.ID)
		w.mu.Unlock()
		w.run(context.Background())
	})
}

// Pending reports how many expiry timers are armed.
func (w *Sweeper) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.timers)
}
