/*
scheduler.go - Early-warning scheduler

PURPOSE:
  Periodically forecasts the readjustments falling in the warning window
  [today, today + earlyWarningDays] and logs every contract whose
  readjustment is due soon. Nothing is applied; applying stays an explicit
  operator action (POST /api/contracts/{id}/apply or `reajuste apply-due`).

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Re-reads parameters on every run, so a changed warning window takes
    effect without a restart
  - Keeps the last run for GET /api/alerts

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewEarlyWarningScheduler(engine, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: GetAlerts endpoint
  - reajuste/engine.go: Forecast
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/terravista/lot-sales/generic"
	"github.com/terravista/lot-sales/reajuste"
)

// AlertRun is the outcome of one early-warning check.
type AlertRun struct {
	RanAt  time.Time
	Window generic.Window
	Due    []reajuste.Record
	Err    error
}

// EarlyWarningScheduler handles periodic early-warning checks.
type EarlyWarningScheduler struct {
	Engine        *reajuste.Engine
	CheckInterval time.Duration
	Enabled       bool
	Clock         func() time.Time
	Metrics       *Metrics

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	lastMu sync.RWMutex
	last   *AlertRun
}

// NewEarlyWarningScheduler creates a new scheduler.
func NewEarlyWarningScheduler(engine *reajuste.Engine, log *zap.Logger) *EarlyWarningScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EarlyWarningScheduler{
		Engine:        engine,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Clock:         time.Now,
		log:           log.Named("scheduler"),
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (s *EarlyWarningScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		s.log.Info("disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	s.log.Info("started", zap.Duration("interval", s.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight check.
func (s *EarlyWarningScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.log.Info("stopped")
	}
}

func (s *EarlyWarningScheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.RunOnce(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.RunOnce(context.Background())
		case <-s.stop:
			return
		}
	}
}

// RunOnce performs one check and records it as the last run.
func (s *EarlyWarningScheduler) RunOnce(ctx context.Context) AlertRun {
	now := s.Clock()
	run := AlertRun{RanAt: now, Due: []reajuste.Record{}}

	params, err := s.Engine.Parameters().Get(ctx)
	if err != nil {
		run.Err = err
		s.finish(run)
		return run
	}
	run.Window = generic.DaysFrom(generic.FromTime(now), params.EarlyWarningDays)

	due, err := s.Engine.Forecast(ctx, run.Window)
	if err != nil {
		run.Err = err
	} else {
		run.Due = due
	}
	s.finish(run)
	return run
}

func (s *EarlyWarningScheduler) finish(run AlertRun) {
	if run.Err != nil {
		s.log.Error("early-warning check failed", zap.Error(run.Err))
	} else {
		for _, r := range run.Due {
			s.log.Info("readjustment due soon",
				zap.String("contract_id", string(r.ContractID)),
				zap.Int("installment", r.ReferenceInstallment),
				zap.String("reference_date", r.ReferenceDate.String()),
				zap.String("original", r.OriginalValue.StringFixed(2)),
				zap.String("adjusted", r.AdjustedValue.StringFixed(2)))
		}
		s.Metrics.setDueSoon(len(run.Due))
		s.log.Info("early-warning check completed",
			zap.String("window", run.Window.String()),
			zap.Int("due", len(run.Due)))
	}

	s.lastMu.Lock()
	s.last = &run
	s.lastMu.Unlock()
}

// Last returns the most recent run, if any.
func (s *EarlyWarningScheduler) Last() (AlertRun, bool) {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	if s.last == nil {
		return AlertRun{}, false
	}
	return *s.last, true
}

func toAlertRunDTO(run AlertRun) AlertRunDTO {
	dto := AlertRunDTO{
		RanAt: run.RanAt.Format(time.RFC3339),
		Due:   toReadjustmentDTOs(run.Due),
	}
	if !run.Window.Start.IsZero() {
		dto.From = run.Window.Start.String()
		dto.To = run.Window.End.String()
	}
	if run.Err != nil {
		dto.Error = run.Err.Error()
	}
	return dto
}
