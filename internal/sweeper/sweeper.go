// Package sweeper runs the trigger sweep on a cron schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"dms-go/internal/config"
	"dms-go/internal/dms"
)

// DefaultSchedule is used when the config leaves the schedule empty.
const DefaultSchedule = "@every 30s"

// Sweeper is implemented by dms.DMSService.
type Sweeper interface {
	Sweep(ctx context.Context) (dms.SweepReport, error)
}

var _ Sweeper = (*dms.DMSService)(nil)

// ErrSweepRunning is returned by RunOnce while another sweep is in progress.
var ErrSweepRunning = errors.New("sweep already running")

// Runner calls Sweep on every tick of its schedule. A tick that arrives
// while the previous sweep is still running is skipped.
type Runner struct {
	sweeper  Sweeper
	logger   dms.Logger
	schedule string
	loc      *time.Location
	parser   cron.Parser

	running atomic.Bool

	mu     sync.Mutex
	c      *cron.Cron
	cancel context.CancelFunc
}

// NewRunner validates the schedule and timezone in cfg.
func NewRunner(s Sweeper, cfg config.SchedulerConfig, logger dms.Logger) (*Runner, error) {
	schedule := cfg.Schedule
	if schedule == "" {
		schedule = DefaultSchedule
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("scheduler.timezone: %w", err)
		}
		loc = l
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("scheduler.schedule %q: %w", schedule, err)
	}

	return &Runner{
		sweeper:  s,
		logger:   logger,
		schedule: schedule,
		loc:      loc,
		parser:   parser,
	}, nil
}

// Start begins ticking. Sweeps run with a context derived from ctx that is
// cancelled by Stop. Calling Start twice is a no-op.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.c != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	logger := cronLogger{r.logger}
	c := cron.New(
		cron.WithParser(r.parser),
		cron.WithLocation(r.loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger)),
	)
	if _, err := c.AddFunc(r.schedule, func() { r.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("scheduling sweep: %w", err)
	}

	r.c = c
	r.cancel = cancel
	c.Start()
	r.logger.Info("sweeper started", "schedule", r.schedule, "tz", r.loc.String())
	return nil
}

// Stop halts ticking, cancels an in-flight sweep and waits for it to
// return or for ctx to expire.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	c, cancel := r.c, r.cancel
	r.c, r.cancel = nil, nil
	r.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop().Done()
	cancel()
	select {
	case <-done:
		r.logger.Info("sweeper stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for sweep to finish: %w", ctx.Err())
	}
}

// RunOnce sweeps immediately unless a sweep is already running.
func (r *Runner) RunOnce(ctx context.Context) (dms.SweepReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return dms.SweepReport{}, ErrSweepRunning
	}
	defer r.running.Store(false)
	return r.sweeper.Sweep(ctx)
}

func (r *Runner) tick(ctx context.Context) {
	report, err := r.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrSweepRunning):
		r.logger.Debug("previous sweep still running, skipping tick")
	case err != nil:
		r.logger.Error("sweep failed", "error", err)
	case report.Failed > 0:
		r.logger.Warn("sweep had failures", "failed", report.Failed, "sent", report.Sent())
	}
}

// cronLogger adapts dms.Logger to cron.Logger.
type cronLogger struct {
	logger dms.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
