package sweeper

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dms-go/internal/config"
	"dms-go/internal/dms"
)

type fakeSweeper struct {
	calls   atomic.Int32
	block   chan struct{}
	started chan struct{}
	once    sync.Once
}

func (f *fakeSweeper) Sweep(ctx context.Context) (dms.SweepReport, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.once.Do(func() { close(f.started) })
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return dms.SweepReport{}, ctx.Err()
		}
	}
	return dms.SweepReport{Due: 1, Rescheduled: 1}, nil
}

func TestNewRunner(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.SchedulerConfig
		wantErr bool
	}{
		{name: "defaults", cfg: config.SchedulerConfig{}},
		{name: "descriptor", cfg: config.SchedulerConfig{Schedule: "@every 1m"}},
		{name: "five fields", cfg: config.SchedulerConfig{Schedule: "*/5 * * * *", Timezone: "UTC"}},
		{name: "six fields", cfg: config.SchedulerConfig{Schedule: "*/10 * * * * *"}},
		{name: "bad schedule", cfg: config.SchedulerConfig{Schedule: "every so often"}, wantErr: true},
		{name: "bad timezone", cfg: config.SchedulerConfig{Timezone: "Atlantis/Capital"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRunner(&fakeSweeper{}, tt.cfg, dms.NewNopLogger())
			if tt.wantErr {
				if err == nil {
					t.Fatal("NewRunner() expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("NewRunner() error = %v", err)
			}
			if tt.cfg.Schedule == "" && r.schedule != DefaultSchedule {
				t.Errorf("schedule = %q, want %q", r.schedule, DefaultSchedule)
			}
		})
	}
}

func TestRunner_RunOnceSkipsOverlap(t *testing.T) {
	f := &fakeSweeper{block: make(chan struct{}), started: make(chan struct{})}
	r, err := NewRunner(f, config.SchedulerConfig{}, dms.NewNopLogger())
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.RunOnce(context.Background())
		done <- err
	}()
	<-f.started

	if _, err := r.RunOnce(context.Background()); !errors.Is(err, ErrSweepRunning) {
		t.Errorf("overlapping RunOnce() error = %v, want ErrSweepRunning", err)
	}
	r.tick(context.Background())
	if n := f.calls.Load(); n != 1 {
		t.Errorf("Sweep called %d times while busy, want 1", n)
	}

	close(f.block)
	if err := <-done; err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	report, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() after finish error = %v", err)
	}
	if report.Sent() != 1 {
		t.Errorf("report.Sent() = %d, want 1", report.Sent())
	}
}

func TestRunner_StartStop(t *testing.T) {
	f := &fakeSweeper{started: make(chan struct{})}
	r, err := NewRunner(f, config.SchedulerConfig{Schedule: "@every 1s"}, dms.NewNopLogger())
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}

	select {
	case <-f.started:
	case <-time.After(5 * time.Second):
		t.Fatal("no sweep within 5s of Start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestRunner_StopCancelsInFlightSweep(t *testing.T) {
	f := &fakeSweeper{block: make(chan struct{}), started: make(chan struct{})}
	r, err := NewRunner(f, config.SchedulerConfig{Schedule: "@every 1s"}, dms.NewNopLogger())
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case <-f.started:
	case <-time.After(5 * time.Second):
		t.Fatal("no sweep within 5s of Start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
