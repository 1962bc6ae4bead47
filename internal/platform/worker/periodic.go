package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrAlreadyRunning is returned by Start when the task loop is already active.
var ErrAlreadyRunning = errors.New("periodic task already running")

// TaskFunc is one unit of periodic work.
type TaskFunc func(ctx context.Context) error

// PeriodicTask runs a TaskFunc on a fixed interval and on demand via Trigger.
// At most one run executes at a time; a tick that arrives while a run is in
// progress is skipped rather than queued behind it.
type PeriodicTask struct {
	name     string
	interval time.Duration
	run      TaskFunc
	logger   *slog.Logger

	busy atomic.Bool
	wake chan struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewPeriodicTask creates a task. It does nothing until Start or Run is called.
func NewPeriodicTask(name string, interval time.Duration, run TaskFunc, logger *slog.Logger) *PeriodicTask {
	return &PeriodicTask{
		name:     name,
		interval: interval,
		run:      run,
		logger:   logger.With("task", name),
		wake:     make(chan struct{}, 1),
	}
}

// Name returns the task name.
func (p *PeriodicTask) Name() string { return p.name }

// Trigger requests an immediate run. Multiple triggers before the loop picks
// them up collapse into one.
func (p *PeriodicTask) Trigger() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// RunOnce executes the task unless another run is in progress.
// ran is false when the call was skipped.
func (p *PeriodicTask) RunOnce(ctx context.Context) (ran bool, err error) {
	if !p.busy.CompareAndSwap(false, true) {
		p.logger.DebugContext(ctx, "Previous run still in progress, skipping")
		return false, nil
	}
	defer p.busy.Store(false)

	start := time.Now()
	err = p.run(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Periodic task run failed", "error", err, "duration", time.Since(start))
	}
	return true, err
}

// Start launches the loop in a goroutine. Stop ends it.
func (p *PeriodicTask) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})

	go func(stopCh, doneCh chan struct{}) {
		defer close(doneCh)
		p.loop(ctx, stopCh)
	}(p.stopCh, p.doneCh)
	return nil
}

// Stop signals the loop to exit and waits for the current run to finish.
func (p *PeriodicTask) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	doneCh := p.doneCh
	p.mu.Unlock()

	<-doneCh
	p.logger.Info("Periodic task stopped")
}

// Run blocks, running the loop until ctx is cancelled. Intended for errgroup use.
func (p *PeriodicTask) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return nil
}

// IsRunning reports whether the loop is active.
func (p *PeriodicTask) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *PeriodicTask) loop(ctx context.Context, stopCh <-chan struct{}) {
	p.logger.InfoContext(ctx, "Periodic task started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			_, _ = p.RunOnce(ctx)
		case <-p.wake:
			_, _ = p.RunOnce(ctx)
		}
	}
}
