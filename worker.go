package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Worker is a schedulable unit managed by the Dispatcher. Start blocks until
// the worker is stopped; Stop waits for in-flight work to drain so that no
// acknowledgment is lost mid-shutdown.
type Worker interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}

// PollWorker runs a work function at a fixed interval. The queue poller and
// the monitoring loop run on top of it.
type PollWorker struct {
	name     string
	interval time.Duration
	logger   *zap.Logger
	workFunc func(ctx context.Context) error

	wg       sync.WaitGroup
	mu       sync.RWMutex
	stopOnce sync.Once
	stopChan chan struct{}
	started  bool
}

// NewPollWorker creates a ticker-driven worker.
func NewPollWorker(name string, interval time.Duration, logger *zap.Logger, workFunc func(ctx context.Context) error) *PollWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PollWorker{
		name:     name,
		interval: interval,
		logger:   logger,
		workFunc: workFunc,
		stopChan: make(chan struct{}),
	}
}

// Start begins the tick loop and blocks until the context is cancelled or
// Stop is called.
func (w *PollWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("Worker already started", zap.String("worker", w.name))
		return
	}
	w.started = true
	w.mu.Unlock()

	w.logger.Info("Worker starting", zap.String("worker", w.name), zap.Duration("interval", w.interval))
	defer w.logger.Info("Worker finished", zap.String("worker", w.name))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			// Register the tick before re-checking the stop signal: a Stop
			// racing with the tick either sees the registration and waits for
			// it, or wins the re-check and no new work starts.
			w.wg.Add(1)
			select {
			case <-w.stopChan:
				w.wg.Done()
				return
			default:
			}
			w.runOnce(ctx)
		}
	}
}

func (w *PollWorker) runOnce(ctx context.Context) {
	defer w.wg.Done()

	select {
	case <-ctx.Done():
		return
	default:
	}

	if err := w.workFunc(ctx); err != nil {
		w.logger.Error("Worker tick failed", zap.String("worker", w.name), zap.Error(err))
	}
}

// Stop shuts the worker down, waiting for an in-progress tick to complete.
// Safe to call multiple times.
func (w *PollWorker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.RLock()
		defer w.mu.RUnlock()
		if !w.started {
			return
		}
		close(w.stopChan)
		w.wg.Wait()
	})
}

// Name returns the worker name.
func (w *PollWorker) Name() string {
	return w.name
}

// StreamWorker runs a blocking run function once and restarts it after a
// pause if it returns early with an error. The stream listeners run on top
// of it: the run function owns its own consume loop and returns when the
// context is cancelled.
type StreamWorker struct {
	name         string
	restartDelay time.Duration
	logger       *zap.Logger
	runFunc      func(ctx context.Context) error

	mu       sync.RWMutex
	stopOnce sync.Once
	cancel   context.CancelFunc
	stopChan chan struct{}
	doneChan chan struct{}
	started  bool
}

// NewStreamWorker creates a continuous worker around runFunc.
func NewStreamWorker(name string, restartDelay time.Duration, logger *zap.Logger, runFunc func(ctx context.Context) error) *StreamWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamWorker{
		name:         name,
		restartDelay: restartDelay,
		logger:       logger,
		runFunc:      runFunc,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start runs the consume loop until the context is cancelled or Stop is
// called.
func (w *StreamWorker) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		w.logger.Warn("Worker already started", zap.String("worker", w.name))
		return
	}
	w.started = true
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	defer close(w.doneChan)
	defer cancel()

	w.logger.Info("Worker starting", zap.String("worker", w.name))
	defer w.logger.Info("Worker finished", zap.String("worker", w.name))

	for {
		err := w.runFunc(runCtx)
		if runCtx.Err() != nil {
			return
		}
		if err != nil {
			w.logger.Error("Worker run failed, restarting",
				zap.String("worker", w.name),
				zap.Duration("restart_delay", w.restartDelay),
				zap.Error(err))
		}
		select {
		case <-runCtx.Done():
			return
		case <-w.stopChan:
			return
		case <-time.After(w.restartDelay):
		}
	}
}

// Stop cancels the run function and waits for it to return.
func (w *StreamWorker) Stop() {
	w.stopOnce.Do(func() {
		w.mu.RLock()
		started := w.started
		cancel := w.cancel
		w.mu.RUnlock()
		if !started {
			return
		}
		close(w.stopChan)
		if cancel != nil {
			cancel()
		}
		<-w.doneChan
	})
}

// Name returns the worker name.
func (w *StreamWorker) Name() string {
	return w.name
}
