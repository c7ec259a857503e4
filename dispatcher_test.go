package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeWorker struct {
	name    string
	started atomic.Bool
	stopped atomic.Bool
	done    chan struct{}
}

func newFakeWorker(name string) *fakeWorker {
	return &fakeWorker{name: name, done: make(chan struct{})}
}

func (w *fakeWorker) Start(ctx context.Context) {
	w.started.Store(true)
	select {
	case <-ctx.Done():
	case <-w.done:
	}
}

func (w *fakeWorker) Stop() {
	if w.stopped.CompareAndSwap(false, true) {
		close(w.done)
	}
}

func (w *fakeWorker) Name() string { return w.name }

func TestDispatcher_StartRunsAllWorkers(t *testing.T) {
	w1 := newFakeWorker("one")
	w2 := newFakeWorker("two")
	dispatcher := NewDispatcher(nil, w1, w2)

	finished := make(chan struct{})
	go func() {
		dispatcher.Start(context.Background())
		close(finished)
	}()

	assert.Eventually(t, func() bool {
		return w1.started.Load() && w2.started.Load() && dispatcher.IsStarted()
	}, time.Second, time.Millisecond)

	dispatcher.Stop()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after Stop")
	}

	assert.True(t, w1.stopped.Load())
	assert.True(t, w2.stopped.Load())
	assert.False(t, dispatcher.IsStarted())
}

func TestDispatcher_ContextCancelStopsWorkers(t *testing.T) {
	worker := newFakeWorker("one")
	dispatcher := NewDispatcher(nil, worker)

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		dispatcher.Start(ctx)
		close(finished)
	}()

	assert.Eventually(t, func() bool { return worker.started.Load() }, time.Second, time.Millisecond)
	cancel()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after context cancel")
	}

	assert.True(t, worker.stopped.Load())
}

func TestDispatcher_StopBeforeStartIsSafe(t *testing.T) {
	dispatcher := NewDispatcher(nil, newFakeWorker("one"))

	assert.NotPanics(t, func() {
		dispatcher.Stop()
	})
	assert.False(t, dispatcher.IsStarted())
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	worker := newFakeWorker("one")
	dispatcher := NewDispatcher(nil, worker)

	go dispatcher.Start(context.Background())
	assert.Eventually(t, func() bool { return worker.started.Load() }, time.Second, time.Millisecond)

	assert.NotPanics(t, func() {
		dispatcher.Stop()
		dispatcher.Stop()
	})
}
