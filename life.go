package srvmgr

import (
	"context"
	"sync/atomic"
)

// Lifecycle is the read side of the manager's state, handed to code that
// needs to react to shutdown (e.g. to release its own resources).
type Lifecycle interface {
	ShuttingDown() <-chan struct{}
	IsServing() bool
	Stopped() <-chan struct{}
	Reason() Reason
}

type life struct {
	serving context.Context
	stop    context.CancelFunc
	stopped chan struct{}
	reason  atomic.Value // Reason
}

func newLife() *life {
	ctx, stop := context.WithCancel(context.Background())
	return &life{
		serving: ctx,
		stop:    stop,
		stopped: make(chan struct{}),
	}
}

func (l *life) ShuttingDown() <-chan struct{} {
	return l.serving.Done()
}

func (l *life) IsServing() bool {
	return l.serving.Err() == nil
}

func (l *life) Stopped() <-chan struct{} {
	return l.stopped
}

func (l *life) Reason() Reason {
	r, _ := l.reason.Load().(Reason)
	return r
}

func (l *life) begin(reason Reason) {
	l.reason.Store(reason)
	l.stop()
}

func (l *life) end() {
	close(l.stopped)
}
