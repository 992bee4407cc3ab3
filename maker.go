package srvmgr

import (
	"context"
)

// MakeTask builds a Task out of a blocking start function and its stop
// counterpart. A nil stop is treated as a task with nothing to release.
func MakeTask(name string, start func() error, stop func(ctx context.Context) error) Task {
	if stop == nil {
		stop = func(context.Context) error { return nil }
	}
	return &genericTask{
		name:  name,
		start: start,
		stop:  stop,
	}
}

type genericTask struct {
	name  string
	start func() error
	stop  func(ctx context.Context) error
}

func (g *genericTask) Name() string {
	return g.name
}

func (g *genericTask) Start() error {
	return g.start()
}

func (g *genericTask) Stop(ctx context.Context) error {
	return g.stop(ctx)
}
