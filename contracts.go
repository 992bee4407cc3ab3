package srvmgr

import "context"

type Task interface {
	Name() string
	Start() error
	Stop(ctx context.Context) error
}

// Reason tells observers what started the shutdown sequence.
type Reason string

const (
	ReasonSIGTERM  Reason = "SIGTERM"
	ReasonSIGINT   Reason = "SIGINT"
	ReasonIdle     Reason = "IDLE"
	ReasonTaskExit Reason = "TASK_EXIT"
	ReasonContext  Reason = "CONTEXT"
)

// ShutdownEvent is the name under which the completed shutdown is announced.
const ShutdownEvent = "srvmgr:shutdown"

// Notification is what OnShutdown observers receive.
type Notification struct {
	Event  string
	Reason Reason
}
