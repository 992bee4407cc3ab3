package srvmgr

import "time"

type Timer interface {
	Stop() bool
}

// Clock schedules the idle and hard shutdown callbacks.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
