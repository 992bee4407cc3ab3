package srvmgr

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrShutdownTimeout is returned by Run when the tasks did not stop before
// MaxWaitingStop elapsed and the exit function had to be called.
var ErrShutdownTimeout = errors.New("shutdown timed out, process was forced to exit")

type phase int

const (
	phaseServing phase = iota
	phaseDraining
	phaseStopped
)

type eventKind int

const (
	evBoot eventKind = iota
	evRequestStart
	evRequestEnd
	evIdleFired
	evShutdown
	evDrained
)

type event struct {
	kind   eventKind
	reason Reason
	gen    uint64
	err    error
}

type Option func(*Manager)

// WithSocketActivation turns on the idle monitor. It should only be used when
// the listener was inherited from a supervisor: a normally bound service
// never stops because it is idle.
//
// The idle timer is armed when Run starts as well as whenever the last
// in-flight request ends, so a process that never receives a request still
// exits after idleTimeout. A zero idleTimeout disables the monitor.
func WithSocketActivation(idleTimeout time.Duration) Option {
	return func(m *Manager) {
		m.activated = true
		m.idleTimeout = idleTimeout
	}
}

func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// WithExitFunc replaces os.Exit as the hard shutdown action.
func WithExitFunc(exit func(code int)) Option {
	return func(m *Manager) {
		m.exit = exit
	}
}

// Manager owns the listener lifecycle: it runs the tasks, counts in-flight
// requests, and drives the shutdown sequence exactly once.
//
// Every state transition happens on a single loop goroutine; the request
// hooks, timers and signal handlers only post events to it.
type Manager struct {
	MaxWaitingStop time.Duration

	tasks      []Task
	logger     *zap.SugaredLogger
	clock      Clock
	exit       func(code int)
	life       *life
	signalOnce sync.Once

	events   chan event
	loopDone chan struct{}
	inFlight atomic.Int64

	stopCtx    context.Context
	cancelStop context.CancelFunc

	obsMu     sync.Mutex
	observers []func(Notification)

	// owned by the loop
	activated   bool
	idleTimeout time.Duration
	phase       phase
	requests    int
	idleTimer   Timer
	idleGen     uint64
	hardTimer   Timer
	reason      Reason
	forced      bool
}

func NewManager(logger *zap.SugaredLogger, maxWaitStop time.Duration, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	stopCtx, cancelStop := context.WithCancel(context.Background())
	m := &Manager{
		MaxWaitingStop: maxWaitStop,
		tasks:          []Task{},
		logger:         logger,
		clock:          realClock{},
		exit:           os.Exit,
		life:           newLife(),
		events:         make(chan event, 256),
		loopDone:       make(chan struct{}),
		stopCtx:        stopCtx,
		cancelStop:     cancelStop,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AddTask registers tasks; it must be called before Run.
func (m *Manager) AddTask(tasks ...Task) {
	m.tasks = append(m.tasks, tasks...)
}

// OnShutdown registers an observer notified with ShutdownEvent and the
// trigger reason once every task has stopped.
func (m *Manager) OnShutdown(fn func(Notification)) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observers = append(m.observers, fn)
}

func (m *Manager) Lifecycle() Lifecycle {
	return m.life
}

// InFlight reports the number of requests started and not yet finished.
func (m *Manager) InFlight() int {
	return int(m.inFlight.Load())
}

// Shutdown starts the shutdown sequence. Calls after the first are no-ops.
func (m *Manager) Shutdown(reason Reason) {
	m.post(event{kind: evShutdown, reason: reason})
}

// Run starts every task and blocks until the shutdown sequence has
// completed. It returns the first error reported by a task.
func (m *Manager) Run(ctx context.Context) error {
	go m.loop()

	stopSignals := m.HandleSignals()
	defer stopSignals()

	go func() {
		select {
		case <-ctx.Done():
			m.Shutdown(ReasonContext)
		case <-m.loopDone:
		}
	}()

	m.post(event{kind: evBoot})

	var allTasks errgroup.Group
	for _, t := range m.tasks {
		task := t
		localLogger := m.logger.With("task", task.Name())
		allTasks.Go(func() error {
			defer m.Shutdown(ReasonTaskExit)

			localLogger.Info("starting task")
			if err := task.Start(); err != nil {
				localLogger.With("error", err).Error("interrupted")
				return err
			}
			return nil
		})
	}

	<-m.loopDone
	err := allTasks.Wait()
	if m.forced {
		return ErrShutdownTimeout
	}
	return err
}

func (m *Manager) post(ev event) {
	select {
	case m.events <- ev:
	case <-m.loopDone:
	}
}

func (m *Manager) loop() {
	defer close(m.loopDone)
	for ev := range m.events {
		m.apply(ev)
		if m.phase == phaseStopped {
			return
		}
	}
}

func (m *Manager) apply(ev event) {
	switch ev.kind {
	case evBoot:
		m.armIdle()
	case evRequestStart:
		m.requestStarted()
	case evRequestEnd:
		m.requestEnded()
	case evIdleFired:
		m.idleFired(ev.gen)
	case evShutdown:
		m.beginShutdown(ev.reason)
	case evDrained:
		m.finishShutdown(ev.err)
	}
}

func (m *Manager) beginShutdown(reason Reason) {
	if m.phase != phaseServing {
		m.logger.Debugw("shutdown already in progress", "reason", reason)
		return
	}
	m.phase = phaseDraining
	m.reason = reason
	m.logger.Infow("shutting down", "reason", reason, "in_flight", m.requests)

	m.disarmIdle()
	m.hardTimer = m.clock.AfterFunc(m.MaxWaitingStop, m.hardStop)
	m.life.begin(reason)

	go m.stopTasks()
}

func (m *Manager) stopTasks() {
	var allTasks errgroup.Group
	for _, t := range m.tasks {
		task := t
		localLogger := m.logger.With("task", task.Name())
		allTasks.Go(func() error {
			localLogger.Info("stopping task")
			if err := task.Stop(m.stopCtx); err != nil {
				localLogger.With("error", err).Error("error stopping task")
				return err
			}
			localLogger.Info("task stopped")
			return nil
		})
	}
	m.post(event{kind: evDrained, err: allTasks.Wait()})
}

func (m *Manager) finishShutdown(err error) {
	if m.phase != phaseDraining {
		return
	}
	if m.hardTimer != nil && !m.hardTimer.Stop() {
		m.forced = true
	}
	m.hardTimer = nil
	m.phase = phaseStopped

	m.obsMu.Lock()
	observers := append([]func(Notification){}, m.observers...)
	m.obsMu.Unlock()
	n := Notification{Event: ShutdownEvent, Reason: m.reason}
	for _, fn := range observers {
		fn(n)
	}

	m.life.end()
	if err != nil {
		m.logger.Errorw("shutdown complete with errors", "reason", m.reason, "error", err)
		return
	}
	m.logger.Infow("shutdown complete", "reason", m.reason)
}

// hardStop runs on the timer goroutine, not the loop, so nothing queued
// ahead of it can delay termination.
func (m *Manager) hardStop() {
	m.logger.Error("could not close connections in time, forcing shut down")
	m.exit(1)
	m.cancelStop()
}
