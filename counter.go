package srvmgr

import (
	"net/http"
	"sync"
)

// Begin marks the start of a request. The returned function marks its end;
// calling it more than once has no further effect.
func (m *Manager) Begin() (end func()) {
	m.post(event{kind: evRequestStart})
	var once sync.Once
	return func() {
		once.Do(func() {
			m.post(event{kind: evRequestEnd})
		})
	}
}

// Track hands every request, untouched, to h while keeping the in-flight
// count up to date.
func (m *Manager) Track(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer m.Begin()()
		h.ServeHTTP(w, r)
	})
}

func (m *Manager) requestStarted() {
	m.requests++
	m.inFlight.Store(int64(m.requests))
	if m.activated {
		m.disarmIdle()
	}
}

func (m *Manager) requestEnded() {
	if m.requests == 0 {
		m.logger.Error("request finished without a matching start")
		return
	}
	m.requests--
	m.inFlight.Store(int64(m.requests))
	if m.requests == 0 {
		m.armIdle()
	}
}
