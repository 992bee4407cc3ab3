package srvmgr

// armIdle schedules an idle shutdown. Only socket activated services with a
// positive idle timeout ever get one, and never once shutdown has begun.
func (m *Manager) armIdle() {
	if !m.activated || m.idleTimeout <= 0 || m.phase != phaseServing || m.requests != 0 {
		return
	}
	m.disarmIdle()

	gen := m.idleGen
	m.idleTimer = m.clock.AfterFunc(m.idleTimeout, func() {
		m.post(event{kind: evIdleFired, gen: gen})
	})
	m.logger.Debugw("idle timer armed", "timeout", m.idleTimeout)
}

func (m *Manager) disarmIdle() {
	if m.idleTimer == nil {
		return
	}
	m.idleTimer.Stop()
	m.idleTimer = nil
	// a fire already queued for the old timer no longer matches
	m.idleGen++
	m.logger.Debug("idle timer disarmed")
}

func (m *Manager) idleFired(gen uint64) {
	if m.idleTimer == nil || gen != m.idleGen {
		return
	}
	m.idleTimer = nil
	m.logger.Infow("idle timeout reached", "timeout", m.idleTimeout)
	m.beginShutdown(ReasonIdle)
}
