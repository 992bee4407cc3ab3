package srvmgr

import (
	"os"
	"os/signal"
	"syscall"
)

func ReasonForSignal(sig os.Signal) (Reason, bool) {
	switch sig {
	case syscall.SIGTERM:
		return ReasonSIGTERM, true
	case syscall.SIGINT:
		return ReasonSIGINT, true
	}
	return "", false
}

// HandleSignals routes SIGTERM and SIGINT to Shutdown. Only the first call
// registers the handler; later calls return a no-op stop function.
func (m *Manager) HandleSignals() (stop func()) {
	stop = func() {}
	m.signalOnce.Do(func() {
		sigs := make(chan os.Signal, 1)
		quit := make(chan struct{})
		signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT)

		go func() {
			for {
				select {
				case sig := <-sigs:
					if reason, ok := ReasonForSignal(sig); ok {
						m.logger.Infow("external request to stop", "signal", sig.String())
						m.Shutdown(reason)
					}
				case <-quit:
					return
				}
			}
		}()

		stop = func() {
			signal.Stop(sigs)
			close(quit)
		}
	})
	return stop
}
