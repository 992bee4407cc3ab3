package srvmgr

import (
	defaultErr "errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

// ListenFDsStart is the first descriptor a socket activating supervisor
// passes down (SD_LISTEN_FDS_START).
const ListenFDsStart = 3

const staleSocketDialTimeout = 100 * time.Millisecond

var (
	ErrForeignListenPID = errors.New("LISTEN_PID does not match the current process")
	ErrTooManyListenFDs = errors.New("only one socket is allowed for socket activation")
)

type BindMode int

const (
	BindTCP BindMode = iota
	BindUnix
	BindInherited
)

func (b BindMode) String() string {
	switch b {
	case BindTCP:
		return "tcp"
	case BindUnix:
		return "unix"
	case BindInherited:
		return "inherited"
	}
	return fmt.Sprintf("BindMode(%d)", int(b))
}

// BindTarget describes the one endpoint the service listens on.
type BindTarget struct {
	Mode BindMode
	Host string
	Port string
	Path string
	FD   int
}

// Activated reports whether the listener comes from a supervisor.
func (t BindTarget) Activated() bool {
	return t.Mode == BindInherited
}

func (t BindTarget) Describe(tls bool) string {
	switch t.Mode {
	case BindInherited:
		return fmt.Sprintf("file descriptor %d", t.FD)
	case BindUnix:
		return t.Path
	}
	scheme := "http"
	if tls {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(t.Host, t.Port))
}

// ResolveBindTarget picks the bind mode for the process with the given pid.
// The LISTEN_PID/LISTEN_FDS pair wins when it addresses this process with a
// single descriptor; otherwise the socket path or host/port is used.
func ResolveBindTarget(cfg Config, pid int) (BindTarget, error) {
	if cfg.ListenPID != 0 && cfg.ListenPID != pid {
		return BindTarget{}, errors.Wrapf(ErrForeignListenPID, "received LISTEN_PID %d but current process id is %d", cfg.ListenPID, pid)
	}
	if cfg.ListenFDs > 1 {
		return BindTarget{}, errors.Wrapf(ErrTooManyListenFDs, "LISTEN_FDS was set to %d", cfg.ListenFDs)
	}

	if cfg.ListenPID == pid && cfg.ListenFDs == 1 {
		return BindTarget{Mode: BindInherited, FD: ListenFDsStart}, nil
	}
	if cfg.SocketPath != "" {
		return BindTarget{Mode: BindUnix, Path: cfg.SocketPath}, nil
	}
	return BindTarget{Mode: BindTCP, Host: cfg.Host, Port: cfg.Port}, nil
}

// Listen opens the listener described by t.
func Listen(t BindTarget) (net.Listener, error) {
	switch t.Mode {
	case BindInherited:
		f := os.NewFile(uintptr(t.FD), fmt.Sprintf("LISTEN_FD_%d", t.FD))
		if f == nil {
			return nil, errors.Errorf("invalid inherited descriptor %d", t.FD)
		}
		defer f.Close()
		l, err := net.FileListener(f)
		if err != nil {
			return nil, errors.Wrapf(err, "error using inherited descriptor %d", t.FD)
		}
		return l, nil

	case BindUnix:
		if err := removeStaleSocket(t.Path); err != nil {
			return nil, err
		}
		l, err := net.Listen("unix", t.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "error listening on %s", t.Path)
		}
		return l, nil
	}

	addr := net.JoinHostPort(t.Host, t.Port)
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "error listening on %s", addr)
	}
	return l, nil
}

// removeStaleSocket deletes a socket file left behind by a previous run.
// A socket somebody still accepts on, or anything that is not a socket, is
// left alone so that Listen reports the address as in use.
func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if err != nil || fi.Mode()&os.ModeSocket == 0 {
		return nil
	}

	conn, err := net.DialTimeout("unix", path, staleSocketDialTimeout)
	if err == nil {
		conn.Close()
		return nil
	}
	if !defaultErr.Is(err, syscall.ECONNREFUSED) {
		return nil
	}
	return errors.Wrapf(os.Remove(path), "error removing stale socket %s", path)
}
