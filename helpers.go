package srvmgr

import (
	"context"
	"crypto/tls"
	defaultErr "errors"
	"net"
	"net/http"

	"github.com/pkg/errors"
)

// HTTPServer is the part of *http.Server the manager drives.
type HTTPServer interface {
	Serve(l net.Listener) error
	Shutdown(ctx context.Context) error
	Close() error
}

type ServeOptions struct {
	// TLS wraps the listener; net/http serves HTTP/2 to clients that
	// negotiate h2.
	TLS *tls.Config
	// ForceClose drops open connections at shutdown instead of letting
	// them drain.
	ForceClose bool
}

func HTTPServerAsTask(name string, srv HTTPServer, lis net.Listener, opts ServeOptions) Task {
	start := func() error {
		l := lis
		if opts.TLS != nil {
			l = tls.NewListener(lis, opts.TLS)
		}
		err := srv.Serve(l)
		if err == nil || defaultErr.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "error serving http")
	}

	stop := func(ctx context.Context) error {
		var err error
		if opts.ForceClose {
			err = srv.Close()
		} else {
			err = srv.Shutdown(ctx)
		}
		if err != nil && !defaultErr.Is(err, net.ErrClosed) {
			return errors.Wrap(err, "error stopping http server")
		}
		return nil
	}

	return MakeTask(name, start, stop)
}
