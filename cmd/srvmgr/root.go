package main

import (
	"context"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"
	srvmgr "github.com/rubens21/go-listener-manager"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func newRootCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "srvmgr",
		Short: "Serve a directory over HTTP with socket activation and graceful shutdown",
		Long: `srvmgr listens on a TCP port, a unix socket or a socket handed down by a
supervisor (LISTEN_PID/LISTEN_FDS), counts in-flight requests and shuts down
gracefully on SIGTERM, SIGINT or, when socket activated, after IDLE_TIMEOUT
seconds without requests.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initConfig(v)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), v)
		},
	}

	flags := cmd.Flags()
	flags.StringP("config", "c", "", "config file (yaml or toml)")
	flags.String("socket-path", "", "unix socket to listen on")
	flags.String("host", "0.0.0.0", "host to listen on")
	flags.String("port", "", "port to listen on (default 3000 without --socket-path)")
	flags.Bool("use-http2", false, "serve HTTP/2 over TLS")
	flags.String("https-key-path", "", "TLS private key")
	flags.String("https-cert-path", "", "TLS certificate")
	flags.Int("shutdown-timeout", 10, "seconds to wait for connections to drain before forcing exit")
	flags.Int("idle-timeout", 0, "seconds without requests before a socket activated process exits (0 disables)")
	flags.Bool("verbose", false, "enable debug logging")
	flags.Bool("force-close", false, "close open connections at shutdown instead of draining them")
	flags.String("root", ".", "directory to serve")

	for _, key := range []string{
		"config",
		srvmgr.KeySocketPath,
		srvmgr.KeyHost,
		srvmgr.KeyPort,
		srvmgr.KeyUseHTTP2,
		srvmgr.KeyHTTPSKeyPath,
		srvmgr.KeyHTTPSCertPath,
		srvmgr.KeyShutdownTimeout,
		srvmgr.KeyIdleTimeout,
		srvmgr.KeyVerbose,
		srvmgr.KeyForceClose,
		srvmgr.KeyRoot,
	} {
		_ = v.BindPFlag(key, flags.Lookup(strings.ReplaceAll(key, "_", "-")))
	}
	return cmd
}

func initConfig(v *viper.Viper) error {
	srvmgr.SetDefaults(v)

	// LISTEN_PID, LISTEN_FDS and the rest come straight from the environment
	v.AutomaticEnv()

	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "error reading config file %s", cfgFile)
		}
	}
	return nil
}

func serve(ctx context.Context, v *viper.Viper) error {
	cfg, err := srvmgr.LoadConfig(v)
	if err != nil {
		return err
	}

	logger, err := srvmgr.NewLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	target, err := srvmgr.ResolveBindTarget(cfg, os.Getpid())
	if err != nil {
		return err
	}

	lis, err := srvmgr.Listen(target)
	if err != nil {
		logger.With("error", err).Error("bind failed")
		return err
	}
	logger.Infof("Listening on %s", target.Describe(cfg.UseHTTP2))

	var opts []srvmgr.Option
	if target.Activated() {
		opts = append(opts, srvmgr.WithSocketActivation(cfg.IdleTimeout))
	}
	m := srvmgr.NewManager(logger, cfg.ShutdownTimeout, opts...)
	m.OnShutdown(func(n srvmgr.Notification) {
		logger.Infow("lifecycle event", "event", n.Event, "reason", n.Reason)
	})

	files := afero.NewReadOnlyFs(afero.NewBasePathFs(afero.NewOsFs(), cfg.Root))
	srv := &http.Server{
		Handler:  m.Track(http.FileServer(afero.NewHttpFs(files))),
		ErrorLog: zap.NewStdLog(logger.Desugar()),
	}
	m.AddTask(srvmgr.HTTPServerAsTask("http", srv, lis, cfg.ServeOptions()))

	return m.Run(ctx)
}
