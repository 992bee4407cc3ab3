package srvmgr

import (
	"crypto/tls"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// Configuration keys. With viper.AutomaticEnv each key is read from the
// environment variable of the same name in upper case.
const (
	KeySocketPath      = "socket_path"
	KeyHost            = "host"
	KeyPort            = "port"
	KeyUseHTTP2        = "use_http2"
	KeyHTTPSKeyPath    = "https_key_path"
	KeyHTTPSCertPath   = "https_cert_path"
	KeyShutdownTimeout = "shutdown_timeout"
	KeyIdleTimeout     = "idle_timeout"
	KeyListenPID       = "listen_pid"
	KeyListenFDs       = "listen_fds"
	KeyVerbose         = "verbose"
	KeyForceClose      = "force_close"
	KeyRoot            = "root"
)

const defaultPort = "3000"

var (
	ErrMissingTLSMaterial = errors.New("USE_HTTP2 is true, but HTTPS_KEY_PATH or HTTPS_CERT_PATH are not set")
	ErrInvalidTLSMaterial = errors.New("cannot load HTTPS_KEY_PATH and HTTPS_CERT_PATH")
	ErrInvalidTimeout     = errors.New("timeout must not be negative")
)

const (
	http2NextProtoTLS = "h2"
	http11            = "http/1.1"
)

type Config struct {
	SocketPath      string
	Host            string
	Port            string
	UseHTTP2        bool
	TLSKeyPath      string
	TLSCertPath     string
	ShutdownTimeout time.Duration
	IdleTimeout     time.Duration
	ListenPID       int
	ListenFDs       int
	Verbose         bool
	ForceClose      bool
	Root            string

	// TLS holds the loaded key pair when UseHTTP2 is set.
	TLS *tls.Config
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeySocketPath, "")
	v.SetDefault(KeyHost, "0.0.0.0")
	v.SetDefault(KeyPort, "")
	v.SetDefault(KeyUseHTTP2, "false")
	v.SetDefault(KeyHTTPSKeyPath, "")
	v.SetDefault(KeyHTTPSCertPath, "")
	v.SetDefault(KeyShutdownTimeout, 10)
	v.SetDefault(KeyIdleTimeout, 0)
	v.SetDefault(KeyListenPID, 0)
	v.SetDefault(KeyListenFDs, 0)
	v.SetDefault(KeyVerbose, "false")
	v.SetDefault(KeyForceClose, "false")
	v.SetDefault(KeyRoot, ".")
}

// LoadConfig reads and validates the configuration held by v.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		SocketPath:  v.GetString(KeySocketPath),
		Host:        v.GetString(KeyHost),
		Port:        v.GetString(KeyPort),
		UseHTTP2:    isTrue(v.GetString(KeyUseHTTP2)),
		TLSKeyPath:  v.GetString(KeyHTTPSKeyPath),
		TLSCertPath: v.GetString(KeyHTTPSCertPath),
		Verbose:     isTrue(v.GetString(KeyVerbose)),
		ForceClose:  isTrue(v.GetString(KeyForceClose)),
		Root:        v.GetString(KeyRoot),
	}
	if cfg.Port == "" && cfg.SocketPath == "" {
		cfg.Port = defaultPort
	}

	var err error
	if cfg.ShutdownTimeout, err = seconds(v, KeyShutdownTimeout); err != nil {
		return Config{}, err
	}
	if cfg.IdleTimeout, err = seconds(v, KeyIdleTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ListenPID, err = integer(v, KeyListenPID); err != nil {
		return Config{}, err
	}
	if cfg.ListenFDs, err = integer(v, KeyListenFDs); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if cfg.TLS, err = cfg.LoadTLS(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadTLS reads the certificate and key so that unusable TLS material is
// reported before any listener is opened. It returns nil without HTTP/2.
func (c Config) LoadTLS() (*tls.Config, error) {
	if !c.UseHTTP2 {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.TLSCertPath, c.TLSKeyPath)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidTLSMaterial, "%s, %s: %v", c.TLSCertPath, c.TLSKeyPath, err)
	}
	return &tls.Config{
		NextProtos:   []string{http2NextProtoTLS, http11},
		Certificates: []tls.Certificate{cert},
	}, nil
}

func (c Config) Validate() error {
	if c.UseHTTP2 && (c.TLSKeyPath == "" || c.TLSCertPath == "") {
		return ErrMissingTLSMaterial
	}
	if c.ShutdownTimeout < 0 {
		return errors.Wrapf(ErrInvalidTimeout, "%s is %s", KeyShutdownTimeout, c.ShutdownTimeout)
	}
	if c.IdleTimeout < 0 {
		return errors.Wrapf(ErrInvalidTimeout, "%s is %s", KeyIdleTimeout, c.IdleTimeout)
	}
	return nil
}

// ServeOptions maps the TLS and close policy settings onto the HTTP task.
func (c Config) ServeOptions() ServeOptions {
	return ServeOptions{TLS: c.TLS, ForceClose: c.ForceClose}
}

func isTrue(s string) bool {
	return strings.EqualFold(strings.TrimSpace(s), "true")
}

func integer(v *viper.Viper, key string) (int, error) {
	n, err := cast.ToIntE(v.Get(key))
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", key)
	}
	return n, nil
}

func seconds(v *viper.Viper, key string) (time.Duration, error) {
	n, err := integer(v, key)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}
