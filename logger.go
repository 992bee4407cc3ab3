package srvmgr

import (
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

// NewLogger builds the process logger: human readable when stderr is a
// terminal, JSON otherwise. Verbose enables debug output, which includes
// every idle timer transition.
func NewLogger(verbose bool) (*zap.SugaredLogger, error) {
	fd := os.Stderr.Fd()
	cfg := zap.NewProductionConfig()
	if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
	}

	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	if verbose {
		cfg.Level.SetLevel(zap.DebugLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
