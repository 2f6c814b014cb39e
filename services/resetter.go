package services

import (
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
)

// Resetter performs the irreversible device reset. On hardware Reset never returns.
type Resetter interface {
	Reset(reason string) error
}

// ExecResetter restarts the node process in place, the host analogue of a reboot.
// If the re-exec fails the process exits so a service manager can restart it.
type ExecResetter struct {
	logger *zap.Logger
	exec   func(argv0 string, argv []string, envv []string) error
	exit   func(code int)
}

// NewExecResetter creates a resetter that re-executes the running binary
func NewExecResetter(logger *zap.Logger) *ExecResetter {
	return &ExecResetter{
		logger: logger.Named("reset"),
		exec:   syscall.Exec,
		exit:   os.Exit,
	}
}

func (r *ExecResetter) Reset(reason string) error {
	r.logger.Warn("Resetting node", zap.String("reason", reason))
	_ = r.logger.Sync()

	binary, err := os.Executable()
	if err == nil {
		err = r.exec(binary, os.Args, os.Environ())
	}

	r.logger.Error("Re-exec failed, exiting", zap.Error(err))
	_ = r.logger.Sync()
	r.exit(1)
	return fmt.Errorf("reset failed: %w", err)
}
