package services

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SupervisorContext carries the collaborators every node component shares.
// It is built once at startup and passed by reference.
type SupervisorContext struct {
	Logger    *zap.Logger
	Scheduler *Scheduler
	Metrics   *Metrics
	DeviceID  string
	BootID    string
}

// NewSupervisorContext creates the shared context. A nil logger is replaced with a no-op one.
func NewSupervisorContext(logger *zap.Logger, sched *Scheduler, metrics *Metrics, deviceID string) *SupervisorContext {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sched == nil {
		sched = NewScheduler(RealClock(), DefaultTick)
	}
	return &SupervisorContext{
		Logger:    logger.With(zap.String("device_id", deviceID)),
		Scheduler: sched,
		Metrics:   metrics,
		DeviceID:  deviceID,
		BootID:    uuid.NewString(),
	}
}
