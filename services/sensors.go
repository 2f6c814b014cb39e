package services

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"airnode/models"

	"go.uber.org/zap"
)

// SensorDriver reads one physical sensor
type SensorDriver interface {
	Name() string
	Read() (map[string]float64, error)
}

// SensorCollector builds a reading from every driver. A failed driver's fields are
// filled with its last good values and counted in sensor_errors.
type SensorCollector struct {
	deviceID string
	drivers  []SensorDriver
	sched    *Scheduler
	logger   *zap.Logger

	lastGood map[string]map[string]float64
}

// NewSensorCollector creates a collector over drivers
func NewSensorCollector(sctx *SupervisorContext, drivers ...SensorDriver) *SensorCollector {
	return &SensorCollector{
		deviceID: sctx.DeviceID,
		drivers:  drivers,
		sched:    sctx.Scheduler,
		logger:   sctx.Logger.Named("sensors"),
		lastGood: make(map[string]map[string]float64),
	}
}

// Collect reads all drivers. The returned faults are tagged with the sensor's kind.
func (c *SensorCollector) Collect() (*models.SensorReading, []error) {
	reading := &models.SensorReading{
		DeviceID:  c.deviceID,
		Timestamp: uint64(c.sched.Now().Unix()),
		Fields:    make(map[string]float64),
	}

	var faults []error
	for _, d := range c.drivers {
		values, err := d.Read()
		c.sched.Yield()
		if err == nil {
			err = checkFinite(values)
		}

		if err != nil {
			reading.SensorErrors++
			faults = append(faults, sensorFault(d.Name(), err))

			last, ok := c.lastGood[d.Name()]
			c.logger.Warn("Sensor read failed",
				zap.String("sensor", d.Name()),
				zap.Bool("substituted", ok),
				zap.Error(err))
			for k, v := range last {
				reading.Fields[k] = v
			}
			continue
		}

		good := make(map[string]float64, len(values))
		for k, v := range values {
			reading.Fields[k] = v
			good[k] = v
		}
		c.lastGood[d.Name()] = good
	}

	return reading, faults
}

// checkFinite rejects NaN and infinite values, which cannot be encoded on the wire
func checkFinite(values map[string]float64) error {
	for k, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite value %v for %s", v, k)
		}
	}
	return nil
}

func sensorFault(name string, err error) error {
	var fault *models.Fault
	if errors.As(err, &fault) {
		return err
	}
	kind := models.KindSensor
	if n := strings.ToLower(name); strings.Contains(n, "co2") || strings.Contains(n, "mhz19") {
		kind = models.KindCo2Sensor
	}
	return models.NewFault(kind, "sensor."+name, err)
}
