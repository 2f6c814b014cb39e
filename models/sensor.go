package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Well-known reading fields sent by the node
const (
	FieldTemperature   = "temperature"
	FieldHumidity      = "humidity"
	FieldPressure      = "pressure"
	FieldGasResistance = "gas_resistance"
	FieldCO2           = "co2"
)

// SensorReading is one collection cycle of sensor values.
// On the wire the Fields are flattened into the top-level JSON object:
//
//	{"device_id":"node-1","timestamp":1700000000,"temperature":21.5,"sensor_errors":0}
type SensorReading struct {
	DeviceID     string
	Timestamp    uint64
	Fields       map[string]float64
	SensorErrors uint32
}

// Time returns the reading timestamp as time.Time
func (r SensorReading) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0)
}

// FieldNames returns the field names in sorted order
func (r SensorReading) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	for name := range r.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var reservedReadingKeys = map[string]bool{
	"device_id":     true,
	"timestamp":     true,
	"sensor_errors": true,
}

func (r SensorReading) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Fields)+3)
	for name, value := range r.Fields {
		if reservedReadingKeys[name] {
			return nil, fmt.Errorf("sensor field %q collides with a reserved key", name)
		}
		out[name] = value
	}
	out["device_id"] = r.DeviceID
	out["timestamp"] = r.Timestamp
	out["sensor_errors"] = r.SensorErrors
	return json.Marshal(out)
}

func (r *SensorReading) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var reading SensorReading
	if v, ok := raw["device_id"]; ok {
		if err := json.Unmarshal(v, &reading.DeviceID); err != nil {
			return fmt.Errorf("device_id: %w", err)
		}
	}
	if v, ok := raw["timestamp"]; ok {
		if err := json.Unmarshal(v, &reading.Timestamp); err != nil {
			return fmt.Errorf("timestamp: %w", err)
		}
	}
	if v, ok := raw["sensor_errors"]; ok {
		if err := json.Unmarshal(v, &reading.SensorErrors); err != nil {
			return fmt.Errorf("sensor_errors: %w", err)
		}
	}

	reading.Fields = make(map[string]float64)
	for key, v := range raw {
		if reservedReadingKeys[key] {
			continue
		}
		var value float64
		if err := json.Unmarshal(v, &value); err != nil {
			return fmt.Errorf("field %s is not numeric: %w", key, err)
		}
		reading.Fields[key] = value
	}

	*r = reading
	return nil
}

// Collector response statuses
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// CollectorResponse is the single reply the collector writes per payload
type CollectorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// AnomalyType represents different types of anomalies
type AnomalyType string

const (
	TemperatureTooHigh AnomalyType = "temperature_high"
	TemperatureTooLow  AnomalyType = "temperature_low"
	HumidityTooHigh    AnomalyType = "humidity_high"
	HumidityTooLow     AnomalyType = "humidity_low"
	CO2TooHigh         AnomalyType = "co2_high"
	SensorErrorsHigh   AnomalyType = "sensor_errors_high"
)

// Anomaly represents a detected anomaly
type Anomaly struct {
	Type        AnomalyType `json:"type"`
	Value       float64     `json:"value"`
	Threshold   float64     `json:"threshold"`
	DeviceID    string      `json:"device_id"`
	Timestamp   time.Time   `json:"timestamp"`
	Description string      `json:"description"`
}

// Severity returns the alert severity for this anomaly type
func (a *Anomaly) Severity() string {
	switch a.Type {
	case CO2TooHigh, TemperatureTooHigh:
		return "high"
	case TemperatureTooLow, HumidityTooLow, HumidityTooHigh:
		return "medium"
	case SensorErrorsHigh:
		return "low"
	default:
		return "unknown"
	}
}
