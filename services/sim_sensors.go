package services

import (
	"errors"
	"math"
	"math/rand"

	"airnode/models"
)

// SimClimateSensor produces BME680-style readings around a base climate.
// With probability AnomalyRate a reading falls outside the normal range,
// with probability FailureRate the read fails.
type SimClimateSensor struct {
	BaseTemp     float64
	BaseHumidity float64
	AnomalyRate  float64
	FailureRate  float64

	rng *rand.Rand
}

// NewSimClimateSensor creates a simulated climate sensor
func NewSimClimateSensor(seed int64, anomalyRate, failureRate float64) *SimClimateSensor {
	return &SimClimateSensor{
		BaseTemp:     27.0, // Base temperature ~27°C
		BaseHumidity: 60.0, // Base humidity ~60%
		AnomalyRate:  anomalyRate,
		FailureRate:  failureRate,
		rng:          rand.New(rand.NewSource(seed)),
	}
}

func (s *SimClimateSensor) Name() string { return "bme680" }

func (s *SimClimateSensor) Read() (map[string]float64, error) {
	if s.rng.Float64() < s.FailureRate {
		return nil, errors.New("bme680 i2c read failed: no ack")
	}

	isAnomaly := s.rng.Float64() < s.AnomalyRate

	temperature := s.BaseTemp + s.rng.Float64()*4.0 - 2.0 // ±2°C variation
	if isAnomaly {
		if s.rng.Float64() < 0.5 {
			temperature = 46.0 + s.rng.Float64()*5.0
		} else {
			temperature = -15.0 + s.rng.Float64()*4.0
		}
	}

	humidity := s.BaseHumidity + s.rng.Float64()*10.0 - 5.0 // ±5% variation
	if isAnomaly && s.rng.Float64() < 0.3 {
		if s.rng.Float64() < 0.5 {
			humidity = 91.0 + s.rng.Float64()*8.0
		} else {
			humidity = 3.0 + s.rng.Float64()*6.0
		}
	}

	pressure := 1013.25 + (s.rng.Float64()-0.5)*6.0
	gas := 50000 + s.rng.Float64()*20000
	if isAnomaly && s.rng.Float64() < 0.2 {
		gas = 5000 + s.rng.Float64()*5000
	}

	return map[string]float64{
		models.FieldTemperature:   round(temperature, 1),
		models.FieldHumidity:      round(humidity, 1),
		models.FieldPressure:      round(pressure, 2),
		models.FieldGasResistance: math.Round(gas),
	}, nil
}

// SimCO2Sensor produces MH-Z19-style CO2 readings in ppm
type SimCO2Sensor struct {
	BasePPM     float64
	AnomalyRate float64
	FailureRate float64

	rng *rand.Rand
}

// NewSimCO2Sensor creates a simulated CO2 sensor
func NewSimCO2Sensor(seed int64, anomalyRate, failureRate float64) *SimCO2Sensor {
	return &SimCO2Sensor{
		BasePPM:     650,
		AnomalyRate: anomalyRate,
		FailureRate: failureRate,
		rng:         rand.New(rand.NewSource(seed)),
	}
}

func (s *SimCO2Sensor) Name() string { return "mhz19" }

func (s *SimCO2Sensor) Read() (map[string]float64, error) {
	if s.rng.Float64() < s.FailureRate {
		return nil, errors.New("mhz19 uart checksum mismatch")
	}
	ppm := s.BasePPM + (s.rng.Float64()-0.5)*150
	if s.rng.Float64() < s.AnomalyRate {
		ppm = 1800 + s.rng.Float64()*1200
	}
	return map[string]float64{models.FieldCO2: math.Round(ppm)}, nil
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
