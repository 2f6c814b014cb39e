package services

import (
	"fmt"

	"airnode/config"
	"airnode/models"
)

type AnomalyDetector struct {
	config *config.Config
}

func NewAnomalyDetector(cfg *config.Config) *AnomalyDetector {
	return &AnomalyDetector{
		config: cfg,
	}
}

// DetectAnomalies checks a reading against the configured ranges.
// Fields missing from the reading are not checked.
func (ad *AnomalyDetector) DetectAnomalies(reading *models.SensorReading) []*models.Anomaly {
	var anomalies []*models.Anomaly
	ts := reading.Time()

	add := func(t models.AnomalyType, value, threshold float64, description string) {
		anomalies = append(anomalies, &models.Anomaly{
			Type:        t,
			Value:       value,
			Threshold:   threshold,
			DeviceID:    reading.DeviceID,
			Timestamp:   ts,
			Description: description,
		})
	}

	// Check temperature anomalies
	if temp, ok := reading.Fields[models.FieldTemperature]; ok {
		if temp > ad.config.TemperatureMax {
			add(models.TemperatureTooHigh, temp, ad.config.TemperatureMax,
				fmt.Sprintf("Temperature %.1f°C exceeds maximum threshold of %.1f°C", temp, ad.config.TemperatureMax))
		}
		if temp < ad.config.TemperatureMin {
			add(models.TemperatureTooLow, temp, ad.config.TemperatureMin,
				fmt.Sprintf("Temperature %.1f°C is below minimum threshold of %.1f°C", temp, ad.config.TemperatureMin))
		}
	}

	// Check humidity anomalies
	if hum, ok := reading.Fields[models.FieldHumidity]; ok {
		if hum > ad.config.HumidityMax {
			add(models.HumidityTooHigh, hum, ad.config.HumidityMax,
				fmt.Sprintf("Humidity %.1f%% exceeds maximum threshold of %.1f%%", hum, ad.config.HumidityMax))
		}
		if hum < ad.config.HumidityMin {
			add(models.HumidityTooLow, hum, ad.config.HumidityMin,
				fmt.Sprintf("Humidity %.1f%% is below minimum threshold of %.1f%%", hum, ad.config.HumidityMin))
		}
	}

	// Check CO2 anomalies
	if co2, ok := reading.Fields[models.FieldCO2]; ok && co2 > ad.config.CO2Max {
		add(models.CO2TooHigh, co2, ad.config.CO2Max,
			fmt.Sprintf("CO2 %.0f ppm exceeds maximum threshold of %.0f ppm", co2, ad.config.CO2Max))
	}

	// A node that keeps substituting values is reporting stale data
	if errs := float64(reading.SensorErrors); errs > ad.config.SensorErrorMax {
		add(models.SensorErrorsHigh, errs, ad.config.SensorErrorMax,
			fmt.Sprintf("%d failed sensor reads in one cycle (max %.0f)", reading.SensorErrors, ad.config.SensorErrorMax))
	}

	return anomalies
}

// IsAnomalous returns true if any anomalies are detected
func (ad *AnomalyDetector) IsAnomalous(reading *models.SensorReading) bool {
	return len(ad.DetectAnomalies(reading)) > 0
}
