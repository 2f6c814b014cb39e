package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"airnode/models"

	"go.uber.org/zap"
)

// WebhookAlertService posts anomaly alerts to an HTTP endpoint, e.g. a siren
// controller or a building management system
type WebhookAlertService struct {
	logger     *zap.Logger
	url        string
	httpClient *http.Client
}

// WebhookAlertPayload is the JSON body of an alert
type WebhookAlertPayload struct {
	Reading   *models.SensorReading `json:"reading"`
	Anomalies []*models.Anomaly     `json:"anomalies"`
	Severity  string                `json:"severity"`
	AlertType string                `json:"alert_type"`
}

// NewWebhookAlertService creates a webhook alerter for url
func NewWebhookAlertService(logger *zap.Logger, url string) *WebhookAlertService {
	return &WebhookAlertService{
		logger: logger.Named("webhook"),
		url:    url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SendAnomalyAlert posts the anomalies of one reading
func (h *WebhookAlertService) SendAnomalyAlert(anomalies []*models.Anomaly, reading *models.SensorReading) error {
	if len(anomalies) == 0 {
		return nil
	}

	severity := highestSeverity(anomalies)
	payload := WebhookAlertPayload{
		Reading:   reading,
		Anomalies: anomalies,
		Severity:  severity,
		AlertType: "sensor_anomaly",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, h.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "airnode-collector/1.0")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		h.logger.Error("Failed to send webhook alert",
			zap.Error(err),
			zap.String("device_id", reading.DeviceID))
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		h.logger.Info("Webhook alert sent",
			zap.String("device_id", reading.DeviceID),
			zap.Int("anomaly_count", len(anomalies)),
			zap.String("severity", severity),
			zap.Int("status_code", resp.StatusCode))
		return nil
	}

	h.logger.Error("Webhook alert endpoint returned error",
		zap.String("device_id", reading.DeviceID),
		zap.Int("status_code", resp.StatusCode),
		zap.String("status", resp.Status))
	return fmt.Errorf("webhook alert error: %s", resp.Status)
}

// highestSeverity returns the most severe level among anomalies
func highestSeverity(anomalies []*models.Anomaly) string {
	rank := map[string]int{"low": 1, "medium": 2, "high": 3}
	best := "low"
	for _, a := range anomalies {
		if s := a.Severity(); rank[s] > rank[best] {
			best = s
		}
	}
	return best
}
