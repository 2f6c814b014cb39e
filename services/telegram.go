package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"airnode/config"
	"airnode/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// alertThrottle is the minimum gap between anomaly alerts for one node
const alertThrottle = 15 * time.Second

// Alerter notifies operators about collector-side events
type Alerter interface {
	SendAnomalyAlert(anomalies []*models.Anomaly, reading *models.SensorReading) error
	SendTimeoutAlert(deviceID string, lastSeen time.Time, sinceLastSeen time.Duration, last *models.NodeHeartbeat) error
	SendRecoveryAlert(deviceID string, downDuration time.Duration) error
}

// LogAlerter only logs alerts. It is used when Telegram is not configured.
type LogAlerter struct {
	logger *zap.Logger
}

func NewLogAlerter(logger *zap.Logger) *LogAlerter {
	return &LogAlerter{logger: logger.Named("alerts")}
}

func (a *LogAlerter) SendAnomalyAlert(anomalies []*models.Anomaly, reading *models.SensorReading) error {
	for _, an := range anomalies {
		a.logger.Warn("Anomaly detected",
			zap.String("device_id", an.DeviceID),
			zap.String("type", string(an.Type)),
			zap.String("severity", an.Severity()),
			zap.String("description", an.Description))
	}
	return nil
}

func (a *LogAlerter) SendTimeoutAlert(deviceID string, lastSeen time.Time, sinceLastSeen time.Duration, _ *models.NodeHeartbeat) error {
	a.logger.Warn("Node timed out",
		zap.String("device_id", deviceID),
		zap.Time("last_seen", lastSeen),
		zap.Duration("since_last_seen", sinceLastSeen))
	return nil
}

func (a *LogAlerter) SendRecoveryAlert(deviceID string, downDuration time.Duration) error {
	a.logger.Info("Node recovered",
		zap.String("device_id", deviceID),
		zap.Duration("down_duration", downDuration))
	return nil
}

type TelegramService struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	logger         *zap.Logger
	mu             sync.Mutex
	lastAlertTimes map[string]time.Time // Track last alert time per device
}

func NewTelegramService(cfg *config.Config, logger *zap.Logger) (*TelegramService, error) {
	logger = logger.Named("telegram")

	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	chatID, err := strconv.ParseInt(cfg.TelegramChatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	ts := &TelegramService{
		bot:            bot,
		chatID:         chatID,
		logger:         logger,
		lastAlertTimes: make(map[string]time.Time),
	}

	if err := ts.testConnection(); err != nil {
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}
	return ts, nil
}

// testConnection tests Telegram connection with retry logic
func (ts *TelegramService) testConnection() error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err := ts.bot.GetMe()
		if err == nil {
			ts.logger.Info("Telegram connection successful")
			return nil
		}

		ts.logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

// SendAnomalyAlert sends an anomaly alert, at most one per node every 15 seconds
func (ts *TelegramService) SendAnomalyAlert(anomalies []*models.Anomaly, reading *models.SensorReading) error {
	if len(anomalies) == 0 {
		return nil
	}

	ts.mu.Lock()
	last, seen := ts.lastAlertTimes[reading.DeviceID]
	if seen && time.Since(last) < alertThrottle {
		ts.mu.Unlock()
		ts.logger.Debug("Throttling alert", zap.String("device_id", reading.DeviceID))
		return nil
	}
	ts.lastAlertTimes[reading.DeviceID] = time.Now()
	ts.mu.Unlock()

	if err := ts.send(formatAnomalyMessage(anomalies, reading)); err != nil {
		return fmt.Errorf("error sending anomaly alert: %w", err)
	}

	ts.logger.Info("Sent anomaly alert",
		zap.String("device_id", reading.DeviceID),
		zap.Int("anomaly_count", len(anomalies)))
	return nil
}

// SendTimeoutAlert reports a node that stopped sending
func (ts *TelegramService) SendTimeoutAlert(deviceID string, lastSeen time.Time, sinceLastSeen time.Duration, last *models.NodeHeartbeat) error {
	if err := ts.send(formatTimeoutMessage(deviceID, lastSeen, sinceLastSeen, last)); err != nil {
		return fmt.Errorf("error sending timeout alert: %w", err)
	}
	ts.logger.Info("Sent timeout alert",
		zap.String("device_id", deviceID),
		zap.Duration("time_since_last_seen", sinceLastSeen))
	return nil
}

// SendRecoveryAlert reports a node that is back after a timeout
func (ts *TelegramService) SendRecoveryAlert(deviceID string, downDuration time.Duration) error {
	var sb strings.Builder
	sb.WriteString("✅ <b>NODE RECOVERED</b>\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", deviceID))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n", formatDuration(downDuration)))

	if err := ts.send(sb.String()); err != nil {
		return fmt.Errorf("error sending recovery alert: %w", err)
	}
	ts.logger.Info("Sent recovery alert",
		zap.String("device_id", deviceID),
		zap.Duration("down_duration", downDuration))
	return nil
}

// SendStatusMessage sends a general status message
func (ts *TelegramService) SendStatusMessage(message string) error {
	return ts.send(message)
}

func (ts *TelegramService) send(text string) error {
	msg := tgbotapi.NewMessage(ts.chatID, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true
	_, err := ts.bot.Send(msg)
	return err
}

func formatAnomalyMessage(anomalies []*models.Anomaly, reading *models.SensorReading) string {
	var sb strings.Builder

	sb.WriteString("🚨 <b>AIRNODE SENSOR ALERT</b>\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", reading.DeviceID))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n\n", reading.Time().Format("2006-01-02 15:04:05")))

	sb.WriteString("📊 <b>Current Readings:</b>\n")
	for _, name := range reading.FieldNames() {
		sb.WriteString(fmt.Sprintf("  • %s: %g\n", name, reading.Fields[name]))
	}
	sb.WriteString(fmt.Sprintf("  • sensor_errors: %d\n\n", reading.SensorErrors))

	sb.WriteString("⚠️ <b>Detected Issues:</b>\n")
	for _, a := range anomalies {
		sb.WriteString(fmt.Sprintf("[%s] <b>%s</b>\n", strings.ToUpper(a.Severity()), anomalyTitle(a.Type)))
		sb.WriteString(fmt.Sprintf("   └ %s\n", a.Description))
	}
	return sb.String()
}

func formatTimeoutMessage(deviceID string, lastSeen time.Time, sinceLastSeen time.Duration, last *models.NodeHeartbeat) string {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>NODE TIMEOUT</b>\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", deviceID))
	sb.WriteString(fmt.Sprintf("🕐 <b>Last Seen:</b> %s\n", lastSeen.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Silent For:</b> %s\n", formatDuration(sinceLastSeen)))

	if last != nil {
		sb.WriteString("\n📊 <b>Last Heartbeat:</b>\n")
		sb.WriteString(fmt.Sprintf("📡 WiFi: %s\n", formatConnectionStatus(last.WiFiConnected)))
		sb.WriteString(fmt.Sprintf("🔌 MQTT: %s\n", formatConnectionStatus(last.MQTTConnected)))
		sb.WriteString(fmt.Sprintf("⏰ Uptime: %s\n", formatUptime(last.UptimeMs)))
		if last.RSSI != nil {
			sb.WriteString(fmt.Sprintf("📶 RSSI: %d dBm\n", *last.RSSI))
		}
		if last.Status != "" {
			sb.WriteString(fmt.Sprintf("🧾 %s\n", last.Status))
		}
		kinds := make([]string, 0, len(last.ErrorCounts))
		for k := range last.ErrorCounts {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			sb.WriteString(fmt.Sprintf("  • %s: %d\n", k, last.ErrorCounts[models.ErrorKind(k)]))
		}
	}
	return sb.String()
}

func anomalyTitle(t models.AnomalyType) string {
	switch t {
	case models.TemperatureTooHigh:
		return "High Temperature Alert"
	case models.TemperatureTooLow:
		return "Low Temperature Alert"
	case models.HumidityTooHigh:
		return "High Humidity Alert"
	case models.HumidityTooLow:
		return "Low Humidity Alert"
	case models.CO2TooHigh:
		return "High CO2 Alert"
	case models.SensorErrorsHigh:
		return "Sensor Read Failures"
	default:
		return "Sensor Alert"
	}
}

func formatConnectionStatus(connected bool) string {
	if connected {
		return "✅ Connected"
	}
	return "❌ Disconnected"
}

func formatUptime(uptimeMs int64) string {
	return formatDuration(time.Duration(uptimeMs) * time.Millisecond)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
