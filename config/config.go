package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvConfigFile names an optional YAML file applied before environment overrides
const EnvConfigFile = "AIRNODE_CONFIG"

// Config is the startup configuration for the node and the reference collector.
// The node core never reads it directly; cmd/ wires these values into constructors.
type Config struct {
	// Node identity and radio
	DeviceID    string `yaml:"device_id"`
	WiFiSSID    string `yaml:"wifi_ssid"`
	WiFiPass    string `yaml:"wifi_pass"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Collector peer
	CollectorHost string `yaml:"collector_host"`
	CollectorPort int    `yaml:"collector_port"`

	// Cycle and transmission
	TransmissionInterval time.Duration `yaml:"transmission_interval"`
	TransmissionRetries  int           `yaml:"transmission_retries"`
	ResponseTimeout      time.Duration `yaml:"response_timeout"`
	DialTimeout          time.Duration `yaml:"dial_timeout"`
	ProbeTimeout         time.Duration `yaml:"probe_timeout"`

	// Connection retry policy (base values, strategy derives from them)
	RetryStrategy     string        `yaml:"retry_strategy"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`

	// Fault handling
	ResetThreshold  int           `yaml:"reset_threshold"`
	ErrorWindow     time.Duration `yaml:"error_window"`
	AutoReset       bool          `yaml:"auto_reset"`
	ResetDelay      time.Duration `yaml:"reset_delay"`
	WatchdogTimeout time.Duration `yaml:"watchdog_timeout"`

	// Persistent error log
	ErrorLogPath       string `yaml:"error_log_path"`
	ErrorLogBackend    string `yaml:"error_log_backend"`
	ErrorLogMaxEntries int    `yaml:"error_log_max_entries"`

	// Heartbeats over MQTT (optional)
	MQTTBroker   string `yaml:"mqtt_broker"`
	MQTTUsername string `yaml:"mqtt_username"`
	MQTTPassword string `yaml:"mqtt_password"`
	MQTTTopic    string `yaml:"mqtt_topic"`

	// Reference collector
	CollectorListen    string        `yaml:"collector_listen"`
	HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
	RabbitMQURL        string        `yaml:"rabbitmq_url"`
	RabbitMQExchange   string        `yaml:"rabbitmq_exchange"`
	RabbitMQQueue      string        `yaml:"rabbitmq_queue"`
	ForwardBatchSize   int           `yaml:"forward_batch_size"`
	ForwardBatchWait   time.Duration `yaml:"forward_batch_wait"`
	TelegramBotToken   string        `yaml:"telegram_bot_token"`
	TelegramChatID     string        `yaml:"telegram_chat_id"`
	AlertWebhookURL    string        `yaml:"alert_webhook_url"`

	// Thresholds for anomaly detection on the collector
	TemperatureMin float64 `yaml:"temperature_min"`
	TemperatureMax float64 `yaml:"temperature_max"`
	HumidityMin    float64 `yaml:"humidity_min"`
	HumidityMax    float64 `yaml:"humidity_max"`
	CO2Max         float64 `yaml:"co2_max"`
	SensorErrorMax float64 `yaml:"sensor_error_max"`
}

// Default returns the configuration used when nothing is overridden
func Default() *Config {
	return &Config{
		DeviceID:             "airnode-001",
		WiFiSSID:             "airnode-ap",
		LogLevel:             "info",
		LogFormat:            "json",
		CollectorHost:        "127.0.0.1",
		CollectorPort:        8080,
		TransmissionInterval: 60 * time.Second,
		TransmissionRetries:  3,
		ResponseTimeout:      10 * time.Second,
		DialTimeout:          10 * time.Second,
		ProbeTimeout:         5 * time.Second,
		RetryStrategy:        "standard",
		MaxRetries:           5,
		RetryDelay:           5 * time.Second,
		ConnectionTimeout:    30 * time.Second,
		ResetThreshold:       5,
		ErrorWindow:          300 * time.Second,
		AutoReset:            true,
		ResetDelay:           10 * time.Second,
		WatchdogTimeout:      30 * time.Second,
		ErrorLogPath:         "error_log.txt",
		ErrorLogBackend:      "file",
		ErrorLogMaxEntries:   100,
		MQTTTopic:            "airnode/heartbeat",
		CollectorListen:      ":8080",
		HealthCheckTimeout:   5 * time.Minute,
		RabbitMQExchange:     "airnode",
		RabbitMQQueue:        "sensor_readings",
		ForwardBatchSize:     20,
		ForwardBatchWait:     5 * time.Second,
		TemperatureMin:       -10,
		TemperatureMax:       45,
		HumidityMin:          10,
		HumidityMax:          90,
		CO2Max:               2000,
		SensorErrorMax:       3,
	}
}

// LoadConfig loads defaults, then the optional YAML file, then .env and environment overrides
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := Default()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := config.applyFile(path); err != nil {
			return nil, err
		}
	}

	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DeviceID = getEnv("DEVICE_ID", c.DeviceID)
	c.WiFiSSID = getEnv("WIFI_SSID", c.WiFiSSID)
	c.WiFiPass = getEnv("WIFI_PASS", c.WiFiPass)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)

	c.CollectorHost = getEnv("COLLECTOR_HOST", c.CollectorHost)
	c.CollectorPort = getEnvInt("COLLECTOR_PORT", c.CollectorPort)

	c.TransmissionInterval = getEnvDuration("TRANSMISSION_INTERVAL", c.TransmissionInterval)
	c.TransmissionRetries = getEnvInt("TRANSMISSION_RETRIES", c.TransmissionRetries)
	c.ResponseTimeout = getEnvDuration("RESPONSE_TIMEOUT", c.ResponseTimeout)
	c.DialTimeout = getEnvDuration("DIAL_TIMEOUT", c.DialTimeout)
	c.ProbeTimeout = getEnvDuration("PROBE_TIMEOUT", c.ProbeTimeout)

	c.RetryStrategy = getEnv("RETRY_STRATEGY", c.RetryStrategy)
	c.MaxRetries = getEnvInt("MAX_RETRIES", c.MaxRetries)
	c.RetryDelay = getEnvDuration("RETRY_DELAY", c.RetryDelay)
	c.ConnectionTimeout = getEnvDuration("CONNECTION_TIMEOUT", c.ConnectionTimeout)

	c.ResetThreshold = getEnvInt("RESET_THRESHOLD", c.ResetThreshold)
	c.ErrorWindow = getEnvDuration("ERROR_WINDOW", c.ErrorWindow)
	c.AutoReset = getEnvBool("AUTO_RESET", c.AutoReset)
	c.ResetDelay = getEnvDuration("RESET_DELAY", c.ResetDelay)
	c.WatchdogTimeout = getEnvDuration("WATCHDOG_TIMEOUT", c.WatchdogTimeout)

	c.ErrorLogPath = getEnv("ERROR_LOG_PATH", c.ErrorLogPath)
	c.ErrorLogBackend = getEnv("ERROR_LOG_BACKEND", c.ErrorLogBackend)
	c.ErrorLogMaxEntries = getEnvInt("ERROR_LOG_MAX_ENTRIES", c.ErrorLogMaxEntries)

	c.MQTTBroker = getEnv("MQTT_BROKER", c.MQTTBroker)
	c.MQTTUsername = getEnv("MQTT_USERNAME", c.MQTTUsername)
	c.MQTTPassword = getEnv("MQTT_PASSWORD", c.MQTTPassword)
	c.MQTTTopic = getEnv("MQTT_TOPIC", c.MQTTTopic)

	c.CollectorListen = getEnv("COLLECTOR_LISTEN", c.CollectorListen)
	c.HealthCheckTimeout = getEnvDuration("HEALTH_CHECK_TIMEOUT", c.HealthCheckTimeout)
	c.RabbitMQURL = getEnv("RABBITMQ_URL", c.RabbitMQURL)
	c.RabbitMQExchange = getEnv("RABBITMQ_EXCHANGE", c.RabbitMQExchange)
	c.RabbitMQQueue = getEnv("RABBITMQ_QUEUE", c.RabbitMQQueue)
	c.ForwardBatchSize = getEnvInt("FORWARD_BATCH_SIZE", c.ForwardBatchSize)
	c.ForwardBatchWait = getEnvDuration("FORWARD_BATCH_WAIT", c.ForwardBatchWait)
	c.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", c.TelegramChatID)
	c.AlertWebhookURL = getEnv("ALERT_WEBHOOK_URL", c.AlertWebhookURL)

	c.TemperatureMin = getEnvFloat("TEMPERATURE_MIN", c.TemperatureMin)
	c.TemperatureMax = getEnvFloat("TEMPERATURE_MAX", c.TemperatureMax)
	c.HumidityMin = getEnvFloat("HUMIDITY_MIN", c.HumidityMin)
	c.HumidityMax = getEnvFloat("HUMIDITY_MAX", c.HumidityMax)
	c.CO2Max = getEnvFloat("CO2_MAX", c.CO2Max)
	c.SensorErrorMax = getEnvFloat("SENSOR_ERROR_MAX", c.SensorErrorMax)
}

// Validate rejects values the node cannot run with
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return errors.New("device id cannot be empty")
	}
	if c.CollectorPort < 1 || c.CollectorPort > 65535 {
		return fmt.Errorf("invalid collector port: %d", c.CollectorPort)
	}
	if c.TransmissionRetries < 1 {
		return errors.New("transmission retries must be at least 1")
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.ConnectionTimeout <= 0 {
		return errors.New("connection timeout must be positive")
	}
	if c.ResetThreshold < 1 {
		return errors.New("reset threshold must be at least 1")
	}
	if c.ErrorWindow <= 0 {
		return errors.New("error window must be positive")
	}
	if c.WatchdogTimeout < time.Second {
		return errors.New("watchdog timeout must be at least 1s")
	}
	// blocking socket calls cannot yield, so each has to finish before the watchdog fires
	for _, span := range []struct {
		name    string
		timeout time.Duration
	}{
		{"dial", c.DialTimeout},
		{"probe", c.ProbeTimeout},
		{"response", c.ResponseTimeout},
	} {
		if span.timeout <= 0 {
			return fmt.Errorf("%s timeout must be positive", span.name)
		}
		if span.timeout >= c.WatchdogTimeout {
			return fmt.Errorf("%s timeout %v must be shorter than watchdog timeout %v", span.name, span.timeout, c.WatchdogTimeout)
		}
	}
	if c.ErrorLogMaxEntries < 1 {
		return errors.New("error log must keep at least one entry")
	}
	switch strings.ToLower(c.RetryStrategy) {
	case "standard", "aggressive", "conservative":
	default:
		return fmt.Errorf("unknown retry strategy %q", c.RetryStrategy)
	}
	switch strings.ToLower(c.ErrorLogBackend) {
	case "file", "bolt":
	default:
		return fmt.Errorf("unknown error log backend %q", c.ErrorLogBackend)
	}
	return nil
}

// CollectorAddr returns host:port of the collector peer
func (c *Config) CollectorAddr() string {
	return fmt.Sprintf("%s:%d", c.CollectorHost, c.CollectorPort)
}

// String returns a representation of the config without secrets
func (c *Config) String() string {
	pass := "[not set]"
	if c.WiFiPass != "" {
		pass = "[set]"
	}
	return fmt.Sprintf(
		"Config{DeviceID: %q, SSID: %q, WiFiPass: %s, Collector: %q, Interval: %v, Strategy: %q, ResetThreshold: %d, ErrorWindow: %v, AutoReset: %v}",
		c.DeviceID, c.WiFiSSID, pass, c.CollectorAddr(), c.TransmissionInterval, c.RetryStrategy, c.ResetThreshold, c.ErrorWindow, c.AutoReset,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or plain seconds ("30")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
