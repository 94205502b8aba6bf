package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	libconfig "chargehub/backend/libs/config"
	"chargehub/backend/services/csms/internal/integrity"
)

// Config defines CSMS configuration.
type Config struct {
	HTTP struct {
		Port         string        `yaml:"port" env:"CSMS_HTTP_PORT"`
		WriteTimeout time.Duration `yaml:"writeTimeout" env:"CSMS_HTTP_WRITE_TIMEOUT"`
	} `yaml:"http"`
	OCPP struct {
		Port              string        `yaml:"port" env:"CSMS_OCPP_PORT"`
		HeartbeatInterval time.Duration `yaml:"heartbeatInterval" env:"CSMS_HEARTBEAT_INTERVAL"`
		CommandTimeout    time.Duration `yaml:"commandTimeout" env:"CSMS_COMMAND_TIMEOUT"`
		BootConfigTimeout time.Duration `yaml:"bootConfigTimeout" env:"CSMS_BOOT_CONFIG_TIMEOUT"`
		CommandHistory    int           `yaml:"commandHistory" env:"CSMS_COMMAND_HISTORY"`
		AllowedIDTags     []string      `yaml:"allowedIdTags" env:"CSMS_ALLOWED_ID_TAGS"`
	} `yaml:"ocpp"`
	WebSocket struct {
		PingInterval time.Duration `yaml:"pingInterval" env:"CSMS_PING_INTERVAL"`
		WriteTimeout time.Duration `yaml:"writeTimeout" env:"CSMS_WRITE_TIMEOUT"`
		ReadTimeout  time.Duration `yaml:"readTimeout" env:"CSMS_READ_TIMEOUT"`
	} `yaml:"websocket"`
	Watchdog struct {
		Enabled bool          `yaml:"enabled" env:"CSMS_WATCHDOG_ENABLED"`
		Timeout time.Duration `yaml:"timeout" env:"CSMS_WATCHDOG_TIMEOUT"`
	} `yaml:"watchdog"`
	AutoStop struct {
		Enabled     bool          `yaml:"enabled" env:"CSMS_AUTOSTOP_ENABLED"`
		ThresholdKW float64       `yaml:"thresholdKw" env:"CSMS_AUTOSTOP_THRESHOLD_KW"`
		Duration    time.Duration `yaml:"duration" env:"CSMS_AUTOSTOP_DURATION"`
	} `yaml:"autoStop"`
	Auth struct {
		APIKey     string        `yaml:"apiKey" env:"CSMS_API_KEY"`
		APIKeyHash string        `yaml:"apiKeyHash" env:"CSMS_API_KEY_HASH"`
		JWTSecret  string        `yaml:"jwtSecret" env:"CSMS_JWT_SECRET"`
		TokenTTL   time.Duration `yaml:"tokenTtl" env:"CSMS_TOKEN_TTL"`
	} `yaml:"auth"`
	Integrity struct {
		Mode string `yaml:"mode" env:"CSMS_INTEGRITY_MODE"`
	} `yaml:"integrity"`
	Database struct {
		DSN     string `yaml:"dsn" env:"CSMS_POSTGRES_DSN"`
		Migrate bool   `yaml:"migrate" env:"CSMS_POSTGRES_MIGRATE"`
	} `yaml:"database"`
	Redis struct {
		Addr     string        `yaml:"addr" env:"CSMS_REDIS_ADDR"`
		Password string        `yaml:"password" env:"CSMS_REDIS_PASSWORD"`
		DB       int           `yaml:"db" env:"CSMS_REDIS_DB"`
		Prefix   string        `yaml:"prefix" env:"CSMS_REDIS_PREFIX"`
		TTL      time.Duration `yaml:"ttl" env:"CSMS_REDIS_TTL"`
	} `yaml:"redis"`
	MQTT struct {
		BrokerURL    string `yaml:"brokerUrl" env:"CSMS_MQTT_BROKER"`
		Username     string `yaml:"username" env:"CSMS_MQTT_USERNAME"`
		Password     string `yaml:"password" env:"CSMS_MQTT_PASSWORD"`
		ClientID     string `yaml:"clientId" env:"CSMS_MQTT_CLIENT_ID"`
		TopicPrefix  string `yaml:"topicPrefix" env:"CSMS_MQTT_TOPIC_PREFIX"`
		QoS          int    `yaml:"qos" env:"CSMS_MQTT_QOS"`
		MeterSamples bool   `yaml:"meterSamples" env:"CSMS_MQTT_METER_SAMPLES"`
	} `yaml:"mqtt"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	cfg := &Config{}
	cfg.HTTP.Port = "8080"
	cfg.HTTP.WriteTimeout = 30 * time.Second
	cfg.OCPP.Port = "9000"
	cfg.OCPP.HeartbeatInterval = 300 * time.Second
	cfg.OCPP.CommandTimeout = 10 * time.Second
	cfg.OCPP.BootConfigTimeout = 10 * time.Second
	cfg.OCPP.CommandHistory = 1024
	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.WriteTimeout = 15 * time.Second
	cfg.WebSocket.ReadTimeout = 90 * time.Second
	cfg.Watchdog.Enabled = true
	cfg.Watchdog.Timeout = 90 * time.Second
	cfg.AutoStop.Enabled = true
	cfg.AutoStop.ThresholdKW = 0.8
	cfg.AutoStop.Duration = 180 * time.Second
	cfg.Auth.TokenTTL = time.Hour
	cfg.Integrity.Mode = string(integrity.ModeLog)
	cfg.Database.Migrate = true
	cfg.Redis.Prefix = "csms"
	cfg.Redis.TTL = 24 * time.Hour
	cfg.MQTT.ClientID = "csms"
	cfg.MQTT.TopicPrefix = "csms"
	cfg.MQTT.QoS = 1
	return cfg
}

// Load uses shared config loader and validates required fields.
func Load() (*Config, error) {
	return load(nil)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	var err error
	if lookup == nil {
		err = libconfig.LoadConfig(cfg)
	} else {
		err = libconfig.LoadConfigWithLookup(cfg, lookup)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Auth.APIKey) == "" && strings.TrimSpace(c.Auth.APIKeyHash) == "" {
		return errors.New("config: api key or api key hash is required")
	}
	if _, err := integrity.ParseMode(c.Integrity.Mode); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.AutoStop.ThresholdKW < 0 {
		return errors.New("config: auto-stop threshold must not be negative")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("config: mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

// HTTPAddress returns :port style address of the control API.
func (c *Config) HTTPAddress() string {
	return address(c.HTTP.Port, "8080")
}

// OCPPAddress returns :port style address of the station endpoint.
func (c *Config) OCPPAddress() string {
	return address(c.OCPP.Port, "9000")
}

// IntegrityMode returns the parsed integrity policy.
func (c *Config) IntegrityMode() integrity.Mode {
	mode, err := integrity.ParseMode(c.Integrity.Mode)
	if err != nil {
		return integrity.ModeLog
	}
	return mode
}

// TokenSecret signs Bearer tokens. It falls back to the plain api key.
func (c *Config) TokenSecret() string {
	if s := strings.TrimSpace(c.Auth.JWTSecret); s != "" {
		return s
	}
	return strings.TrimSpace(c.Auth.APIKey)
}

// PingInterval returns websocket ping interval.
func (c *Config) PingInterval() time.Duration {
	return orDefault(c.WebSocket.PingInterval, 30*time.Second)
}

// WriteTimeout returns websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return orDefault(c.WebSocket.WriteTimeout, 15*time.Second)
}

// ReadTimeout bounds the wait for any frame or pong. It never drops below twice the ping interval.
func (c *Config) ReadTimeout() time.Duration {
	timeout := orDefault(c.WebSocket.ReadTimeout, 90*time.Second)
	if floor := 2 * c.PingInterval(); timeout < floor {
		timeout = floor
	}
	return timeout
}

// CommandTimeout bounds one outbound command round trip.
func (c *Config) CommandTimeout() time.Duration {
	return orDefault(c.OCPP.CommandTimeout, 10*time.Second)
}

func address(port, fallback string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		port = fallback
	}
	if strings.Contains(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

func orDefault(v, fallback time.Duration) time.Duration {
	if v <= 0 {
		return fallback
	}
	return v
}
