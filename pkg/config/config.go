package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the complete ACS configuration, assembled from the YAML file
// with environment variable overrides applied on top.
type Config struct {
	Server   ServerConfig
	ACS      ACSConfig
	Database DatabaseConfig
	Kafka    KafkaConfig
}

// ServerConfig holds the listener configuration
type ServerConfig struct {
	ACSPort      int    // CWMP endpoint (device-facing)
	OpsPort      int    // health/status/metrics/devices (operator-facing)
	ReadTimeout  string // parsed with time.ParseDuration by the caller
	WriteTimeout string
	IdleTimeout  string
}

// ACSConfig holds protocol-level settings for the CWMP engine
type ACSConfig struct {
	Username        string
	Password        string
	AuthEnabled     bool
	SessionTimeout  string // idle time before an abandoned session is swept
	OnlineWindow    string // lastInform freshness window for online inference
	MaxBodyBytes    int64
	TaskMaxAttempts int
	JanitorInterval string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string // "postgres" or "sqlite"
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	Path     string // sqlite only
}

// KafkaConfig holds event publishing configuration. An empty broker list
// disables publishing entirely.
type KafkaConfig struct {
	Brokers  []string
	Producer KafkaProducerConfig
	Topics   KafkaTopics
}

// KafkaProducerConfig holds producer tuning knobs
type KafkaProducerConfig struct {
	Acks           string
	Compression    string
	MaxRetries     int
	RetryBackoffMs int
	LingerMs       int
}

// KafkaTopics names the event topics
type KafkaTopics struct {
	DeviceSeen    string `yaml:"device_seen"`
	TaskCompleted string `yaml:"task_completed"`
}

// yamlConfig mirrors the structure of configs/opencwmp.yml
type yamlConfig struct {
	Server struct {
		ACSPort      int    `yaml:"acs_port"`
		OpsPort      int    `yaml:"ops_port"`
		ReadTimeout  string `yaml:"read_timeout"`
		WriteTimeout string `yaml:"write_timeout"`
		IdleTimeout  string `yaml:"idle_timeout"`
	} `yaml:"server"`

	ACS struct {
		Username        string `yaml:"username"`
		Password        string `yaml:"password"`
		AuthEnabled     bool   `yaml:"auth_enabled"`
		SessionTimeout  string `yaml:"session_timeout"`
		OnlineWindow    string `yaml:"online_window"`
		MaxBodyBytes    int64  `yaml:"max_body_bytes"`
		TaskMaxAttempts int    `yaml:"task_max_attempts"`
		JanitorInterval string `yaml:"janitor_interval"`
	} `yaml:"acs"`

	Database struct {
		Driver   string `yaml:"driver"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
		Path     string `yaml:"path"`
	} `yaml:"database"`

	Kafka struct {
		Brokers  []string `yaml:"brokers"`
		Producer struct {
			Acks           string `yaml:"acks"`
			Compression    string `yaml:"compression"`
			MaxRetries     int    `yaml:"max_retries"`
			RetryBackoffMs int    `yaml:"retry_backoff_ms"`
			LingerMs       int    `yaml:"linger_ms"`
		} `yaml:"producer"`
		Topics KafkaTopics `yaml:"topics"`
	} `yaml:"kafka"`
}

// loadYAMLConfig loads configuration from the YAML file
func loadYAMLConfig(configPath string) (*yamlConfig, error) {
	if configPath == "" {
		configPath = "configs/opencwmp.yml"
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return &yc, nil
}

// Load loads configuration from the default YAML file with environment
// variable overrides.
func Load() *Config {
	return LoadWithPath("")
}

// LoadWithPath loads configuration from the specified YAML file with
// environment variable overrides. A missing file degrades to defaults
// plus environment, never a hard failure.
func LoadWithPath(configPath string) *Config {
	// Pick up a local .env if present; ignore absence
	_ = godotenv.Load()

	yc, err := loadYAMLConfig(configPath)
	if err != nil {
		fmt.Printf("Warning: failed to load YAML config (%v), using environment variables only\n", err)
		yc = &yamlConfig{}
	}

	cfg := &Config{
		Server: ServerConfig{
			ACSPort:      yc.Server.ACSPort,
			OpsPort:      yc.Server.OpsPort,
			ReadTimeout:  yc.Server.ReadTimeout,
			WriteTimeout: yc.Server.WriteTimeout,
			IdleTimeout:  yc.Server.IdleTimeout,
		},
		ACS: ACSConfig{
			Username:        yc.ACS.Username,
			Password:        yc.ACS.Password,
			AuthEnabled:     yc.ACS.AuthEnabled,
			SessionTimeout:  yc.ACS.SessionTimeout,
			OnlineWindow:    yc.ACS.OnlineWindow,
			MaxBodyBytes:    yc.ACS.MaxBodyBytes,
			TaskMaxAttempts: yc.ACS.TaskMaxAttempts,
			JanitorInterval: yc.ACS.JanitorInterval,
		},
		Database: DatabaseConfig{
			Driver:   yc.Database.Driver,
			Host:     yc.Database.Host,
			Port:     yc.Database.Port,
			User:     yc.Database.User,
			Password: yc.Database.Password,
			Name:     yc.Database.Name,
			SSLMode:  yc.Database.SSLMode,
			Path:     yc.Database.Path,
		},
		Kafka: KafkaConfig{
			Brokers: yc.Kafka.Brokers,
			Producer: KafkaProducerConfig{
				Acks:           yc.Kafka.Producer.Acks,
				Compression:    yc.Kafka.Producer.Compression,
				MaxRetries:     yc.Kafka.Producer.MaxRetries,
				RetryBackoffMs: yc.Kafka.Producer.RetryBackoffMs,
				LingerMs:       yc.Kafka.Producer.LingerMs,
			},
			Topics: yc.Kafka.Topics,
		},
	}

	cfg.applyDefaults()
	cfg.applyEnvironmentOverrides()

	return cfg
}

// applyDefaults fills in values the YAML file did not provide
func (c *Config) applyDefaults() {
	if c.Server.ACSPort == 0 {
		c.Server.ACSPort = 7547
	}
	if c.Server.OpsPort == 0 {
		c.Server.OpsPort = 9090
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "30s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "30s"
	}
	if c.Server.IdleTimeout == "" {
		c.Server.IdleTimeout = "120s"
	}
	if c.ACS.SessionTimeout == "" {
		c.ACS.SessionTimeout = "60s"
	}
	if c.ACS.OnlineWindow == "" {
		c.ACS.OnlineWindow = "15m"
	}
	if c.ACS.MaxBodyBytes == 0 {
		c.ACS.MaxBodyBytes = 2 << 20 // 2 MiB, generous for Inform parameter lists
	}
	if c.ACS.TaskMaxAttempts == 0 {
		c.ACS.TaskMaxAttempts = 5
	}
	if c.ACS.JanitorInterval == "" {
		c.ACS.JanitorInterval = "30s"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "opencwmp"
	}
	if c.Database.Name == "" {
		c.Database.Name = "opencwmp_db"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.Path == "" {
		c.Database.Path = "opencwmp.db"
	}
	if c.Kafka.Producer.Acks == "" {
		c.Kafka.Producer.Acks = "all"
	}
	if c.Kafka.Producer.Compression == "" {
		c.Kafka.Producer.Compression = "snappy"
	}
	if c.Kafka.Topics.DeviceSeen == "" {
		c.Kafka.Topics.DeviceSeen = "opencwmp.device.seen"
	}
	if c.Kafka.Topics.TaskCompleted == "" {
		c.Kafka.Topics.TaskCompleted = "opencwmp.task.completed"
	}
}

// applyEnvironmentOverrides lets environment variables win over YAML values
func (c *Config) applyEnvironmentOverrides() {
	overrideInt(&c.Server.ACSPort, "OPENCWMP_ACS_PORT")
	overrideInt(&c.Server.OpsPort, "OPENCWMP_OPS_PORT")
	overrideString(&c.ACS.Username, "OPENCWMP_ACS_USERNAME")
	overrideString(&c.ACS.Password, "OPENCWMP_ACS_PASSWORD")
	overrideBool(&c.ACS.AuthEnabled, "OPENCWMP_ACS_AUTH_ENABLED")
	overrideString(&c.ACS.SessionTimeout, "OPENCWMP_SESSION_TIMEOUT")
	overrideString(&c.ACS.OnlineWindow, "OPENCWMP_ONLINE_WINDOW")
	overrideString(&c.Database.Driver, "OPENCWMP_DB_DRIVER")
	overrideString(&c.Database.Host, "OPENCWMP_DB_HOST")
	overrideInt(&c.Database.Port, "OPENCWMP_DB_PORT")
	overrideString(&c.Database.User, "OPENCWMP_DB_USER")
	overrideString(&c.Database.Password, "OPENCWMP_DB_PASSWORD")
	overrideString(&c.Database.Name, "OPENCWMP_DB_NAME")
	overrideString(&c.Database.SSLMode, "OPENCWMP_DB_SSLMODE")
	overrideString(&c.Database.Path, "OPENCWMP_DB_PATH")

	if brokers := os.Getenv("OPENCWMP_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers)
	}
}

func overrideString(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func overrideInt(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		}
	}
}

func overrideBool(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*target = b
		}
	}
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
