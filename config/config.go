package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	PickupBox PickupBoxConfig `yaml:"pickupbox"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	StatusChangedTopicName   string `yaml:"status_changed_topic_name"`
	TrackingUpdatedTopicName string `yaml:"tracking_updated_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PickupBoxConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	WorkerHTTPAddr     string `yaml:"worker_http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`

	// Store is "postgres" or "memory". Seed installs the demo neighbourhood.
	Store string `yaml:"store"`
	Seed  bool   `yaml:"seed"`

	JWTSecret       string `yaml:"jwt_secret"`
	JWTIssuer       string `yaml:"jwt_issuer"`
	TokenTTLMinutes int    `yaml:"token_ttl_minutes"`

	ProfileTTLSeconds  int `yaml:"profile_ttl_seconds"`
	PositionTTLSeconds int `yaml:"position_ttl_seconds"`

	TrackingTickMillis         int     `yaml:"tracking_tick_millis"`
	TrackingStepFraction       float64 `yaml:"tracking_step_fraction"`
	TrackingEpsilon            float64 `yaml:"tracking_epsilon"`
	TrackingMaxStartOffset     float64 `yaml:"tracking_max_start_offset"`
	TrackingPostLimitPerMinute int     `yaml:"tracking_post_limit_per_minute"`

	HTTPRateLimitPerSecond float64 `yaml:"http_rate_limit_per_second"`
	HTTPRateLimitBurst     int     `yaml:"http_rate_limit_burst"`

	ListenerTimeoutMillis int `yaml:"listener_timeout_millis"`
	FeedBuffer            int `yaml:"feed_buffer"`

	// Notifications is "kafka" (worker consumes events), "inline" or "off".
	Notifications string `yaml:"notifications"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "console" | "json"
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	config.applyEnv()
	return &config, nil
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are not an error; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); os.IsNotExist(err) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// applyEnv lets secrets and endpoints come from the environment instead of the YAML file.
func (c *Config) applyEnv() {
	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.Username, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.DBName, "DB_NAME")
	setString(&c.Kafka.Host, "KAFKA_HOST")
	setInt(&c.Kafka.Port, "KAFKA_PORT")
	setString(&c.Redis.Host, "REDIS_HOST")
	setInt(&c.Redis.Port, "REDIS_PORT")
	setString(&c.PickupBox.JWTSecret, "JWT_SECRET")
	setString(&c.PickupBox.Store, "PICKUPBOX_STORE")
	setString(&c.PickupBox.Notifications, "PICKUPBOX_NOTIFICATIONS")
	setString(&c.PickupBox.LogLevel, "LOG_LEVEL")
}

func (c *Config) PostgresConnString() string {
	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Username, c.Database.Password, c.Database.Host, c.Database.Port, c.Database.DBName, sslMode)
}

func (c *Config) KafkaBrokers() []string {
	return []string{fmt.Sprintf("%s:%d", c.Kafka.Host, c.Kafka.Port)}
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
