package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Database struct {
	Driver   string `mapstructure:"driver"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	SSLMode  string `mapstructure:"ssl-mode"`
	MaxConns int    `mapstructure:"max-conns"`
}

// ConnString renders the postgres URL used by both goose and pgxpool.
func (d Database) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type KafkaWriter struct {
	BatchSize      int `mapstructure:"batch-size"`
	BatchTimeoutMs int `mapstructure:"batch-timeout-ms"`
}

type KafkaBroker struct {
	URL string `mapstructure:"url"`
}

type KafkaTopic struct {
	IntegrityAlerts string `mapstructure:"integrity-alerts"`
}

type KafkaReader struct {
	GroupID string `mapstructure:"group-id"`
}

type Kafka struct {
	Writer KafkaWriter `mapstructure:"writer"`
	Broker KafkaBroker `mapstructure:"broker"`
	Topic  KafkaTopic  `mapstructure:"topic"`
	Reader KafkaReader `mapstructure:"reader"`
}

type Gateway struct {
	Environment     string `mapstructure:"environment"`
	BaseURL         string `mapstructure:"base-url"`
	ConsumerKey     string `mapstructure:"consumer-key"`
	ConsumerSecret  string `mapstructure:"consumer-secret"`
	ShortCode       string `mapstructure:"short-code"`
	PassKey         string `mapstructure:"pass-key"`
	CallbackURL     string `mapstructure:"callback-url"`
	TransactionType string `mapstructure:"transaction-type"`
	TimeoutMs       int    `mapstructure:"timeout-ms"`
}

func (g Gateway) Timeout() time.Duration {
	return time.Duration(g.TimeoutMs) * time.Millisecond
}

type Intake struct {
	DefaultBucketName          string `mapstructure:"default-bucket-name"`
	DefaultBucketCredential    string `mapstructure:"default-bucket-credential"`
	OrphanRetentionHours       int    `mapstructure:"orphan-retention-hours"`
	OrphanSweepIntervalMinutes int    `mapstructure:"orphan-sweep-interval-minutes"`
}

func (i Intake) OrphanRetention() time.Duration {
	return time.Duration(i.OrphanRetentionHours) * time.Hour
}

func (i Intake) OrphanSweepInterval() time.Duration {
	return time.Duration(i.OrphanSweepIntervalMinutes) * time.Minute
}

type Cache struct {
	RedisURL         string `mapstructure:"redis-url"`
	TenantTTLSeconds int    `mapstructure:"tenant-ttl-seconds"`
}

type Server struct {
	Port string `mapstructure:"port"`
}

type Metrics struct {
	URL          string `mapstructure:"url"`
	IntervalMs   int    `mapstructure:"interval-ms"`
	CommonLabels string `mapstructure:"common-labels"`
}

type Logs struct {
	URL   string `mapstructure:"url"`
	Level string `mapstructure:"level"`
}

type Config struct {
	Database Database `mapstructure:"database"`
	Kafka    Kafka    `mapstructure:"kafka"`
	Gateway  Gateway  `mapstructure:"gateway"`
	Intake   Intake   `mapstructure:"intake"`
	Cache    Cache    `mapstructure:"cache"`
	Server   Server   `mapstructure:"server"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Logs     Logs     `mapstructure:"logs"`
}

var defaults = map[string]any{
	"server.port": "8080",

	"database.driver":    "postgres",
	"database.user":      "postgres",
	"database.password":  "postgres",
	"database.name":      "payments",
	"database.host":      "localhost",
	"database.port":      "5432",
	"database.ssl-mode":  "disable",
	"database.max-conns": 10,

	"kafka.broker.url":              "",
	"kafka.topic.integrity-alerts":  "payment-integrity-alerts",
	"kafka.writer.batch-size":       1,
	"kafka.writer.batch-timeout-ms": 10,
	"kafka.reader.group-id":         "payments-service-alerts",

	"gateway.environment":      "sandbox",
	"gateway.base-url":         "",
	"gateway.consumer-key":     "",
	"gateway.consumer-secret":  "",
	"gateway.short-code":       "",
	"gateway.pass-key":         "",
	"gateway.callback-url":     "",
	"gateway.transaction-type": "CustomerPayBillOnline",
	"gateway.timeout-ms":       15_000,

	"intake.default-bucket-name":           "ADMIN_SHOP",
	"intake.default-bucket-credential":     "",
	"intake.orphan-retention-hours":        72,
	"intake.orphan-sweep-interval-minutes": 60,

	"cache.redis-url":          "",
	"cache.tenant-ttl-seconds": 60,

	"metrics.url":           "",
	"metrics.interval-ms":   10_000,
	"metrics.common-labels": `service="payments-service"`,

	"logs.url":   "",
	"logs.level": "info",
}

// LoadConfig reads config.yaml from path, falling back to defaults when the file is
// absent. Any key can be overridden from the environment, e.g. GATEWAY_PASS_KEY.
func LoadConfig(path string) (*Config, error) {
	// a missing .env is the normal case outside local development
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
