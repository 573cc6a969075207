package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env                 string `mapstructure:"env"`
	Port                int    `mapstructure:"port"`
	ShutdownTimeoutSecs int    `mapstructure:"shutdown_timeout_seconds"`
	RateLimitPerMin     int    `mapstructure:"rate_limit_per_min"`
}

func (a AppConfig) PortString() string { return fmt.Sprintf("%d", a.Port) }

type MongoConfig struct {
	URI                     string `mapstructure:"uri"`
	Database                string `mapstructure:"database"`
	ThreadsCollection       string `mapstructure:"threads_collection"`
	MessagesCollection      string `mapstructure:"messages_collection"`
	NotificationsCollection string `mapstructure:"notifications_collection"`
}

type SQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

// EventsConfig selects the bus used to fan thread/message events out to
// every API instance: "kafka", "nats" or "memory".
type EventsConfig struct {
	Driver string `mapstructure:"driver"`
}

type JWTConfig struct {
	Alg           string `mapstructure:"alg"`
	PublicKeyPath string `mapstructure:"public_key_path"`
	HSSecret      string `mapstructure:"hs_secret"`
}

type AWSConfig struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type QueueConfig struct {
	NotificationsURL    string `mapstructure:"notifications_url"`
	EmailsURL           string `mapstructure:"emails_url"`
	PollIntervalSeconds int    `mapstructure:"poll_interval_seconds"`
	BatchSize           int    `mapstructure:"batch_size"`
	WaitTimeSeconds     int    `mapstructure:"wait_time_seconds"`
}

type S3Config struct {
	Bucket     string `mapstructure:"bucket"`
	PresignTTL int    `mapstructure:"presign_ttl_seconds"`
}

type EmailConfig struct {
	BrevoAPIKey string `mapstructure:"brevo_api_key"`
	SenderEmail string `mapstructure:"sender_email"`
	SenderName  string `mapstructure:"sender_name"`
	AppURL      string `mapstructure:"app_url"`
}

// NotificationsConfig picks where notification rows are persisted:
// "mongo" or "sql".
type NotificationsConfig struct {
	Store string `mapstructure:"store"`
}

type UsersConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// TransportConfig is used by clients of the messaging API. An empty
// Endpoint means the transport is not configured.
type TransportConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	Token    string `mapstructure:"token"`
}

type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Mongo         MongoConfig         `mapstructure:"mongodb"`
	SQL           SQLConfig           `mapstructure:"sql"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Events        EventsConfig        `mapstructure:"events"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	NATS          NATSConfig          `mapstructure:"nats"`
	JWT           JWTConfig           `mapstructure:"jwt"`
	AWS           AWSConfig           `mapstructure:"aws"`
	Queues        QueueConfig         `mapstructure:"queues"`
	S3            S3Config            `mapstructure:"s3"`
	Email         EmailConfig         `mapstructure:"email"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Users         UsersConfig         `mapstructure:"users"`
	Transport     TransportConfig     `mapstructure:"transport"`
	Log           struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	// derived
	ShutdownTimeout time.Duration
	PollInterval    time.Duration
	PresignTTL      time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", 8085)
	v.SetDefault("app.shutdown_timeout_seconds", 15)
	v.SetDefault("app.rate_limit_per_min", 600)
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "edumatch")
	v.SetDefault("mongodb.threads_collection", "threads")
	v.SetDefault("mongodb.messages_collection", "messages")
	v.SetDefault("mongodb.notifications_collection", "notifications")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "edumatch")
	v.SetDefault("events.driver", "kafka")
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "messaging.events")
	v.SetDefault("kafka.group_id", "messaging-api")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "messaging.events")
	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("queues.poll_interval_seconds", 30)
	v.SetDefault("queues.batch_size", 10)
	v.SetDefault("s3.presign_ttl_seconds", 600)
	v.SetDefault("email.sender_name", "EduMatch")
	v.SetDefault("notifications.store", "mongo")
	v.SetDefault("log.level", "info")
}

// Load reads the YAML file at path (optional, skipped when missing) and
// overlays environment variables, e.g. APP_QUEUES_EMAILS_URL.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	// AutomaticEnv only applies to keys viper already knows about.
	for _, key := range []string{
		"sql.dsn", "redis.password", "jwt.public_key_path", "jwt.hs_secret",
		"aws.endpoint", "aws.access_key_id", "aws.secret_access_key",
		"queues.notifications_url", "queues.emails_url", "queues.wait_time_seconds",
		"s3.bucket", "email.brevo_api_key", "email.sender_email", "email.app_url",
		"users.base_url", "transport.endpoint", "transport.api_key", "transport.token",
	} {
		_ = v.BindEnv(key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if cfg.App.ShutdownTimeoutSecs <= 0 {
		cfg.App.ShutdownTimeoutSecs = 15
	}
	if cfg.Queues.PollIntervalSeconds <= 0 {
		cfg.Queues.PollIntervalSeconds = 30
	}
	if cfg.Queues.BatchSize <= 0 || cfg.Queues.BatchSize > 10 {
		cfg.Queues.BatchSize = 10
	}
	if cfg.S3.PresignTTL <= 0 {
		cfg.S3.PresignTTL = 600
	}
	cfg.ShutdownTimeout = time.Duration(cfg.App.ShutdownTimeoutSecs) * time.Second
	cfg.PollInterval = time.Duration(cfg.Queues.PollIntervalSeconds) * time.Second
	cfg.PresignTTL = time.Duration(cfg.S3.PresignTTL) * time.Second

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.App.Port <= 0 {
		return errors.New("app.port missing or invalid")
	}
	switch strings.ToLower(cfg.Events.Driver) {
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
			return errors.New("kafka.brokers and kafka.topic required for kafka events driver")
		}
	case "nats":
		if cfg.NATS.URL == "" {
			return errors.New("nats.url required for nats events driver")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid events.driver %q (use kafka, nats or memory)", cfg.Events.Driver)
	}
	switch strings.ToLower(cfg.Notifications.Store) {
	case "mongo", "sql":
	default:
		return fmt.Errorf("invalid notifications.store %q (use mongo or sql)", cfg.Notifications.Store)
	}
	switch strings.ToUpper(cfg.JWT.Alg) {
	case "RS256", "HS256":
	default:
		return errors.New("invalid jwt.alg (use RS256 or HS256)")
	}
	return nil
}

// HasAWSCredentials reports whether static credentials are configured or
// the standard AWS environment variables are present.
func (c *Config) HasAWSCredentials() bool {
	if c.AWS.AccessKeyID != "" && c.AWS.SecretAccessKey != "" {
		return true
	}
	return os.Getenv("AWS_ACCESS_KEY_ID") != "" && os.Getenv("AWS_SECRET_ACCESS_KEY") != ""
}
