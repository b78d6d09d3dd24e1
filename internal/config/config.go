package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	GRPC          GRPCConfig          `mapstructure:"grpc"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Profiles      ProfilesConfig      `mapstructure:"profiles"`
	Realtime      RealtimeConfig      `mapstructure:"realtime"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port" validate:"required"`
}

func (c ServerConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

type GRPCConfig struct {
	ReflectionEnabled bool          `mapstructure:"reflection_enabled"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=postgres memory"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=%s",
		c.User, c.Password, net.JoinHostPort(c.Host, strconv.Itoa(c.Port)), c.DBName, c.SSLMode)
}

type ProfilesConfig struct {
	CacheEnabled bool          `mapstructure:"cache_enabled"`
	CacheMaxCost int64         `mapstructure:"cache_max_cost"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

type RealtimeConfig struct {
	Backend   string `mapstructure:"backend" validate:"oneof=memory nats"`
	QueueSize int    `mapstructure:"queue_size" validate:"gt=0"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

// RedisConfig enables the notification inbox when URL is set.
type RedisConfig struct {
	URL       string        `mapstructure:"url"`
	InboxSize int64         `mapstructure:"inbox_size"`
	InboxTTL  time.Duration `mapstructure:"inbox_ttl"`
}

type NotificationsConfig struct {
	DeliveryTimeout time.Duration `mapstructure:"delivery_timeout" validate:"gt=0"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "50055")

	v.SetDefault("grpc.reflection_enabled", false)
	v.SetDefault("grpc.shutdown_timeout", 10*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("storage.driver", "postgres")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "learnhub")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)

	v.SetDefault("profiles.cache_enabled", true)
	v.SetDefault("profiles.cache_max_cost", 10000)
	v.SetDefault("profiles.cache_ttl", 5*time.Minute)

	v.SetDefault("realtime.backend", "memory")
	v.SetDefault("realtime.queue_size", 64)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject_prefix", "chat")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.inbox_size", 100)
	v.SetDefault("redis.inbox_ttl", 7*24*time.Hour)

	v.SetDefault("notifications.delivery_timeout", 5*time.Second)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", ":9090")
}

// Load reads config.yaml from the given directories (./config and
// /app/config when none are given), then applies a .env file and the
// environment on top. A missing config file is not an error.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{"./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
