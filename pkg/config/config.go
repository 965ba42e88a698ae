package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	AutoRun   AutoRunConfig
	NATS      NATSConfig
	Telemetry TelemetryConfig
}

type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DSN renders the lib/pq keyword/value connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=%d",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode, int(c.ConnectTimeout.Seconds()))
}

type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration
	KeyPrefix   string
}

// Addr returns host:port.
func (c RedisConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// SchedulerConfig tunes the scheduling engine and the run workers that drive it.
type SchedulerConfig struct {
	Store               string
	SeedScenario        string
	RunTTL              time.Duration
	OptimizationPasses  int
	ConfidenceThreshold float64
	MaxAlternatives     int
	WorkerConcurrency   int
	WorkerRetries       int
	RetryDelay          time.Duration
	BulkConcurrency     int
	MetricsCacheTTL     time.Duration
	Weights             GoalWeightsConfig
}

// GoalWeightsConfig holds the default optimizer weights. Requests may override them.
type GoalWeightsConfig struct {
	ContentPriority     float64
	TeacherUtilization  float64
	StudentSatisfaction float64
	ClassSize           float64
}

// AutoRunConfig controls periodic re-scheduling of registered courses.
type AutoRunConfig struct {
	Enabled  bool
	Cron     string
	Courses  []string
	Timezone string
}

// NATSConfig configures the class event publisher.
type NATSConfig struct {
	Enabled       bool
	URL           string
	SubjectPrefix string
	Buffer        int
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:            v.GetString("DB_HOST"),
		Port:            v.GetInt("DB_PORT"),
		User:            v.GetString("DB_USER"),
		Password:        v.GetString("DB_PASSWORD"),
		Name:            v.GetString("DB_NAME"),
		SSLMode:         v.GetString("DB_SSL_MODE"),
		MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
		ConnMaxLifetime: parseDuration(v.GetString("DB_CONN_MAX_LIFETIME"), 30*time.Minute),
		ConnectTimeout:  parseDuration(v.GetString("DB_CONNECT_TIMEOUT"), 5*time.Second),
	}

	cfg.Redis = RedisConfig{
		Enabled:     v.GetBool("ENABLE_REDIS"),
		Host:        v.GetString("REDIS_HOST"),
		Port:        v.GetInt("REDIS_PORT"),
		Password:    v.GetString("REDIS_PASSWORD"),
		DB:          v.GetInt("REDIS_DB"),
		PoolSize:    positiveInt(v.GetInt("REDIS_POOL_SIZE"), 10),
		DialTimeout: parseDuration(v.GetString("REDIS_DIAL_TIMEOUT"), 2*time.Second),
		KeyPrefix:   v.GetString("REDIS_KEY_PREFIX"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{
		AllowedOrigins:   splitAndTrim(v.GetString("ALLOWED_ORIGINS")),
		AllowCredentials: v.GetBool("CORS_ALLOW_CREDENTIALS"),
		MaxAge:           parseDuration(v.GetString("CORS_MAX_AGE"), 10*time.Minute),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	store := strings.ToLower(strings.TrimSpace(v.GetString("SCHEDULER_STORE")))
	if store != StorePostgres {
		store = StoreMemory
	}
	threshold := v.GetFloat64("SCHEDULER_CONFIDENCE_THRESHOLD")
	if threshold <= 0 || threshold > 1 {
		threshold = 0.6
	}
	cfg.Scheduler = SchedulerConfig{
		Store:               store,
		SeedScenario:        strings.TrimSpace(v.GetString("SCHEDULER_SEED_SCENARIO")),
		RunTTL:              parseDuration(v.GetString("SCHEDULER_RUN_TTL"), time.Hour),
		OptimizationPasses:  positiveInt(v.GetInt("SCHEDULER_OPTIMIZATION_PASSES"), 5),
		ConfidenceThreshold: threshold,
		MaxAlternatives:     positiveInt(v.GetInt("SCHEDULER_MAX_ALTERNATIVES"), 3),
		WorkerConcurrency:   positiveInt(v.GetInt("SCHEDULER_WORKER_CONCURRENCY"), 2),
		WorkerRetries:       nonNegativeInt(v.GetInt("SCHEDULER_WORKER_RETRIES"), 3),
		RetryDelay:          parseDuration(v.GetString("SCHEDULER_RETRY_DELAY"), 500*time.Millisecond),
		BulkConcurrency:     positiveInt(v.GetInt("SCHEDULER_BULK_CONCURRENCY"), 4),
		MetricsCacheTTL:     parseDuration(v.GetString("SCHEDULER_METRICS_CACHE_TTL"), 10*time.Minute),
		Weights: GoalWeightsConfig{
			ContentPriority:     nonNegativeFloat(v.GetFloat64("SCHEDULER_WEIGHT_CONTENT_PRIORITY"), 0.35),
			TeacherUtilization:  nonNegativeFloat(v.GetFloat64("SCHEDULER_WEIGHT_TEACHER_UTILIZATION"), 0.2),
			StudentSatisfaction: nonNegativeFloat(v.GetFloat64("SCHEDULER_WEIGHT_STUDENT_SATISFACTION"), 0.3),
			ClassSize:           nonNegativeFloat(v.GetFloat64("SCHEDULER_WEIGHT_CLASS_SIZE"), 0.15),
		},
	}

	cfg.AutoRun = AutoRunConfig{
		Enabled:  v.GetBool("SCHEDULER_AUTO_RUN"),
		Cron:     v.GetString("SCHEDULER_AUTO_RUN_CRON"),
		Courses:  splitAndTrim(v.GetString("SCHEDULER_AUTO_RUN_COURSES")),
		Timezone: v.GetString("SCHEDULER_AUTO_RUN_TZ"),
	}

	cfg.NATS = NATSConfig{
		Enabled:       v.GetBool("ENABLE_NATS"),
		URL:           v.GetString("NATS_URL"),
		SubjectPrefix: v.GetString("NATS_SUBJECT_PREFIX"),
		Buffer:        positiveInt(v.GetInt("NATS_PUBLISH_BUFFER"), 256),
	}

	cfg.Telemetry = TelemetryConfig{
		Enabled:     v.GetBool("ENABLE_TRACING"),
		Endpoint:    v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName: v.GetString("OTEL_SERVICE_NAME"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "class_scheduler")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "30m")
	v.SetDefault("DB_CONNECT_TIMEOUT", "5s")

	v.SetDefault("ENABLE_REDIS", false)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "2s")
	v.SetDefault("REDIS_KEY_PREFIX", "class-scheduler:")

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("CORS_ALLOW_CREDENTIALS", false)
	v.SetDefault("CORS_MAX_AGE", "10m")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHEDULER_STORE", StoreMemory)
	v.SetDefault("SCHEDULER_SEED_SCENARIO", "")
	v.SetDefault("SCHEDULER_RUN_TTL", "1h")
	v.SetDefault("SCHEDULER_OPTIMIZATION_PASSES", 5)
	v.SetDefault("SCHEDULER_CONFIDENCE_THRESHOLD", 0.6)
	v.SetDefault("SCHEDULER_MAX_ALTERNATIVES", 3)
	v.SetDefault("SCHEDULER_WORKER_CONCURRENCY", 2)
	v.SetDefault("SCHEDULER_WORKER_RETRIES", 3)
	v.SetDefault("SCHEDULER_RETRY_DELAY", "500ms")
	v.SetDefault("SCHEDULER_BULK_CONCURRENCY", 4)
	v.SetDefault("SCHEDULER_METRICS_CACHE_TTL", "10m")
	v.SetDefault("SCHEDULER_WEIGHT_CONTENT_PRIORITY", 0.35)
	v.SetDefault("SCHEDULER_WEIGHT_TEACHER_UTILIZATION", 0.2)
	v.SetDefault("SCHEDULER_WEIGHT_STUDENT_SATISFACTION", 0.3)
	v.SetDefault("SCHEDULER_WEIGHT_CLASS_SIZE", 0.15)

	v.SetDefault("SCHEDULER_AUTO_RUN", false)
	v.SetDefault("SCHEDULER_AUTO_RUN_CRON", "0 2 * * 1")
	v.SetDefault("SCHEDULER_AUTO_RUN_COURSES", "")
	v.SetDefault("SCHEDULER_AUTO_RUN_TZ", "UTC")

	v.SetDefault("ENABLE_NATS", false)
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_SUBJECT_PREFIX", "scheduling.class")
	v.SetDefault("NATS_PUBLISH_BUFFER", 256)

	v.SetDefault("ENABLE_TRACING", false)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_SERVICE_NAME", "class-scheduler-api")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func positiveInt(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

func nonNegativeInt(value, fallback int) int {
	if value < 0 {
		return fallback
	}
	return value
}

func nonNegativeFloat(value, fallback float64) float64 {
	if value < 0 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
