package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendTikera   = "tikera"
	BackendPostgres = "postgres"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Backend  string
	Tikera   TikeraConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Booking  BookingConfig
	RabbitMQ RabbitMQConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	Level slog.Level
}

type TikeraConfig struct {
	BaseURL string
	Timeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

type BookingConfig struct {
	Location          *time.Location
	SessionTTL        time.Duration
	ScreeningCacheTTL time.Duration
	CatalogCacheTTL   time.Duration
	SubmitRateLimit   int
	SubmitRateWindow  time.Duration
	RecheckOccupied   bool
}

type RabbitMQConfig struct {
	URL   string
	Queue string
}

type AuthConfig struct {
	JWTSecret string
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	serverPort, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	serverCfg := ServerConfig{
		Host: strEnv("SERVER_HOST", "localhost"),
		Port: serverPort,
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(strEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("%s: invalid LOG_LEVEL: %w", op, err)
	}

	backend := strings.ToLower(strEnv("BACKEND", BackendTikera))
	if backend != BackendTikera && backend != BackendPostgres {
		return nil, fmt.Errorf("%s: invalid BACKEND %q (want %s or %s)", op, backend, BackendTikera, BackendPostgres)
	}

	tikeraTimeout, err := durationEnv("TIKERA_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	tikeraCfg := TikeraConfig{
		BaseURL: strings.TrimRight(strEnv("TIKERA_BASE_URL", "http://localhost:8000/api"), "/"),
		Timeout: tikeraTimeout,
	}

	var postgresCfg PostgresConfig
	if backend == BackendPostgres {
		postgresCfg, err = postgresFromEnv()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	redisDB, err := intEnv("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	redisCfg := RedisConfig{
		Addr:     strEnv("REDIS_ADDR", "localhost:6380"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	bookingCfg, err := bookingFromEnv()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Config{
		Server:   serverCfg,
		Log:      LogConfig{Level: level},
		Backend:  backend,
		Tikera:   tikeraCfg,
		Postgres: postgresCfg,
		Redis:    redisCfg,
		Booking:  bookingCfg,
		RabbitMQ: RabbitMQConfig{
			URL:   os.Getenv("RABBITMQ_URL"),
			Queue: strEnv("RABBITMQ_QUEUE", "booking.confirmed"),
		},
		Auth: AuthConfig{JWTSecret: os.Getenv("JWT_SECRET")},
	}, nil
}

func postgresFromEnv() (PostgresConfig, error) {
	port, err := intEnv("POSTGRES_PORT", 5432)
	if err != nil {
		return PostgresConfig{}, err
	}

	cfg := PostgresConfig{
		User:     os.Getenv("POSTGRES_USER"),
		Password: os.Getenv("POSTGRES_PASSWORD"),
		Name:     os.Getenv("POSTGRES_DB"),
		Host:     strEnv("POSTGRES_HOST", "localhost"),
		Port:     port,
		SSLMode:  strEnv("POSTGRES_SSLMODE", "disable"),
	}

	switch {
	case cfg.User == "":
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_USER")
	case cfg.Password == "":
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_PASSWORD")
	case cfg.Name == "":
		return PostgresConfig{}, fmt.Errorf("missing POSTGRES_DB")
	}

	return cfg, nil
}

func bookingFromEnv() (BookingConfig, error) {
	loc, err := time.LoadLocation(strEnv("APP_TIMEZONE", "Local"))
	if err != nil {
		return BookingConfig{}, fmt.Errorf("invalid APP_TIMEZONE: %w", err)
	}

	sessionTTL, err := durationEnv("SESSION_TTL", 30*time.Minute)
	if err != nil {
		return BookingConfig{}, err
	}

	screeningTTL, err := durationEnv("SCREENING_CACHE_TTL", 15*time.Second)
	if err != nil {
		return BookingConfig{}, err
	}

	catalogTTL, err := durationEnv("CATALOG_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return BookingConfig{}, err
	}

	rateLimit, err := intEnv("SUBMIT_RATE_LIMIT", 10)
	if err != nil {
		return BookingConfig{}, err
	}

	rateWindow, err := durationEnv("SUBMIT_RATE_WINDOW", time.Minute)
	if err != nil {
		return BookingConfig{}, err
	}

	recheck, err := boolEnv("RECHECK_OCCUPIED", true)
	if err != nil {
		return BookingConfig{}, err
	}

	return BookingConfig{
		Location:          loc,
		SessionTTL:        sessionTTL,
		ScreeningCacheTTL: screeningTTL,
		CatalogCacheTTL:   catalogTTL,
		SubmitRateLimit:   rateLimit,
		SubmitRateWindow:  rateWindow,
		RecheckOccupied:   recheck,
	}, nil
}

func strEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
