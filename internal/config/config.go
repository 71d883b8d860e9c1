package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	minBackendKeyLen = 100
	minMapsKeyLen    = 30
)

// ServerConfig captures all tunable parameters for the passenger web process.
// Values come from environment variables with defaults, so only the backend
// URL and key are needed to run locally.
type ServerConfig struct {
	HTTPAddr        string
	PublicOrigin    string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	LoadingTimeout  time.Duration

	BackendURL       string
	BackendKey       string
	BackendJWTSecret string
	BackendTimeout   time.Duration

	PGDSN         string
	RunMigrations bool

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	MapsAPIKey   string
	MapsEndpoint string
	MapsCountry  string

	StripeSecretKey     string
	StripePublicKey     string
	StripeWebhookSecret string

	OSRMURL         string
	DefaultSpeedMps float64

	BaseFare      float64
	PerKmRate     float64
	MinDistanceKm float64
	MaxDistanceKm float64
	Currency      string
	Locale        string

	RetryAttempts     int
	RetryBaseDelay    time.Duration
	ProfileDelay      time.Duration
	RatingPromptDelay time.Duration

	RateLimitPerMinute int

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:           ":8080",
		ReadTimeout:        5 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        120 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		LoadingTimeout:     10 * time.Second,
		BackendTimeout:     30 * time.Second,
		RedisGeoKey:        "drivers_geo",
		KafkaTopic:         "driver-locations",
		KafkaGroup:         "ride-passenger",
		MapsCountry:        "id",
		DefaultSpeedMps:    8,
		BaseFare:           2.50,
		PerKmRate:          1.25,
		MinDistanceKm:      0.1,
		MaxDistanceKm:      50,
		Currency:           "ZAR",
		Locale:             "en-ZA",
		RetryAttempts:      3,
		RetryBaseDelay:     time.Second,
		ProfileDelay:       time.Second,
		RatingPromptDelay:  time.Second,
		RateLimitPerMinute: 10,
		LogLevel:           "info",
	}
}

// LoadServerConfig reads the environment. With APP_ENV=local a .env file in
// the working directory is loaded first; variables already set win.
func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	if strings.EqualFold(os.Getenv("APP_ENV"), "local") {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("load .env: %w", err))
		}
	}

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setStringFromEnv(&cfg.PublicOrigin, "PUBLIC_ORIGIN")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.LoadingTimeout, "LOADING_TIMEOUT", &errs)

	cfg.BackendURL = strings.TrimSpace(os.Getenv("BACKEND_URL"))
	cfg.BackendKey = strings.TrimSpace(os.Getenv("BACKEND_KEY"))
	cfg.BackendJWTSecret = os.Getenv("BACKEND_JWT_SECRET")
	setDurationFromEnv(&cfg.BackendTimeout, "BACKEND_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")

	cfg.MapsAPIKey = strings.TrimSpace(os.Getenv("MAPS_API_KEY"))
	setStringFromEnv(&cfg.MapsEndpoint, "MAPS_ENDPOINT")
	setStringFromEnv(&cfg.MapsCountry, "MAPS_COUNTRY")

	cfg.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	cfg.StripePublicKey = os.Getenv("STRIPE_PUBLIC_KEY")
	cfg.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")

	cfg.OSRMURL = strings.TrimSpace(os.Getenv("OSRM_URL"))
	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)

	setFloatFromEnv(&cfg.BaseFare, "FARE_BASE", &errs)
	setFloatFromEnv(&cfg.PerKmRate, "FARE_PER_KM", &errs)
	setFloatFromEnv(&cfg.MinDistanceKm, "RIDE_MIN_DISTANCE_KM", &errs)
	setFloatFromEnv(&cfg.MaxDistanceKm, "RIDE_MAX_DISTANCE_KM", &errs)
	setStringFromEnv(&cfg.Currency, "CURRENCY")
	setStringFromEnv(&cfg.Locale, "LOCALE")

	setIntFromEnv(&cfg.RetryAttempts, "RETRY_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.RetryBaseDelay, "RETRY_BASE_DELAY", &errs)
	setDurationFromEnv(&cfg.ProfileDelay, "PROFILE_DELAY", &errs)
	setDurationFromEnv(&cfg.RatingPromptDelay, "RATING_PROMPT_DELAY", &errs)
	setIntFromEnv(&cfg.RateLimitPerMinute, "RATE_LIMIT_PER_MINUTE", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	errs = append(errs, cfg.validate()...)
	return cfg, errors.Join(errs...)
}

func (c ServerConfig) validate() []error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, errors.New("BACKEND_URL is required"))
	} else if u, err := url.Parse(c.BackendURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("BACKEND_URL must be a valid URL, got %q", c.BackendURL))
	}
	if c.BackendKey == "" {
		errs = append(errs, errors.New("BACKEND_KEY is required"))
	} else if len(c.BackendKey) < minBackendKeyLen {
		errs = append(errs, fmt.Errorf("BACKEND_KEY looks truncated (%d chars)", len(c.BackendKey)))
	}
	if c.MapsAPIKey != "" && len(c.MapsAPIKey) < minMapsKeyLen {
		errs = append(errs, fmt.Errorf("MAPS_API_KEY looks truncated (%d chars)", len(c.MapsAPIKey)))
	}
	if c.RetryAttempts <= 0 {
		errs = append(errs, errors.New("RETRY_ATTEMPTS must be > 0"))
	}
	if c.MinDistanceKm <= 0 || c.MaxDistanceKm <= c.MinDistanceKm {
		errs = append(errs, errors.New("ride distance bounds must satisfy 0 < min < max"))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_PER_MINUTE must be > 0"))
	}
	return errs
}

// Disabled lists the optional features that are off because their settings
// are missing.
func (c ServerConfig) Disabled() []string {
	var out []string
	if c.PGDSN == "" {
		out = append(out, "postgres (using in-memory store)")
	}
	if c.MapsAPIKey == "" {
		out = append(out, "place search")
	}
	if c.StripeSecretKey == "" {
		out = append(out, "payments")
	} else if c.StripeWebhookSecret == "" {
		out = append(out, "payment webhooks")
	}
	if c.RedisAddr == "" {
		out = append(out, "redis (location cache, shared rate limits)")
	}
	if len(c.KafkaBrokers) == 0 {
		out = append(out, "kafka driver location stream")
	}
	if c.OSRMURL == "" {
		out = append(out, "routing engine ETA")
	}
	return out
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
