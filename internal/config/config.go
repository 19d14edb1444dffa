// Package config loads the portal configuration from the environment and an
// optional .env file.
package config

import (
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"patient-portal/middleware/ratelimit/domain"
)

var ErrConfiguration = errors.New("configuration error")

const (
	StorageMemory = "memory"
	StorageRedis  = "redis"
)

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Limits struct {
	Window            time.Duration
	MaxRequests       int
	AuthMaxAttempts   int
	AuthDelayAfter    int
	AuthDelay         time.Duration
	AuthMaxDelay      time.Duration
	AppointmentMax    int
	PostsCreateTarget domain.Category

	KeyHeader  string
	TrustXFF   bool
	AddHeaders bool

	SweepEvery     int
	ExpiredWindows int
	CleanupEvery   time.Duration
}

type Stats struct {
	Enabled   bool
	Redis     Redis
	Prefix    string
	TTL       time.Duration
	Bucket    string
	TrackKeys bool
}

type Config struct {
	Port         string
	StaticDir    string
	MaxBodyBytes int64

	JwtSecret string
	TokenTTL  time.Duration

	StorageType string
	Redis       Redis
	RedisPrefix string

	Limits Limits
	Stats  Stats

	MetricsEnabled bool

	ConcurrencyMax     int
	ConcurrencyTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads .env files (missing files are fine) and then the environment.
// Values already present in the environment win over .env.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		err := godotenv.Load(f)
		if err != nil && !isNotExist(err) {
			return Config{}, errors.WithMessagef(ErrConfiguration, "load %s: %v", f, err)
		}
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	e := &env{}
	cfg := Config{
		Port:         e.str("PORT", "10000"),
		StaticDir:    e.str("STATIC_DIR", "./frontend"),
		MaxBodyBytes: e.integer64("MAX_BODY_BYTES", 10<<20),

		JwtSecret: e.str("JWT_SECRET", "fallbackSecret"),
		TokenTTL:  e.duration("TOKEN_TTL", 120*time.Hour),

		StorageType: strings.ToLower(e.str("STORAGE_TYPE", StorageMemory)),
		Redis: Redis{
			Addr:     e.str("REDIS_ADDR", "localhost:6379"),
			Password: e.str("REDIS_PASSWORD", ""),
			DB:       e.integer("REDIS_DB", 0),
		},
		RedisPrefix: e.str("REDIS_PREFIX", "portal"),

		Limits: Limits{
			Window:          e.millis("RATE_LIMIT_WINDOW_MS", 15*time.Minute),
			MaxRequests:     e.integer("RATE_LIMIT_MAX_REQUESTS", 100),
			AuthMaxAttempts: e.integer("AUTH_LIMIT_MAX_ATTEMPTS", 5),
			AuthDelayAfter:  e.integer("AUTH_SLOWDOWN_DELAY_AFTER", 2),
			AuthDelay:       e.millis("AUTH_SLOWDOWN_DELAY_MS", 500*time.Millisecond),
			AuthMaxDelay:    e.millis("AUTH_SLOWDOWN_MAX_DELAY_MS", 20*time.Second),
			AppointmentMax:  e.integer("APPOINTMENT_LIMIT_MAX_REQUESTS", 3),

			KeyHeader:  e.str("RATE_KEY_HEADER", ""),
			TrustXFF:   e.boolean("TRUST_XFF", false),
			AddHeaders: e.boolean("ADD_RATELIMIT_HEADERS", true),

			SweepEvery:     e.integer("RATE_SWEEP_EVERY", 1024),
			ExpiredWindows: e.integer("RATE_EXPIRED_WINDOWS", 2),
			CleanupEvery:   e.duration("RATE_CLEANUP_EVERY", 2*time.Minute),
		},

		Stats: Stats{
			Enabled: e.boolean("RATE_STATS_ENABLED", false),
			Redis: Redis{
				Addr:     e.str("RATE_STATS_REDIS_ADDR", ""),
				Password: e.str("RATE_STATS_REDIS_PASSWORD", ""),
				DB:       e.integer("RATE_STATS_REDIS_DB", 0),
			},
			Prefix:    e.str("RATE_STATS_PREFIX", "admission:stats"),
			TTL:       e.duration("RATE_STATS_TTL", 24*time.Hour),
			Bucket:    e.str("RATE_STATS_BUCKET", "minute"),
			TrackKeys: e.boolean("RATE_STATS_TRACK_KEYS", false),
		},

		MetricsEnabled: e.boolean("METRICS_ENABLED", true),

		ConcurrencyMax:     e.integer("CONCURRENCY_MAX", 100),
		ConcurrencyTimeout: e.duration("CONCURRENCY_TIMEOUT", 0),

		LogLevel:  strings.ToLower(e.str("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(e.str("LOG_FORMAT", "json")),
	}

	target := e.str("POSTS_CREATE_CATEGORY", string(domain.CategoryPostCreate))
	cfg.Limits.PostsCreateTarget = domain.Category(target)

	if e.err != nil {
		return Config{}, e.err
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return errors.WithMessage(ErrConfiguration, "PORT is required")
	case c.MaxBodyBytes <= 0:
		return errors.WithMessage(ErrConfiguration, "MAX_BODY_BYTES must be > 0")
	case c.TokenTTL <= 0:
		return errors.WithMessage(ErrConfiguration, "TOKEN_TTL must be > 0")
	case c.StorageType != StorageMemory && c.StorageType != StorageRedis:
		return errors.WithMessagef(ErrConfiguration, "STORAGE_TYPE must be %s or %s", StorageMemory, StorageRedis)
	case c.Stats.Enabled && c.Stats.Redis.Addr == "":
		return errors.WithMessage(ErrConfiguration, "RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	case c.ConcurrencyMax < 0:
		return errors.WithMessage(ErrConfiguration, "CONCURRENCY_MAX must be >= 0")
	case c.Limits.SweepEvery < 0:
		return errors.WithMessage(ErrConfiguration, "RATE_SWEEP_EVERY must be >= 0")
	case c.Limits.ExpiredWindows < 0:
		return errors.WithMessage(ErrConfiguration, "RATE_EXPIRED_WINDOWS must be >= 0")
	}

	switch c.Limits.PostsCreateTarget {
	case domain.CategoryPostCreate, domain.CategoryAppointmentCreate:
	default:
		return errors.WithMessagef(ErrConfiguration,
			"POSTS_CREATE_CATEGORY must be %s or %s", domain.CategoryPostCreate, domain.CategoryAppointmentCreate)
	}

	for _, p := range c.Policies() {
		err := p.Validate()
		if err != nil {
			return errors.WithMessage(ErrConfiguration, err.Error())
		}
	}
	return nil
}

// Policies returns the admission policies with environment overrides applied.
// RATE_LIMIT_WINDOW_MS only moves the general window; the auth windows stay at
// 15 minutes and post-create keeps its stock values.
func (c Config) Policies() []domain.Policy {
	policies := domain.DefaultPolicies()
	for i := range policies {
		p := &policies[i]
		switch p.Category {
		case domain.CategoryGeneral:
			p.Window = c.Limits.Window
			p.MaxRequests = c.Limits.MaxRequests
		case domain.CategoryAuth:
			p.MaxRequests = c.Limits.AuthMaxAttempts
		case domain.CategoryAuthProgressive:
			p.DelayAfter = c.Limits.AuthDelayAfter
			p.DelayIncrement = c.Limits.AuthDelay
			p.MaxDelay = c.Limits.AuthMaxDelay
		case domain.CategoryAppointmentCreate:
			p.MaxRequests = c.Limits.AppointmentMax
		}
	}
	return policies
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
