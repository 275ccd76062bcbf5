package config

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// HTTP holds settings shared by every HTTP-facing process.
type HTTP struct {
	Addr           string   `env:"ADDR,default=:8080"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS,default=*"`
}

// Pools configures the pool membership service.
type Pools struct {
	HTTP
	DBDSN          string `env:"DB_DSN,required"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START,default=false"`
}

// S3 points at the S3-compatible object store holding archives.
type S3 struct {
	Endpoint       string `env:"S3_ENDPOINT"`
	AccessKey      string `env:"S3_ACCESS_KEY"`
	SecretKey      string `env:"S3_SECRET_KEY"`
	Region         string `env:"S3_REGION,default=us-east-1"`
	DisableTLS     bool   `env:"S3_DISABLE_TLS,default=false"`
	ForcePathStyle bool   `env:"S3_FORCE_PATH_STYLE,default=true"`
}

// Archive configures where cleanup reports are archived and how they are
// sealed. An empty Bucket disables archiving.
type Archive struct {
	S3
	Bucket       string `env:"ARCHIVE_BUCKET"`
	AgeRecipient string `env:"ARCHIVE_AGE_RECIPIENT"`
	// SigningKey is an age secret key; manifests are signed with the Ed25519
	// key derived from its seed.
	SigningKey string `env:"ARCHIVE_SIGNING_KEY"`
	VerifyKey  string `env:"ARCHIVE_VERIFY_KEY"`
}

// Matches configures the match lifecycle service.
type Matches struct {
	HTTP
	Archive
	DBDSN          string `env:"DB_DSN,required"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START,default=false"`
}

// Events names the JetStream stream and subject carrying membership changes.
type Events struct {
	NATSURL string `env:"NATS_URL,default=nats://127.0.0.1:4222"`
	Stream  string `env:"EVENTS_STREAM,default=POOLMATCH"`
	Subject string `env:"EVENTS_SUBJECT,default=poolmatch.pools.member_removed"`
	// Dedupe is the broker-side window for dropping republished events.
	Dedupe time.Duration `env:"EVENTS_DEDUPE_WINDOW,default=2m"`
}

// Users configures the user-centric façade.
type Users struct {
	HTTP
	Events
	PoolsServiceURL   string        `env:"POOLS_SERVICE_URL,required"`
	MatchesServiceURL string        `env:"MATCHES_SERVICE_URL,required"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT,default=5s"`
	PoolCapacity      int           `env:"POOL_CAPACITY,default=20"`
	MaxMatches        int           `env:"MAX_MATCHES,default=10"`
	// RateLimitPerMinute limits requests per client IP; 0 disables it.
	RateLimitPerMinute int `env:"RATE_LIMIT_PER_MINUTE,default=0"`
}

// Relay configures the member-removed consumer.
type Relay struct {
	HTTP
	Events
	MatchesServiceURL string        `env:"MATCHES_SERVICE_URL,required"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT,default=5s"`
	Durable           string        `env:"RELAY_DURABLE,default=poolmatch-cleanup"`
	MaxDeliver        int           `env:"RELAY_MAX_DELIVER,default=0"`
	AckWait           time.Duration `env:"RELAY_ACK_WAIT,default=30s"`
}

// Ctl configures the operator CLI. Each command checks the settings it needs.
type Ctl struct {
	Events
	Archive
	DBDSN             string        `env:"DB_DSN"`
	MatchesServiceURL string        `env:"MATCHES_SERVICE_URL,default=http://127.0.0.1:8080"`
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT,default=5s"`
}

// Load reads an optional .env file and then populates cfg from the environment.
func Load[T any](ctx context.Context) (T, error) {
	var cfg T
	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFrom populates cfg from an explicit lookuper, skipping .env.
func LoadFrom[T any](ctx context.Context, lookuper envconfig.Lookuper) (T, error) {
	var cfg T
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	})
	return cfg, err
}

func loadDotEnv() error {
	err := godotenv.Load()
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
