package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/trackfeedback/api/internal/ingest"
	"github.com/trackfeedback/api/internal/tone"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	R2        R2Config
	Storage   StorageConfig
	Zitadel   ZitadelConfig
	Gateway   GatewayConfig
	Worker    WorkerConfig
	Ingest    IngestConfig
	Render    RenderConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	LogFormat string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	Path string
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	UploadPerHour  int
	RenderPerHour  int
	AnalyzePerHour int
	ExportPerHour  int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// Configured reports whether every credential needed for R2 is present.
func (c R2Config) Configured() bool {
	return c.AccountID != "" && c.AccessKeyID != "" && c.SecretAccessKey != "" && c.BucketName != ""
}

// StorageConfig is the filesystem blob store used when R2 is not configured.
type StorageConfig struct {
	LocalDir   string
	PublicBase string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type GatewayConfig struct {
	Enabled bool
}

type WorkerConfig struct {
	APIKey      string
	Concurrency int
}

type IngestConfig struct {
	MaxArchiveBytes     int64
	PerFileCeilingBytes int64
	MemoryBudgetBytes   int64
	SessionTTLMinutes   int
}

// Limits converts the configured budgets to materializer limits.
func (c IngestConfig) Limits() ingest.Limits {
	return ingest.Limits{
		PerFileCeiling: c.PerFileCeilingBytes,
		MemoryBudget:   c.MemoryBudgetBytes,
	}
}

// SessionTTL is the idle lifetime of an analyzer session.
func (c IngestConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

type RenderConfig struct {
	MaxTracks      int
	DefaultSeconds float64
	MinSeconds     float64
	MaxSeconds     float64
	SampleRate     int
	MinSampleRate  int
	MaxSampleRate  int
	Headroom       float64
}

// ToneOptions converts the synthetic render bounds to encoder options.
func (c RenderConfig) ToneOptions() tone.Options {
	return tone.Options{
		MinSeconds: c.MinSeconds,
		MaxSeconds: c.MaxSeconds,
		MinRate:    c.MinSampleRate,
		MaxRate:    c.MaxSampleRate,
		Headroom:   c.Headroom,
	}
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("JWT_SECRET")
	readSecret("WORKER_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_format", "LOG_FORMAT")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("database.path", "DATABASE_PATH")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = v.BindEnv("ratelimit.render_per_hour", "RATELIMIT_RENDER_PER_HOUR")
	_ = v.BindEnv("ratelimit.analyze_per_hour", "RATELIMIT_ANALYZE_PER_HOUR")
	_ = v.BindEnv("ratelimit.export_per_hour", "RATELIMIT_EXPORT_PER_HOUR")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("storage.local_dir", "STORAGE_LOCAL_DIR")
	_ = v.BindEnv("storage.public_base", "STORAGE_PUBLIC_BASE")
	_ = v.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = v.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = v.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")
	_ = v.BindEnv("worker.api_key", "WORKER_API_KEY")
	_ = v.BindEnv("worker.concurrency", "WORKER_CONCURRENCY")
	_ = v.BindEnv("ingest.max_archive_bytes", "INGEST_MAX_ARCHIVE_BYTES")
	_ = v.BindEnv("ingest.per_file_ceiling_bytes", "INGEST_PER_FILE_CEILING_BYTES")
	_ = v.BindEnv("ingest.memory_budget_bytes", "INGEST_MEMORY_BUDGET_BYTES")
	_ = v.BindEnv("ingest.session_ttl_minutes", "INGEST_SESSION_TTL_MINUTES")
	_ = v.BindEnv("render.max_tracks", "RENDER_MAX_TRACKS")
	_ = v.BindEnv("render.default_seconds", "RENDER_DEFAULT_SECONDS")
	_ = v.BindEnv("render.min_seconds", "RENDER_MIN_SECONDS")
	_ = v.BindEnv("render.max_seconds", "RENDER_MAX_SECONDS")
	_ = v.BindEnv("render.sample_rate", "RENDER_SAMPLE_RATE")
	_ = v.BindEnv("render.min_sample_rate", "RENDER_MIN_SAMPLE_RATE")
	_ = v.BindEnv("render.max_sample_rate", "RENDER_MAX_SAMPLE_RATE")
	_ = v.BindEnv("render.headroom", "RENDER_HEADROOM")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "console")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.path", "data/renders.db")
	v.SetDefault("jwt.secret", "change-me-in-production")
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("ratelimit.upload_per_hour", 20)
	v.SetDefault("ratelimit.render_per_hour", 10)
	v.SetDefault("ratelimit.analyze_per_hour", 60)
	v.SetDefault("ratelimit.export_per_hour", 20)

	// Storage defaults
	v.SetDefault("storage.local_dir", "data/blobs")
	v.SetDefault("storage.public_base", "/files")

	// Gateway defaults
	v.SetDefault("gateway.enabled", false)

	// Worker defaults
	v.SetDefault("worker.api_key", "dev-worker-key")
	v.SetDefault("worker.concurrency", 2)

	// Ingest defaults
	v.SetDefault("ingest.max_archive_bytes", 500<<20)
	v.SetDefault("ingest.per_file_ceiling_bytes", 10<<20)
	v.SetDefault("ingest.memory_budget_bytes", 100<<20)
	v.SetDefault("ingest.session_ttl_minutes", 30)

	// Placeholder render defaults
	v.SetDefault("render.max_tracks", 7)
	v.SetDefault("render.default_seconds", 12)
	v.SetDefault("render.min_seconds", 2)
	v.SetDefault("render.max_seconds", 30)
	v.SetDefault("render.sample_rate", 44100)
	v.SetDefault("render.min_sample_rate", 8000)
	v.SetDefault("render.max_sample_rate", 48000)
	v.SetDefault("render.headroom", 0.15)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      v.GetString("server.port"),
			Env:       v.GetString("server.env"),
			LogLevel:  v.GetString("server.log_level"),
			LogFormat: v.GetString("server.log_format"),
			ApiDomain: v.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			UploadPerHour:  v.GetInt("ratelimit.upload_per_hour"),
			RenderPerHour:  v.GetInt("ratelimit.render_per_hour"),
			AnalyzePerHour: v.GetInt("ratelimit.analyze_per_hour"),
			ExportPerHour:  v.GetInt("ratelimit.export_per_hour"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
		Storage: StorageConfig{
			LocalDir:   v.GetString("storage.local_dir"),
			PublicBase: v.GetString("storage.public_base"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
		Worker: WorkerConfig{
			APIKey:      v.GetString("worker.api_key"),
			Concurrency: v.GetInt("worker.concurrency"),
		},
		Ingest: IngestConfig{
			MaxArchiveBytes:     v.GetInt64("ingest.max_archive_bytes"),
			PerFileCeilingBytes: v.GetInt64("ingest.per_file_ceiling_bytes"),
			MemoryBudgetBytes:   v.GetInt64("ingest.memory_budget_bytes"),
			SessionTTLMinutes:   v.GetInt("ingest.session_ttl_minutes"),
		},
		Render: RenderConfig{
			MaxTracks:      v.GetInt("render.max_tracks"),
			DefaultSeconds: v.GetFloat64("render.default_seconds"),
			MinSeconds:     v.GetFloat64("render.min_seconds"),
			MaxSeconds:     v.GetFloat64("render.max_seconds"),
			SampleRate:     v.GetInt("render.sample_rate"),
			MinSampleRate:  v.GetInt("render.min_sample_rate"),
			MaxSampleRate:  v.GetInt("render.max_sample_rate"),
			Headroom:       v.GetFloat64("render.headroom"),
		},
	}

	return cfg, nil
}
