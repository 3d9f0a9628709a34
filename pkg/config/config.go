// Package config holds typed configuration for the voicepipe binaries,
// loaded from a YAML file with environment-variable overrides via viper.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Server configures the HTTP front door.
type Server struct {
	Addr         string
	MaxBodyBytes int64
}

// JWT configures bearer-token authentication. An empty SecretKey disables
// authentication (development mode).
type JWT struct {
	SecretKey string
}

// Redis configures the queue backend.
type Redis struct {
	Addr            string
	Password        string
	DB              int
	PoolSize        int
	ProcessQueueKey string
	UploadQueueKey  string
}

// Synth configures the synthesis worker.
type Synth struct {
	EngineURL          string
	EngineTimeout      time.Duration
	OutputDir          string
	TempDir            string
	DownloadTimeout    time.Duration
	SupportedLanguages []string
	IdleDelay          time.Duration
	ErrorDelay         time.Duration
	CleanupAfterUpload bool
	SweepSpec          string
	SweepMaxAge        time.Duration
}

// Storage configures the S3-compatible object store.
type Storage struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicURL       string
}

// Callback configures webhook delivery retries.
type Callback struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	RequestTimeout time.Duration
}

// Upload configures the delivery worker.
type Upload struct {
	PopTimeout time.Duration
	ErrorDelay time.Duration
}

// Config is the full configuration tree shared by the three binaries. Each
// binary reads only the sections it needs.
type Config struct {
	LogLevel    string
	MetricsAddr string
	Server      Server
	JWT         JWT
	Redis       Redis
	Synth       Synth
	Storage     Storage
	Callback    Callback
	Upload      Upload
}

// SetDefaults registers the default value for every key on v. Called before
// reading the config file so a minimal file (or none at all) still yields a
// runnable configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", ":9091")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_body_bytes", int64(100<<20))

	v.SetDefault("jwt.secret_key", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.process_queue_key", "queue:process")
	v.SetDefault("redis.upload_queue_key", "queue:upload")

	v.SetDefault("synth.engine_url", "http://127.0.0.1:5005/synthesize")
	v.SetDefault("synth.engine_timeout", 5*time.Minute)
	v.SetDefault("synth.output_dir", "outputs")
	v.SetDefault("synth.temp_dir", "temp")
	v.SetDefault("synth.download_timeout", 30*time.Second)
	v.SetDefault("synth.supported_languages", []string{"en", "zh", "ja", "ko", "es", "fr", "de", "pt"})
	v.SetDefault("synth.idle_delay", time.Second)
	v.SetDefault("synth.error_delay", 5*time.Second)
	v.SetDefault("synth.cleanup_after_upload", true)
	v.SetDefault("synth.sweep_spec", "@every 1h")
	v.SetDefault("synth.sweep_max_age", 24*time.Hour)

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.access_key_id", "")
	v.SetDefault("storage.secret_access_key", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.public_url", "")

	v.SetDefault("callback.max_attempts", 10)
	v.SetDefault("callback.initial_delay", time.Second)
	v.SetDefault("callback.max_delay", 60*time.Second)
	v.SetDefault("callback.request_timeout", 10*time.Second)

	v.SetDefault("upload.pop_timeout", 5*time.Second)
	v.SetDefault("upload.error_delay", 5*time.Second)
}

// Load reads all values from the given viper instance.
func Load(v *viper.Viper) Config {
	return Config{
		LogLevel:    v.GetString("log_level"),
		MetricsAddr: v.GetString("metrics_addr"),
		Server: Server{
			Addr:         v.GetString("server.addr"),
			MaxBodyBytes: v.GetInt64("server.max_body_bytes"),
		},
		JWT: JWT{
			SecretKey: v.GetString("jwt.secret_key"),
		},
		Redis: Redis{
			Addr:            v.GetString("redis.addr"),
			Password:        v.GetString("redis.password"),
			DB:              v.GetInt("redis.db"),
			PoolSize:        v.GetInt("redis.pool_size"),
			ProcessQueueKey: v.GetString("redis.process_queue_key"),
			UploadQueueKey:  v.GetString("redis.upload_queue_key"),
		},
		Synth: Synth{
			EngineURL:          v.GetString("synth.engine_url"),
			EngineTimeout:      v.GetDuration("synth.engine_timeout"),
			OutputDir:          v.GetString("synth.output_dir"),
			TempDir:            v.GetString("synth.temp_dir"),
			DownloadTimeout:    v.GetDuration("synth.download_timeout"),
			SupportedLanguages: v.GetStringSlice("synth.supported_languages"),
			IdleDelay:          v.GetDuration("synth.idle_delay"),
			ErrorDelay:         v.GetDuration("synth.error_delay"),
			CleanupAfterUpload: v.GetBool("synth.cleanup_after_upload"),
			SweepSpec:          v.GetString("synth.sweep_spec"),
			SweepMaxAge:        v.GetDuration("synth.sweep_max_age"),
		},
		Storage: Storage{
			Endpoint:        v.GetString("storage.endpoint"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			Bucket:          v.GetString("storage.bucket"),
			PublicURL:       v.GetString("storage.public_url"),
		},
		Callback: Callback{
			MaxAttempts:    v.GetInt("callback.max_attempts"),
			InitialDelay:   v.GetDuration("callback.initial_delay"),
			MaxDelay:       v.GetDuration("callback.max_delay"),
			RequestTimeout: v.GetDuration("callback.request_timeout"),
		},
		Upload: Upload{
			PopTimeout: v.GetDuration("upload.pop_timeout"),
			ErrorDelay: v.GetDuration("upload.error_delay"),
		},
	}
}
