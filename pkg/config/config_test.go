package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	cfg := Load(v)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(100<<20), cfg.Server.MaxBodyBytes)
	assert.Empty(t, cfg.JWT.SecretKey)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "queue:process", cfg.Redis.ProcessQueueKey)
	assert.Equal(t, "queue:upload", cfg.Redis.UploadQueueKey)

	assert.Equal(t, 5*time.Minute, cfg.Synth.EngineTimeout)
	assert.Contains(t, cfg.Synth.SupportedLanguages, "en")
	assert.Contains(t, cfg.Synth.SupportedLanguages, "zh")
	assert.True(t, cfg.Synth.CleanupAfterUpload)

	assert.Equal(t, 10, cfg.Callback.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Callback.InitialDelay)
	assert.Equal(t, 60*time.Second, cfg.Callback.MaxDelay)
	assert.Equal(t, 10*time.Second, cfg.Callback.RequestTimeout)

	assert.Equal(t, 5*time.Second, cfg.Upload.PopTimeout)
}

func TestLoadOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("redis.addr", "redis.internal:6380")
	v.Set("callback.max_attempts", 3)
	v.Set("synth.supported_languages", []string{"en"})

	cfg := Load(v)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Callback.MaxAttempts)
	assert.Equal(t, []string{"en"}, cfg.Synth.SupportedLanguages)
}
