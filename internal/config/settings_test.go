package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDBConfigDSNWithoutPassword(t *testing.T) {
	d := DBConfig{Host: "localhost", Port: 3306, Username: "root", Name: "voicecore"}
	require.Equal(t, "root@tcp(localhost:3306)/voicecore?charset=utf8mb4&parseTime=True&loc=Local", d.DSN())
}

func TestDBConfigDSNWithPasswordAndTLS(t *testing.T) {
	d := DBConfig{Host: "db", Port: 3306, Username: "root", Password: "secret", Name: "voicecore", TLS: true}
	require.Equal(t, "root:secret@tcp(db:3306)/voicecore?charset=utf8mb4&parseTime=True&loc=Local&tls=true", d.DSN())
}

func TestLoadReadsYAMLAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config_test.yaml")
	content := []byte(`
env: test
debug: true

database:
  host: localhost
  port: 3306
  username: root
  name: voicecore_test

redis:
  addr: localhost:6379
  db: 0

auth:
  jwt_secret: test-secret

queue:
  redis_addr: localhost:6379
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	t.Setenv("VOICECORE_CONFIG", path)

	settings, err := Load()
	require.NoError(t, err)

	require.Equal(t, "test", settings.Env)
	require.True(t, settings.Debug)
	require.Equal(t, "voicecore_test", settings.DB.Name)

	// defaults filled in because the yaml above left them unset.
	require.Equal(t, 2*time.Second, settings.SpeechDetect.PollInterval)
	require.Equal(t, 3, settings.SpeechDetect.ThresholdWords)
	require.Equal(t, 15*time.Second, settings.SpeechDetect.GracePeriod)
	require.Equal(t, time.Second, settings.Monitor.TickInterval)
	require.Equal(t, 3*time.Hour, settings.Monitor.MaxDuration)
	require.Equal(t, "batch", settings.PostChain.MemoryExtractionSource)
	require.Equal(t, 900, settings.PostChain.SpeakerWindowSeconds)
	require.Equal(t, float64(30), settings.Persistence.ChunkDurationSeconds)
	require.Equal(t, 24*time.Hour, settings.Persistence.Timeout)
	require.Equal(t, 4, settings.Gateway.OpusDecodePoolSize)
	require.Equal(t, 16000, settings.Gateway.DefaultSampleRate)
	require.Equal(t, 60, settings.AudioFabric.DisconnectTTLSeconds)
	require.Equal(t, 24, settings.Auth.TokenTTLHours)
	require.Equal(t, "config/plugins.yaml", settings.PluginConfigPath)
	require.Equal(t, 10, settings.Queue.Concurrency)
	require.Equal(t, 5*time.Second, settings.External.StreamingChunkInterval)
	require.Equal(t, "gemini-1.5-flash", settings.External.GeminiModel)
}

func TestLoadPreservesExplicitNonZeroValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config_explicit.yaml")
	content := []byte(`
env: prod
database:
  host: db
  port: 3306
  username: root
  name: voicecore

redis:
  addr: redis:6379

speech_detection:
  threshold_words: 7

queue:
  redis_addr: redis:6379
  concurrency: 25
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("VOICECORE_CONFIG", path)

	settings, err := Load()
	require.NoError(t, err)

	require.Equal(t, 7, settings.SpeechDetect.ThresholdWords)
	require.Equal(t, 25, settings.Queue.Concurrency)
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	t.Setenv("VOICECORE_CONFIG", filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	_, err := Load()
	require.Error(t, err)
}

func TestQueueRedisAddrDefaultsToRedisDBAddr(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config_queue.yaml")
	content := []byte(`
env: test
database:
  host: localhost
  port: 3306
  username: root
  name: voicecore

redis:
  addr: shared-redis:6379
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	t.Setenv("VOICECORE_CONFIG", path)

	settings, err := Load()
	require.NoError(t, err)

	require.Equal(t, "shared-redis:6379", settings.Queue.RedisAddr)
}
