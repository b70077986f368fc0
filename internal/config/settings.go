package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// DBConfig holds relational store connection settings (gorm + MySQL).
type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	TLS      bool   `mapstructure:"tls"`
}

func (d DBConfig) DSN() string {
	base := "charset=utf8mb4&parseTime=True&loc=Local"
	if d.TLS {
		base += "&tls=true"
	}
	if d.Password == "" {
		return fmt.Sprintf("%s@tcp(%s:%d)/%s?%s", d.Username, d.Host, d.Port, d.Name, base)
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", d.Username, d.Password, d.Host, d.Port, d.Name, base)
}

// RedisConfig holds the shared Redis connection used by the Session
// Store (C1), the Audio Stream Fabric (C2) and the DependencyTracker. The
// Job Queue (C3) dials its own connection from QueueConfig.
type RedisConfig struct {
	Addr string `mapstructure:"addr"`
	Pass string `mapstructure:"password"`
	DB   int    `mapstructure:"db"`
}

// AuthConfig governs JWT validation at the WebSocket gateway's
// AwaitingAuth state (§4.4).
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

// AudioFabricConfig tunes the Audio Stream Fabric (§4.2, §6.3).
type AudioFabricConfig struct {
	DisconnectTTLSeconds int `mapstructure:"disconnect_ttl_seconds" default:"60"`
}

// GatewayConfig tunes the WebSocket Gateway (§4.4).
type GatewayConfig struct {
	OpusDecodePoolSize  int    `mapstructure:"opus_decode_pool_size"`
	BatchRotateMinutes  int    `mapstructure:"batch_rotate_minutes" default:"30"`
	DefaultSampleRate   int    `mapstructure:"default_sample_rate" default:"16000"`
	DefaultSampleWidth  int    `mapstructure:"default_sample_width" default:"2"`
	DefaultChannels     int    `mapstructure:"default_channels" default:"1"`
	StreamingSTTEnabled bool   `mapstructure:"streaming_stt_enabled"`
	STTProviderName     string `mapstructure:"stt_provider_name"`
}

// SpeechDetectionConfig tunes the Speech-Detection Job (§4.7).
type SpeechDetectionConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	ThresholdWords       int           `mapstructure:"threshold_words"`
	ThresholdSeconds     float64       `mapstructure:"threshold_seconds"`
	GracePeriod          time.Duration `mapstructure:"grace_period"`
	SpeakerCheckTimeout  time.Duration `mapstructure:"speaker_check_timeout"`
	Timeout              time.Duration `mapstructure:"timeout"`
}

// MonitorConfig tunes the Conversation Monitor Job (§4.8).
type MonitorConfig struct {
	TickInterval       time.Duration `mapstructure:"tick_interval"`
	InactivityTimeout  time.Duration `mapstructure:"inactivity_timeout"`
	MaxDuration        time.Duration `mapstructure:"max_duration"`
	Timeout            time.Duration `mapstructure:"timeout"`
	CloseWaitTimeout   time.Duration `mapstructure:"close_wait_timeout"`
	ChunkWaitTimeout   time.Duration `mapstructure:"chunk_wait_timeout"`
}

// PostChainConfig tunes the Post-Conversation Chain (§4.9) and records
// the Open Question decision about where memory extraction reads from.
type PostChainConfig struct {
	AlwaysBatchRetranscribe    bool   `mapstructure:"always_batch_retranscribe"`
	MemoryExtractionSource     string `mapstructure:"memory_extraction_source"` // "streaming" | "batch"
	SpeakerWindowSeconds       int    `mapstructure:"speaker_window_seconds"`
	SpeakerOverlapSeconds      int    `mapstructure:"speaker_overlap_seconds"`
	SpeakerLongAudioThreshold  int    `mapstructure:"speaker_long_audio_threshold_seconds"`
}

// PersistenceConfig tunes the Audio Persistence Worker (§4.5).
type PersistenceConfig struct {
	ChunkDurationSeconds float64 `mapstructure:"chunk_duration_seconds"`
	Timeout              time.Duration `mapstructure:"timeout"`
}

// ExternalServicesConfig addresses the opaque collaborators behind
// internal/stt, internal/speaker and internal/llm (§6.5) — out of core
// scope functionally, but the process still needs to know where to
// dial them.
type ExternalServicesConfig struct {
	WhisperURL           string        `mapstructure:"whisper_url"`
	StreamingChunkInterval time.Duration `mapstructure:"streaming_chunk_interval"`
	SpeakerServiceURL    string        `mapstructure:"speaker_service_url"`
	GeminiAPIKey         string        `mapstructure:"gemini_api_key"`
	GeminiModel          string        `mapstructure:"gemini_model"`
}

// QueueConfig tunes the Job Queue (C3, §4.3) — a dedicated asynq Redis
// connection, kept separate from RedisConfig since job-queue traffic is
// deployed on its own Redis instance in production.
type QueueConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Concurrency   int    `mapstructure:"concurrency" default:"10"`
}

type Settings struct {
	DB             DBConfig              `mapstructure:"database"`
	RedisDB        RedisConfig           `mapstructure:"redis"`
	Env            string                `mapstructure:"env"`
	Debug          bool                  `mapstructure:"debug" default:"false"`
	Auth           AuthConfig            `mapstructure:"auth"`
	AudioFabric    AudioFabricConfig     `mapstructure:"audio_fabric"`
	Gateway        GatewayConfig         `mapstructure:"gateway"`
	SpeechDetect   SpeechDetectionConfig `mapstructure:"speech_detection"`
	Monitor        MonitorConfig         `mapstructure:"monitor"`
	PostChain      PostChainConfig       `mapstructure:"post_chain"`
	Persistence    PersistenceConfig     `mapstructure:"persistence"`
	Queue          QueueConfig           `mapstructure:"queue"`
	External       ExternalServicesConfig `mapstructure:"external_services"`
	PluginConfigPath string              `mapstructure:"plugin_config_path"`
}

func Load() (*Settings, error) {
	if cfgPath := os.Getenv("VOICECORE_CONFIG"); cfgPath != "" {
		viper.SetConfigFile(cfgPath)
	} else {
		viper.SetConfigName("config_" + genEnv())
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/voicecore")
	}

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var settings Settings
	if err := viper.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&settings)

	return &settings, nil
}

func genEnv() string {
	env := viper.GetString("ENV")
	if env == "" {
		return "dev"
	}
	return env
}

func applyDefaults(s *Settings) {
	if s.SpeechDetect.PollInterval == 0 {
		s.SpeechDetect.PollInterval = 2 * time.Second
	}
	if s.SpeechDetect.ThresholdWords == 0 {
		s.SpeechDetect.ThresholdWords = 3
	}
	if s.SpeechDetect.ThresholdSeconds == 0 {
		s.SpeechDetect.ThresholdSeconds = 1.0
	}
	if s.SpeechDetect.GracePeriod == 0 {
		s.SpeechDetect.GracePeriod = 15 * time.Second
	}
	if s.SpeechDetect.SpeakerCheckTimeout == 0 {
		s.SpeechDetect.SpeakerCheckTimeout = 30 * time.Second
	}
	if s.SpeechDetect.Timeout == 0 {
		s.SpeechDetect.Timeout = 24*time.Hour - 60*time.Second
	}
	if s.Monitor.TickInterval == 0 {
		s.Monitor.TickInterval = time.Second
	}
	if s.Monitor.InactivityTimeout == 0 {
		s.Monitor.InactivityTimeout = 60 * time.Second
	}
	if s.Monitor.MaxDuration == 0 {
		s.Monitor.MaxDuration = 3 * time.Hour
	}
	if s.Monitor.Timeout == 0 {
		s.Monitor.Timeout = 3*time.Hour - 60*time.Second
	}
	if s.Monitor.CloseWaitTimeout == 0 {
		s.Monitor.CloseWaitTimeout = 30 * time.Second
	}
	if s.Monitor.ChunkWaitTimeout == 0 {
		s.Monitor.ChunkWaitTimeout = 30 * time.Second
	}
	if s.PostChain.MemoryExtractionSource == "" {
		s.PostChain.MemoryExtractionSource = "batch"
	}
	if s.PostChain.SpeakerWindowSeconds == 0 {
		s.PostChain.SpeakerWindowSeconds = 900
	}
	if s.PostChain.SpeakerOverlapSeconds == 0 {
		s.PostChain.SpeakerOverlapSeconds = 30
	}
	if s.PostChain.SpeakerLongAudioThreshold == 0 {
		s.PostChain.SpeakerLongAudioThreshold = 1500
	}
	if s.Persistence.ChunkDurationSeconds == 0 {
		s.Persistence.ChunkDurationSeconds = 30
	}
	if s.Persistence.Timeout == 0 {
		s.Persistence.Timeout = 24 * time.Hour
	}
	if s.Gateway.OpusDecodePoolSize == 0 {
		s.Gateway.OpusDecodePoolSize = 4
	}
	if s.Gateway.BatchRotateMinutes == 0 {
		s.Gateway.BatchRotateMinutes = 30
	}
	if s.Gateway.DefaultSampleRate == 0 {
		s.Gateway.DefaultSampleRate = 16000
	}
	if s.Gateway.DefaultSampleWidth == 0 {
		s.Gateway.DefaultSampleWidth = 2
	}
	if s.Gateway.DefaultChannels == 0 {
		s.Gateway.DefaultChannels = 1
	}
	if s.AudioFabric.DisconnectTTLSeconds == 0 {
		s.AudioFabric.DisconnectTTLSeconds = 60
	}
	if s.Auth.TokenTTLHours == 0 {
		s.Auth.TokenTTLHours = 24
	}
	if s.PluginConfigPath == "" {
		s.PluginConfigPath = "config/plugins.yaml"
	}
	if s.Queue.Concurrency == 0 {
		s.Queue.Concurrency = 10
	}
	if s.Queue.RedisAddr == "" {
		s.Queue.RedisAddr = s.RedisDB.Addr
	}
	if s.External.StreamingChunkInterval == 0 {
		s.External.StreamingChunkInterval = 5 * time.Second
	}
	if s.External.GeminiModel == "" {
		s.External.GeminiModel = "gemini-1.5-flash"
	}
}
