// Package config loads and validates the engine's YAML configuration
// (spec §6 EXTERNAL INTERFACES): providers, named pipelines, the active
// pipeline/provider selection, and the streaming/audiosocket/rtp/tools
// sub-trees. Grounded on iamprashant-voice-ai's api/integration-api/config
// package (viper + go-playground/validator, mapstructure tags, SetDefault
// for zero-value fallbacks) and on lookatitude-beluga-ai's shared use of
// the same two libraries.
package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ProviderEntry configures one named backend (an STT/LLM/TTS component or
// a full-agent provider like Deepgram's Voice Agent).
type ProviderEntry struct {
	Type    string         `mapstructure:"type" validate:"required"`
	APIKey  string         `mapstructure:"api_key"`
	BaseURL string         `mapstructure:"base_url"`
	Model   string         `mapstructure:"model"`
	Options map[string]any `mapstructure:"options"`
}

// PipelineEntry is one named {stt, llm, tts} + tool-allowlist combination,
// or a bare full-agent provider reference when stt/llm/tts are empty and
// a matching entry exists in Providers under the same key with
// Type == "deepgram_fullagent" or "local_fullagent".
type PipelineEntry struct {
	STT     string         `mapstructure:"stt"`
	LLM     string         `mapstructure:"llm"`
	TTS     string         `mapstructure:"tts"`
	Options map[string]any `mapstructure:"options"`
	Tools   []string       `mapstructure:"tools"`
}

// StreamingConfig is the §4.E streaming playback manager's tunables.
type StreamingConfig struct {
	SampleRate          int    `mapstructure:"sample_rate" validate:"required"`
	JitterBufferMs      int    `mapstructure:"jitter_buffer_ms" validate:"required"`
	ChunkSizeMs         int    `mapstructure:"chunk_size_ms" validate:"required"`
	MinStartMs          int    `mapstructure:"min_start_ms"`
	LowWatermarkMs      int    `mapstructure:"low_watermark_ms"`
	ProviderGraceMs     int    `mapstructure:"provider_grace_ms"`
	FallbackTimeoutMs   int    `mapstructure:"fallback_timeout_ms"`
	KeepaliveIntervalMs int    `mapstructure:"keepalive_interval_ms"`
	ConnectionTimeoutMs int    `mapstructure:"connection_timeout_ms"`
	GreetingMinStartMs  int    `mapstructure:"greeting_min_start_ms"`
	EgressSwapMode      string `mapstructure:"egress_swap_mode" validate:"omitempty,oneof=auto force_true force_false"`
	EgressForceMulaw    bool   `mapstructure:"egress_force_mulaw"`
	DiagEnableTaps      bool   `mapstructure:"diag_enable_taps"`
	DiagPreSecs         int    `mapstructure:"diag_pre_secs"`
	DiagPostSecs        int    `mapstructure:"diag_post_secs"`
	DiagOutDir          string `mapstructure:"diag_out_dir"`
}

// AudioSocketConfig is the §4.C transport's tunables.
type AudioSocketConfig struct {
	Format        string `mapstructure:"format"`
	BroadcastDebug bool  `mapstructure:"broadcast_debug"`
	ListenAddr    string `mapstructure:"listen_addr"`
}

// RTPConfig is the §4.B transport's tunables.
type RTPConfig struct {
	Host               string `mapstructure:"host" validate:"required"`
	PortRangeLow       int    `mapstructure:"port_range_low" validate:"required"`
	PortRangeHigh      int    `mapstructure:"port_range_high" validate:"required,gtfield=PortRangeLow"`
	Codec              string `mapstructure:"codec"`
	Format             string `mapstructure:"format"`
	SampleRate         int    `mapstructure:"sample_rate"`
	LockRemoteEndpoint bool   `mapstructure:"lock_remote_endpoint"`
	AllowedRemoteHosts []string `mapstructure:"allowed_remote_hosts"`
	RedisURL           string `mapstructure:"redis_url"`
	InstanceID         string `mapstructure:"instance_id"`
}

// ToolsConfig mirrors the tools.* keys §4.J tools read through
// ExecutionContext.ConfigValue.
type ToolsConfig struct {
	Destinations       map[string]any `mapstructure:"destinations"`
	AIIdentity         map[string]any `mapstructure:"ai_identity"`
	Transfer           map[string]any `mapstructure:"transfer"`
	AttendedTransfer   map[string]any `mapstructure:"attended_transfer"`
	HangupCall         map[string]any `mapstructure:"hangup_call"`
	RequestTranscript  map[string]any `mapstructure:"request_transcript"`
	LeaveVoicemail     map[string]any `mapstructure:"leave_voicemail"`
}

// ARIConfig is the Asterisk connection the engine façade dials.
type ARIConfig struct {
	BaseURL  string `mapstructure:"base_url" validate:"required"`
	WSURL    string `mapstructure:"ws_url" validate:"required"`
	AppName  string `mapstructure:"app_name" validate:"required"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Config is the root configuration structure.
type Config struct {
	ARI             ARIConfig                `mapstructure:"ari" validate:"required"`
	Providers       map[string]ProviderEntry `mapstructure:"providers"`
	Pipelines       map[string]PipelineEntry `mapstructure:"pipelines"`
	ActivePipeline  string                   `mapstructure:"active_pipeline"`
	DefaultProvider string                   `mapstructure:"default_provider"`
	Streaming       StreamingConfig          `mapstructure:"streaming" validate:"required"`
	AudioSocket     AudioSocketConfig        `mapstructure:"audiosocket"`
	RTP             RTPConfig                `mapstructure:"rtp" validate:"required"`
	Tools           ToolsConfig              `mapstructure:"tools"`
	MediaDir        string                   `mapstructure:"media_dir"`
	LogLevel        string                   `mapstructure:"log_level"`
}

// Value looks up a dotted key against the raw tools.* sub-tree, the shape
// pkg/tools.ExecutionContext.ConfigValue expects (e.g.
// "tools.attended_transfer", "tools.transfer").
func (c *Config) Value(key string) any {
	switch key {
	case "tools.destinations":
		return c.Tools.Destinations
	case "tools.ai_identity":
		return c.Tools.AIIdentity
	case "tools.transfer":
		return c.Tools.Transfer
	case "tools.attended_transfer":
		return c.Tools.AttendedTransfer
	case "tools.hangup_call":
		return c.Tools.HangupCall
	case "tools.request_transcript":
		return c.Tools.RequestTranscript
	case "tools.leave_voicemail":
		return c.Tools.LeaveVoicemail
	default:
		return nil
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("media_dir", "/tmp/ai-agent-fallback")
	v.SetDefault("active_pipeline", "")
	v.SetDefault("default_provider", "")

	v.SetDefault("streaming.sample_rate", 8000)
	v.SetDefault("streaming.jitter_buffer_ms", 200)
	v.SetDefault("streaming.chunk_size_ms", 20)
	v.SetDefault("streaming.min_start_ms", 60)
	v.SetDefault("streaming.low_watermark_ms", 40)
	v.SetDefault("streaming.provider_grace_ms", 1500)
	v.SetDefault("streaming.fallback_timeout_ms", 3000)
	v.SetDefault("streaming.keepalive_interval_ms", 5000)
	v.SetDefault("streaming.connection_timeout_ms", 15000)
	v.SetDefault("streaming.greeting_min_start_ms", 300)
	v.SetDefault("streaming.egress_swap_mode", "auto")

	v.SetDefault("rtp.host", "0.0.0.0")
	v.SetDefault("rtp.port_range_low", 10000)
	v.SetDefault("rtp.port_range_high", 20000)
	v.SetDefault("rtp.codec", "ulaw")

	v.SetDefault("audiosocket.format", "slin16")
}

// Load reads path (YAML), applies defaults, binds environment overrides,
// and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("AI_AGENT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}
