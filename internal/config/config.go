// ABOUTME: Configuration loading and parsing for murmur-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete murmur-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Sessions SessionsConfig `yaml:"sessions" toml:"sessions"`
	Agent    AgentConfig    `yaml:"agent" toml:"agent"`
	TTS      TTSConfig      `yaml:"tts" toml:"tts"`
	STT      STTConfig      `yaml:"stt" toml:"stt"`
	Events   EventsConfig   `yaml:"events" toml:"events"`
	Dedupe   DedupeConfig   `yaml:"dedupe" toml:"dedupe"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// ServerConfig holds the HTTP/WebSocket listener configuration
type ServerConfig struct {
	HTTPAddr        string `yaml:"http_addr" toml:"http_addr"`
	MaxMessageBytes int64  `yaml:"max_message_bytes" toml:"max_message_bytes"`

	ReadTimeout  time.Duration `yaml:"-" toml:"-"`
	WriteTimeout time.Duration `yaml:"-" toml:"-"`
	PingInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ReadTimeoutRaw  string `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval"`
}

// SessionsConfig holds transcript storage and archival settings
type SessionsConfig struct {
	Dir                     string `yaml:"dir" toml:"dir"`
	SummariesDir            string `yaml:"summaries_dir" toml:"summaries_dir"`
	ArchiveDir              string `yaml:"archive_dir" toml:"archive_dir"`
	KeepArchivedTranscripts bool   `yaml:"keep_archived_transcripts" toml:"keep_archived_transcripts"`
	// HistoryLimit is how many records are replayed to a client on connect
	HistoryLimit   int `yaml:"history_limit" toml:"history_limit"`
	DeleteAttempts int `yaml:"delete_attempts" toml:"delete_attempts"`

	DeleteBackoff    time.Duration `yaml:"-" toml:"-"`
	DeleteBackoffRaw string        `yaml:"delete_backoff" toml:"delete_backoff"`
}

// AgentConfig selects and tunes the agent runner
type AgentConfig struct {
	Runner          string `yaml:"runner" toml:"runner"` // echo | http
	URL             string `yaml:"url" toml:"url"`
	MaxTurns        int    `yaml:"max_turns" toml:"max_turns"`
	DefaultAgent    string `yaml:"default_agent" toml:"default_agent"`
	SummarizerAgent string `yaml:"summarizer_agent" toml:"summarizer_agent"`
	Placeholder     string `yaml:"placeholder" toml:"placeholder"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// TTSConfig holds speech synthesis settings
type TTSConfig struct {
	EnabledByDefault bool    `yaml:"enabled_by_default" toml:"enabled_by_default"`
	MinSegmentChars  int     `yaml:"min_segment_chars" toml:"min_segment_chars"`
	QueueSize        int     `yaml:"queue_size" toml:"queue_size"`
	Synthesizer      string  `yaml:"synthesizer" toml:"synthesizer"` // http | file | none
	URL              string  `yaml:"url" toml:"url"`
	APIKey           string  `yaml:"api_key" toml:"api_key"`
	Model            string  `yaml:"model" toml:"model"`
	Voice            string  `yaml:"voice" toml:"voice"`
	Speed            float64 `yaml:"speed" toml:"speed"`
	Mime             string  `yaml:"mime" toml:"mime"`
	FakeAudioPath    string  `yaml:"fake_audio_path" toml:"fake_audio_path"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// STTConfig holds speech-to-text settings for voice input
type STTConfig struct {
	Transcriber   string `yaml:"transcriber" toml:"transcriber"` // http | none
	URL           string `yaml:"url" toml:"url"`
	APIKey        string `yaml:"api_key" toml:"api_key"`
	Model         string `yaml:"model" toml:"model"`
	MaxInputBytes int64  `yaml:"max_input_bytes" toml:"max_input_bytes"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// EventsConfig holds event bus settings
type EventsConfig struct {
	BufferSize int `yaml:"buffer_size" toml:"buffer_size"`
}

// DedupeConfig holds inbound message deduplication settings
type DedupeConfig struct {
	MaxSize int `yaml:"max_size" toml:"max_size"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Defaults are applied before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

// Defaults
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
	DefaultPingInterval    = 30 * time.Second
	DefaultMaxMessageBytes = 32 << 20
	DefaultHistoryLimit    = 200
	DefaultDeleteAttempts  = 20
	DefaultDeleteBackoff   = 100 * time.Millisecond
	DefaultMaxTurns        = 20
	DefaultAgentName       = "Main"
	DefaultPlaceholder     = "(no response)"
	DefaultAgentTimeout    = 5 * time.Minute
	DefaultMinSegmentChars = 16
	DefaultQueueSize       = 200
	DefaultMime            = "audio/mpeg"
	DefaultTTSTimeout      = 30 * time.Second
	DefaultMaxInputBytes   = 20 << 20
	DefaultSTTTimeout      = 60 * time.Second
	DefaultBufferSize      = 256
	DefaultDedupeTTL       = 10 * time.Minute
	DefaultDedupeMaxSize   = 10000
)

// ApplyDefaults fills every unset field with its default. Sibling directories
// of sessions.dir are used for summaries and archived transcripts.
func (c *Config) ApplyDefaults() {
	setDuration(&c.Server.ReadTimeout, DefaultReadTimeout)
	setDuration(&c.Server.WriteTimeout, DefaultWriteTimeout)
	setDuration(&c.Server.PingInterval, DefaultPingInterval)
	setInt64(&c.Server.MaxMessageBytes, DefaultMaxMessageBytes)

	if c.Sessions.Dir != "" {
		parent := filepath.Dir(filepath.Clean(c.Sessions.Dir))
		setString(&c.Sessions.SummariesDir, filepath.Join(parent, "summaries"))
		setString(&c.Sessions.ArchiveDir, filepath.Join(parent, "archive"))
	}
	setInt(&c.Sessions.HistoryLimit, DefaultHistoryLimit)
	setInt(&c.Sessions.DeleteAttempts, DefaultDeleteAttempts)
	setDuration(&c.Sessions.DeleteBackoff, DefaultDeleteBackoff)

	setString(&c.Agent.Runner, "echo")
	setInt(&c.Agent.MaxTurns, DefaultMaxTurns)
	setString(&c.Agent.DefaultAgent, DefaultAgentName)
	setString(&c.Agent.SummarizerAgent, c.Agent.DefaultAgent)
	setString(&c.Agent.Placeholder, DefaultPlaceholder)
	setDuration(&c.Agent.Timeout, DefaultAgentTimeout)

	setInt(&c.TTS.MinSegmentChars, DefaultMinSegmentChars)
	setInt(&c.TTS.QueueSize, DefaultQueueSize)
	setString(&c.TTS.Synthesizer, "none")
	setString(&c.TTS.Mime, DefaultMime)
	setDuration(&c.TTS.Timeout, DefaultTTSTimeout)

	setString(&c.STT.Transcriber, "none")
	setInt64(&c.STT.MaxInputBytes, DefaultMaxInputBytes)
	setDuration(&c.STT.Timeout, DefaultSTTTimeout)

	setInt(&c.Events.BufferSize, DefaultBufferSize)

	setDuration(&c.Dedupe.TTL, DefaultDedupeTTL)
	setInt(&c.Dedupe.MaxSize, DefaultDedupeMaxSize)

	setString(&c.Logging.Level, "info")
	setString(&c.Logging.Format, "text")
}

func setString(p *string, v string) {
	if *p == "" {
		*p = v
	}
}

func setInt(p *int, v int) {
	if *p <= 0 {
		*p = v
	}
}

func setInt64(p *int64, v int64) {
	if *p <= 0 {
		*p = v
	}
}

func setDuration(p *time.Duration, v time.Duration) {
	if *p <= 0 {
		*p = v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Sessions.Dir == "" {
		return fmt.Errorf("sessions.dir is required")
	}

	switch c.Agent.Runner {
	case "", "echo":
	case "http":
		if c.Agent.URL == "" {
			return fmt.Errorf("agent.url is required when agent.runner is http")
		}
	default:
		return fmt.Errorf("agent.runner must be echo or http, got %q", c.Agent.Runner)
	}
	if strings.TrimSpace(c.Agent.Placeholder) == "" && c.Agent.Placeholder != "" {
		return fmt.Errorf("agent.placeholder must not be blank")
	}

	switch c.TTS.Synthesizer {
	case "", "none":
	case "http":
		if c.TTS.URL == "" {
			return fmt.Errorf("tts.url is required when tts.synthesizer is http")
		}
	case "file":
		if c.TTS.FakeAudioPath == "" {
			return fmt.Errorf("tts.fake_audio_path is required when tts.synthesizer is file")
		}
	default:
		return fmt.Errorf("tts.synthesizer must be http, file, or none, got %q", c.TTS.Synthesizer)
	}

	switch c.STT.Transcriber {
	case "", "none":
	case "http":
		if c.STT.URL == "" {
			return fmt.Errorf("stt.url is required when stt.transcriber is http")
		}
	default:
		return fmt.Errorf("stt.transcriber must be http or none, got %q", c.STT.Transcriber)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", cfg.Server.ReadTimeoutRaw, &cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeoutRaw, &cfg.Server.WriteTimeout},
		{"server.ping_interval", cfg.Server.PingIntervalRaw, &cfg.Server.PingInterval},
		{"sessions.delete_backoff", cfg.Sessions.DeleteBackoffRaw, &cfg.Sessions.DeleteBackoff},
		{"agent.timeout", cfg.Agent.TimeoutRaw, &cfg.Agent.Timeout},
		{"tts.timeout", cfg.TTS.TimeoutRaw, &cfg.TTS.Timeout},
		{"stt.timeout", cfg.STT.TimeoutRaw, &cfg.STT.Timeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
