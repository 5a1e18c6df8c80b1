// Package config handles configuration loading for murmur-gateway.
//
// # Configuration File
//
// Locations, in priority order (resolved by the murmur-gateway binary):
//
//  1. --config flag
//  2. MURMUR_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/murmur/gateway.yaml
//  4. ~/.config/murmur/gateway.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML. Both
// formats use the same keys.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	tts:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	server:
//	  ping_interval: "30s"
//	dedupe:
//	  ttl: "10m"
//
// # Example
//
//	server:
//	  http_addr: "127.0.0.1:8765"
//
//	sessions:
//	  dir: "~/.local/share/murmur/sessions"
//	  keep_archived_transcripts: true
//
//	agent:
//	  runner: "http"
//	  url: "http://127.0.0.1:8766/run"
//	  default_agent: "Main"
//
//	tts:
//	  synthesizer: "http"
//	  url: "https://api.openai.com/v1/audio/speech"
//	  api_key: "${OPENAI_API_KEY}"
//	  voice: "alloy"
//
//	stt:
//	  transcriber: "http"
//	  url: "https://api.openai.com/v1/audio/transcriptions"
//	  api_key: "${OPENAI_API_KEY}"
//
//	logging:
//	  level: "info"
//	  format: "text"
//
// # Validation
//
// server.http_addr and sessions.dir are required. Selecting the http runner,
// synthesizer, or transcriber requires the matching url; the file synthesizer
// requires tts.fake_audio_path. Everything else has a default, applied by
// ApplyDefaults before Validate runs.
package config
