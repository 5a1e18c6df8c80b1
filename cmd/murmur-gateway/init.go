// ABOUTME: Interactive config file generator for murmur-gateway
// ABOUTME: Prompts for the essentials and writes a commented YAML file

package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func runInit(defaultPath string) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("murmur-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", defaultPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server ---")
	httpAddr := prompt(reader, "HTTP address", "127.0.0.1:8765")

	fmt.Println("\n--- Sessions ---")
	sessionsDir := prompt(reader, "Sessions directory", filepath.Join(dataPath(), "sessions"))
	keepArchived := isYes(prompt(reader, "Keep compressed copies of archived transcripts?", "yes"))

	fmt.Println("\n--- Agent ---")
	runner := prompt(reader, "Runner (echo/http)", "echo")
	var runnerURL string
	if runner == "http" {
		runnerURL = prompt(reader, "Runner URL", "http://127.0.0.1:8766/run")
	}
	defaultAgent := prompt(reader, "Default agent name", "Main")

	fmt.Println("\n--- Speech ---")
	synth := prompt(reader, "Synthesizer (http/file/none)", "none")
	var ttsURL, fakeAudio string
	switch synth {
	case "http":
		ttsURL = prompt(reader, "Speech endpoint", "https://api.openai.com/v1/audio/speech")
	case "file":
		fakeAudio = prompt(reader, "Audio file served for every segment", "")
	}
	transcriber := prompt(reader, "Transcriber (http/none)", "none")
	var sttURL string
	if transcriber == "http" {
		sttURL = prompt(reader, "Transcription endpoint", "https://api.openai.com/v1/audio/transcriptions")
	}

	fmt.Println("\n--- Logging ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# murmur-gateway configuration\n")
	cfg.WriteString("# Generated by murmur-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("sessions:\n")
	fmt.Fprintf(&cfg, "  dir: %q\n", sessionsDir)
	fmt.Fprintf(&cfg, "  keep_archived_transcripts: %t\n\n", keepArchived)

	cfg.WriteString("agent:\n")
	fmt.Fprintf(&cfg, "  runner: %q\n", runner)
	if runnerURL != "" {
		fmt.Fprintf(&cfg, "  url: %q\n", runnerURL)
	}
	fmt.Fprintf(&cfg, "  default_agent: %q\n\n", defaultAgent)

	cfg.WriteString("tts:\n")
	fmt.Fprintf(&cfg, "  synthesizer: %q\n", synth)
	if ttsURL != "" {
		fmt.Fprintf(&cfg, "  url: %q\n", ttsURL)
		cfg.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
		cfg.WriteString("  model: \"tts-1\"\n")
		cfg.WriteString("  voice: \"alloy\"\n")
	}
	if fakeAudio != "" {
		fmt.Fprintf(&cfg, "  fake_audio_path: %q\n", fakeAudio)
	}
	cfg.WriteString("\n")

	cfg.WriteString("stt:\n")
	fmt.Fprintf(&cfg, "  transcriber: %q\n", transcriber)
	if sttURL != "" {
		fmt.Fprintf(&cfg, "  url: %q\n", sttURL)
		cfg.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
		cfg.WriteString("  model: \"whisper-1\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n", logFormat)

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(sessionsDir, 0755); err != nil {
		return fmt.Errorf("creating sessions directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Sessions directory: %s\n", sessionsDir)
	fmt.Println("\nTo start the server:")
	fmt.Println("  murmur-gateway serve")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
