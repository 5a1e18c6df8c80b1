// ABOUTME: Entry point for murmur-gateway, the conversational agent backend
// ABOUTME: Dispatches serve, init, health, and sessions subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/murmur-gateway/internal/config"
	"github.com/2389/murmur-gateway/internal/gateway"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
  _ __ ___  _   _ _ __ _ __ ___  _   _ _ __
 | '_ ' _ \| | | | '__| '_ ' _ \| | | | '__|
 | | | | | | |_| | |  | | | | | | |_| | |
 |_| |_| |_|\__,_|_|  |_| |_| |_|\__,_|_|
`

const usage = `Usage: murmur-gateway <command> [--config PATH]

Commands:
  serve                      Start the gateway server
  init                       Create a new config file interactively
  health                     Check gateway health
  sessions list              List sessions and the active one
  sessions create            Create a new active session
  sessions activate ID       Make ID the active session
  sessions archive ID        Summarize and archive session ID
`

// defaultConfigPath returns the path to the gateway config file.
// Priority: MURMUR_CONFIG env var > XDG_CONFIG_HOME/murmur/gateway.yaml > ~/.config/murmur/gateway.yaml
func defaultConfigPath() string {
	if envPath := os.Getenv("MURMUR_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "murmur", "gateway.yaml")
}

// dataPath returns the murmur data directory.
// Priority: XDG_DATA_HOME/murmur > ~/.local/share/murmur
func dataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "murmur")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	flags := pflag.NewFlagSet("murmur-gateway", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", defaultConfigPath(), "path to the config file (.yaml or .toml)")
	flags.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	if err := flags.Parse(os.Args[2:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, *configPath)
	case "init":
		err = runInit(*configPath)
	case "health":
		err = runHealth(ctx, *configPath)
	case "sessions":
		err = runSessions(ctx, *configPath, flags.Args())
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context, configPath string) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Sessions:  %s\n", cfg.Sessions.Dir)
	green.Print("    ▶ ")
	fmt.Printf("Runner:    %s", cfg.Agent.Runner)
	if cfg.Agent.Runner == "http" {
		gray.Printf(" (%s)", cfg.Agent.URL)
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("Speech:    tts=%s stt=%s", cfg.TTS.Synthesizer, cfg.STT.Transcriber)
	if cfg.TTS.EnabledByDefault {
		yellow.Print(" [voice on]")
	}
	fmt.Println()
	fmt.Println()

	logger.Info("starting murmur-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"sessions_dir", cfg.Sessions.Dir,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}
