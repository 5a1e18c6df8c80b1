// ABOUTME: Gateway wires storage, event bus, orchestrator, speech, and archiver behind one HTTP server
// ABOUTME: Manages the server and dispatch loop lifecycle with graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/2389/murmur-gateway/internal/agent"
	"github.com/2389/murmur-gateway/internal/archive"
	"github.com/2389/murmur-gateway/internal/config"
	"github.com/2389/murmur-gateway/internal/conversation"
	"github.com/2389/murmur-gateway/internal/dedupe"
	"github.com/2389/murmur-gateway/internal/events"
	"github.com/2389/murmur-gateway/internal/speech"
	"github.com/2389/murmur-gateway/internal/store"
)

// shutdownTimeout bounds graceful shutdown once Run's context is canceled.
const shutdownTimeout = 5 * time.Second

// Gateway is the murmur-gateway server.
type Gateway struct {
	cfg    *config.Config
	logger *slog.Logger

	index        *store.SessionIndex
	summaries    *store.SummaryStore
	bus          *events.Bus
	orchestrator *conversation.Orchestrator
	archiver     *archive.Archiver
	dedupe       *dedupe.Cache

	runner      agent.Runner
	synthesizer speech.Synthesizer
	transcriber speech.Transcriber

	echo       *echo.Echo
	httpServer *http.Server
	upgrader   websocket.Upgrader

	// baseCtx scopes background turns; canceled by Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	turns      sync.WaitGroup

	// pending holds each session's FIFO of turns; the head is running.
	pendingMu sync.Mutex
	pending   map[string][]func(context.Context)

	clientsMu sync.Mutex
	clients   map[*Client]struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option overrides a collaborator that New would otherwise build from config.
type Option func(*Gateway)

// WithRunner sets the agent runner.
func WithRunner(r agent.Runner) Option {
	return func(g *Gateway) { g.runner = r }
}

// WithSynthesizer sets the speech synthesizer.
func WithSynthesizer(s speech.Synthesizer) Option {
	return func(g *Gateway) { g.synthesizer = s }
}

// WithTranscriber sets the voice input transcriber.
func WithTranscriber(t speech.Transcriber) Option {
	return func(g *Gateway) { g.transcriber = t }
}

// New builds a gateway from cfg. cfg must already have defaults applied.
// Pass nil logger for default.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gateway{
		cfg:     cfg,
		logger:  logger.With("component", "gateway"),
		pending: make(map[string][]func(context.Context)),
		clients: make(map[*Client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Browser UIs are served from other origins during development.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.buildCollaborators(logger); err != nil {
		return nil, err
	}

	g.index = store.NewSessionIndex(cfg.Sessions.Dir, logger)
	if _, err := g.index.Load(); err != nil {
		return nil, fmt.Errorf("loading session index: %w", err)
	}
	g.summaries = store.NewSummaryStore(cfg.Sessions.SummariesDir)
	g.bus = events.NewBus(cfg.Events.BufferSize, logger)
	g.dedupe = dedupe.New(cfg.Dedupe.TTL, cfg.Dedupe.MaxSize)

	voiceCfg := speech.VoiceConfig{
		Enabled:         cfg.TTS.EnabledByDefault,
		MinSegmentChars: cfg.TTS.MinSegmentChars,
		QueueSize:       cfg.TTS.QueueSize,
		Mime:            cfg.TTS.Mime,
	}
	registry := conversation.NewRegistry(g.index, cfg.Agent.DefaultAgent, func(sessionID string) *speech.Voice {
		return speech.NewVoice(sessionID, voiceCfg, g.synthesizer, g.bus, logger)
	})
	g.orchestrator = conversation.New(g.index, registry, g.runner, g.bus, conversation.Config{
		MaxTurns:    cfg.Agent.MaxTurns,
		Placeholder: cfg.Agent.Placeholder,
	}, logger)

	archiveCfg := archive.Config{
		DeleteAttempts: cfg.Sessions.DeleteAttempts,
		DeleteBackoff:  cfg.Sessions.DeleteBackoff,
	}
	if cfg.Sessions.KeepArchivedTranscripts {
		archiveCfg.ArchiveDir = cfg.Sessions.ArchiveDir
	}
	summarizer := archive.NewRunnerSummarizer(g.runner, cfg.Agent.SummarizerAgent)
	g.archiver = archive.New(g.index, g.summaries, summarizer, archiveCfg, logger)
	g.archiver.LockSessionWith(g.orchestrator.LockSession)
	g.archiver.OnArchived(g.orchestrator.Evict)
	g.archiver.OnArchived(g.dedupe.Forget)

	g.baseCtx, g.cancelBase = context.WithCancel(context.Background())

	g.echo = echo.New()
	g.echo.HideBanner = true
	g.echo.HidePort = true
	g.registerRoutes(g.echo)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// buildCollaborators fills in runner, synthesizer, and transcriber from config
// unless an Option already set them.
func (g *Gateway) buildCollaborators(logger *slog.Logger) error {
	cfg := g.cfg

	if g.runner == nil {
		switch cfg.Agent.Runner {
		case "http":
			g.runner = agent.NewHTTPRunner(cfg.Agent.URL, cfg.Agent.Timeout, logger)
		default:
			g.runner = &agent.EchoRunner{}
		}
	}

	if g.synthesizer == nil {
		switch cfg.TTS.Synthesizer {
		case "http":
			g.synthesizer = speech.NewHTTPSynthesizer(speech.HTTPSynthesizerConfig{
				URL:     cfg.TTS.URL,
				APIKey:  cfg.TTS.APIKey,
				Model:   cfg.TTS.Model,
				Voice:   cfg.TTS.Voice,
				Speed:   cfg.TTS.Speed,
				Timeout: cfg.TTS.Timeout,
			})
		case "file":
			fs, err := speech.NewFileSynthesizer(cfg.TTS.FakeAudioPath)
			if err != nil {
				return err
			}
			g.synthesizer = fs
		default:
			g.synthesizer = speech.SilentSynthesizer{}
		}
	}

	if g.transcriber == nil {
		switch cfg.STT.Transcriber {
		case "http":
			g.transcriber = speech.NewHTTPTranscriber(speech.HTTPTranscriberConfig{
				URL:     cfg.STT.URL,
				APIKey:  cfg.STT.APIKey,
				Model:   cfg.STT.Model,
				Timeout: cfg.STT.Timeout,
			})
		default:
			g.transcriber = speech.NoTranscriber{}
		}
	}
	return nil
}

// Handler returns the HTTP handler serving the API and WebSocket endpoint.
func (g *Gateway) Handler() http.Handler { return g.echo }

// Bus returns the event bus.
func (g *Gateway) Bus() *events.Bus { return g.bus }

// Run serves HTTP on server.http_addr and runs the event dispatch loop until
// ctx is canceled or either fails. It shuts down gracefully before returning.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.cfg.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		return g.bus.Run(gctx)
	})
	grp.Go(func() error {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	grp.Go(func() error {
		<-gctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		// The caller's context is already canceled.
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return g.Shutdown(sctx)
	})

	return grp.Wait()
}

// Shutdown stops accepting connections, cancels running turns, waits for
// them, and releases resources. Safe to call more than once.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down gateway")

		var errs []error
		if err := g.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
		}
		g.closeClients()

		g.cancelBase()
		done := make(chan struct{})
		go func() {
			g.turns.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("waiting for turns: %w", ctx.Err()))
		}

		g.orchestrator.Registry().Close()
		g.dedupe.Close()
		g.bus.Close()

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}
