// ABOUTME: Standalone echo agent runner serving the NDJSON run protocol over HTTP
// ABOUTME: Usage: murmur-runner [--addr 127.0.0.1:8766] [--delay 20ms]

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/pflag"

	"github.com/2389/murmur-gateway/internal/agent"
)

func main() {
	addr := pflag.String("addr", "127.0.0.1:8766", "listen address")
	delay := pflag.Duration("delay", 20*time.Millisecond, "pause between streamed words")
	pflag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *addr, *delay, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr string, delay time.Duration, logger *slog.Logger) error {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})
	agent.NewHandler(&agent.EchoRunner{Delay: delay}, logger).Register(e)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("runner listening", "addr", addr)
		errCh <- e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("runner shutting down")
	return e.Shutdown(shutdownCtx)
}
