package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/IncredibleDevHQ/agent-panel/config"
	"github.com/IncredibleDevHQ/agent-panel/internal/app"
	"github.com/IncredibleDevHQ/agent-panel/internal/logging"
)

// CLI is the root command structure.
type CLI struct {
	Config   string `short:"c" help:"Path to config file" type:"path" env:"AGENTPANEL_CONFIG"`
	LogLevel string `help:"Override log level (debug, info, warn, error)" env:"AGENTPANEL_LOG_LEVEL"`

	Models ModelsCmd `cmd:"" help:"List available models"`
	Chat   ChatCmd   `cmd:"" help:"Send a prompt and print the reply"`
}

// setup loads the configuration, installs the logger and builds the app.
// Metrics, when enabled, are served until ctx is cancelled.
func (c *CLI) setup(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(c.Config)
	if err != nil {
		return nil, err
	}
	if c.LogLevel != "" {
		cfg.Log.Level = c.LogLevel
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	a, err := app.New(ctx, app.Config{AppConfig: cfg, Logger: logger})
	if err != nil {
		return nil, err
	}

	go func() {
		if err := a.ServeMetrics(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()
	return a, nil
}

func shutdown(a *app.App) {
	if err := a.Shutdown(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
}
