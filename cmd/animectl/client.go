package main

import (
	"log/slog"
	"os"

	"animesearch/internal/app"
	"animesearch/internal/jikan"
)

// newClient loads the same environment as the server; logs go to stderr so
// they never mix with command output.
func newClient() (*jikan.Client, app.Config, func()) {
	cfg := app.LoadConfig()
	logger := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	client, closeFn := app.NewJikanClient(cfg, logger)
	return client, cfg, closeFn
}
