package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/financecommander/AI-PORTAL-sub000/internal/attach"
	"github.com/financecommander/AI-PORTAL-sub000/internal/auth"
	"github.com/financecommander/AI-PORTAL-sub000/internal/backend"
	"github.com/financecommander/AI-PORTAL-sub000/internal/config"
	"github.com/financecommander/AI-PORTAL-sub000/internal/conversation"
	"github.com/financecommander/AI-PORTAL-sub000/internal/history"
	"github.com/financecommander/AI-PORTAL-sub000/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "portal",
	Short: "Terminal console for the AI portal backend",
	Long:  "portal streams specialist chat replies, tracks multi-agent pipeline runs, and manages stored conversations.",
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cfg *config.Config) {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func buildClient(cfg *config.Config, session *auth.Session) *backend.Client {
	return backend.NewClient(cfg.APIURL, session, cfg.RequestTimeout)
}

func openStore(cfg *config.Config) (store.Store, error) {
	st, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store at %s: %w", cfg.DBPath, err)
	}
	return st, nil
}

// buildManager wires the conversation manager and its collaborators. The
// returned cleanup closes the store.
func buildManager(cfg *config.Config, session *auth.Session) (*conversation.Manager, func(), error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	hist, err := history.New(cfg.TokenizerModel, cfg.HistoryBudget)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("build history window: %w", err)
	}

	limits := attach.Limits{MaxFileBytes: cfg.MaxFileBytes, MaxFiles: cfg.MaxFiles}
	m := conversation.NewManager(st, buildClient(cfg, session), hist, limits)
	return m, func() { st.Close() }, nil
}
