package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/financecommander/AI-PORTAL-sub000/internal/config"
	"github.com/financecommander/AI-PORTAL-sub000/internal/stub"
)

var stubCmd = &cobra.Command{
	Use:   "stub",
	Short: "Run the local stub backend",
	Long: `Run a local backend that serves the chat, pipeline, and roster
endpoints with scripted replies. Useful for trying the console without
a real deployment; the other commands point at it by default.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg)

		port, _ := cmd.Flags().GetInt("port")
		if port == 0 {
			port = cfg.StubPort
		}
		delay, _ := cmd.Flags().GetDuration("delay")

		srv := stub.NewServer(cfg.Token)
		srv.StreamDelay = delay

		addr := fmt.Sprintf(":%d", port)
		slog.Info("stub backend listening", "addr", addr, "auth", cfg.Token != "")
		return srv.Run(cmd.Context(), addr)
	},
}

func init() {
	rootCmd.AddCommand(stubCmd)
	stubCmd.Flags().Int("port", 0, "Port to listen on (defaults to PORTAL_STUB_PORT)")
	stubCmd.Flags().Duration("delay", 40*time.Millisecond, "Delay between streamed chunks")
}
