package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/financecommander/AI-PORTAL-sub000/internal/auth"
	"github.com/financecommander/AI-PORTAL-sub000/internal/config"
	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
	"github.com/financecommander/AI-PORTAL-sub000/internal/pipeline"
)

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run and inspect multi-agent pipelines",
}

var pipelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the pipelines the backend offers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		setupLogging(cfg)

		client := buildClient(cfg, auth.NewSession(cfg.Token))
		pipelines, err := client.ListPipelines(cmd.Context())
		if err != nil {
			return err
		}
		if len(pipelines) == 0 {
			fmt.Println("No pipelines available.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tAGENTS\tDESCRIPTION")
		for _, p := range pipelines {
			fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, strings.Join(p.Agents, ","), p.Description)
		}
		return w.Flush()
	},
}

var pipelineRunCmd = &cobra.Command{
	Use:   "run <name>",
	Short: "Run a pipeline and stream agent progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runPipeline,
}

func init() {
	rootCmd.AddCommand(pipelineCmd)
	pipelineCmd.AddCommand(pipelineListCmd)
	pipelineCmd.AddCommand(pipelineRunCmd)

	pipelineRunCmd.Flags().String("query", "", "Query the pipeline should work on")
	pipelineRunCmd.MarkFlagRequired("query")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	setupLogging(cfg)

	name := args[0]
	query, _ := cmd.Flags().GetString("query")

	ctx := cmd.Context()
	session := auth.NewSession(cfg.Token)
	client := buildClient(cfg, session)

	pipelines, err := client.ListPipelines(ctx)
	if err != nil {
		return err
	}
	var agents []string
	for _, p := range pipelines {
		if p.Name == name {
			agents = p.Agents
			break
		}
	}
	if agents == nil {
		names := make([]string, len(pipelines))
		for i, p := range pipelines {
			names[i] = p.Name
		}
		return fmt.Errorf("unknown pipeline %s (available: %s)", name, strings.Join(names, ", "))
	}

	printer := newRunPrinter()
	tracker := pipeline.New(client, cfg.WebSocketURL(), session, printer.observe)

	run, err := tracker.Run(ctx, name, agents, query)
	if err != nil {
		return err
	}
	fmt.Printf("Submitted %s run %s.\n", name, run.ID)

	select {
	case <-ctx.Done():
		tracker.Reset()
		return ctx.Err()
	case final := <-printer.terminal:
		if final.Status == domain.PipelineStatusError {
			return fmt.Errorf("pipeline failed: %s", final.Error)
		}
		fmt.Printf("\n%s\n\n", final.Output)
		fmt.Printf("Completed in %dms (%d tokens, $%.4f).\n", final.DurationMs, final.TotalTokens, final.TotalCost)
		return nil
	}
}

// runPrinter turns run snapshots into progress lines. Each agent gets one
// line when it starts and one when it finishes; the terminal snapshot is
// handed to the command loop for the final report.
type runPrinter struct {
	mu       sync.Mutex
	started  map[string]bool
	finished map[string]bool
	done     bool
	terminal chan *domain.PipelineRun
}

func newRunPrinter() *runPrinter {
	return &runPrinter{
		started:  make(map[string]bool),
		finished: make(map[string]bool),
		terminal: make(chan *domain.PipelineRun, 1),
	}
}

func (p *runPrinter) observe(run *domain.PipelineRun) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range run.Agents {
		if slot.Status != domain.AgentStatusPending && !p.started[slot.Name] {
			p.started[slot.Name] = true
			fmt.Printf("%s: running\n", slot.Name)
		}
		if slot.Status.Terminal() && !p.finished[slot.Name] {
			p.finished[slot.Name] = true
			fmt.Printf("%s: %s%s\n", slot.Name, slot.Status, metricsLabel(slot.Metrics))
		}
	}
	if run.Status.Terminal() && !p.done {
		p.done = true
		p.terminal <- run
	}
}

func metricsLabel(m *domain.AgentMetrics) string {
	if m == nil {
		return ""
	}
	var parts []string
	switch {
	case m.InputTokens != 0 || m.OutputTokens != 0:
		parts = append(parts, fmt.Sprintf("%d in / %d out tokens", m.InputTokens, m.OutputTokens))
	case m.Tokens != 0:
		parts = append(parts, fmt.Sprintf("%d tokens", m.Tokens))
	}
	if m.Cost != 0 {
		parts = append(parts, fmt.Sprintf("$%.4f", m.Cost))
	}
	if m.DurationMs != 0 {
		parts = append(parts, fmt.Sprintf("%dms", m.DurationMs))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}
