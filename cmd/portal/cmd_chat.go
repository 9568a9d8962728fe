package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/financecommander/AI-PORTAL-sub000/internal/attach"
	"github.com/financecommander/AI-PORTAL-sub000/internal/auth"
	"github.com/financecommander/AI-PORTAL-sub000/internal/chat"
	"github.com/financecommander/AI-PORTAL-sub000/internal/config"
	"github.com/financecommander/AI-PORTAL-sub000/internal/conversation"
	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session against the portal backend.

Messages stream back token by token. Slash commands inside the session:

  /stop              stop the current reply, keep what arrived
  /new               start a fresh conversation with the same target
  /switch <id>       switch to a specialist (resets the conversation)
  /switch <prov> <model>  switch to a raw provider/model pair
  /attach <path>     attach a file to the next message
  /quit              leave the session`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("specialist", "", "Specialist ID to chat with")
	chatCmd.Flags().String("provider", "", "Provider for a raw model target")
	chatCmd.Flags().String("model", "", "Model for a raw model target")
	chatCmd.Flags().String("conversation", "", "Conversation ID to resume")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	setupLogging(cfg)

	specialist, _ := cmd.Flags().GetString("specialist")
	provider, _ := cmd.Flags().GetString("provider")
	model, _ := cmd.Flags().GetString("model")
	convID, _ := cmd.Flags().GetString("conversation")

	target, err := resolveTarget(specialist, provider, model)
	if err != nil {
		return err
	}
	if target.IsZero() && convID == "" {
		return fmt.Errorf("select a target with --specialist or --provider/--model, or resume with --conversation")
	}
	if !target.IsZero() && convID != "" {
		return fmt.Errorf("cannot combine --conversation with a target flag; the stored conversation keeps its target")
	}

	session := auth.NewSession(cfg.Token)
	m, cleanup, err := buildManager(cfg, session)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if convID != "" {
		if err := m.Load(ctx, convID); err != nil {
			return err
		}
		printTranscript(m.Transcript())
	}
	if !target.IsZero() {
		m.SetTarget(target)
	}

	fmt.Printf("Chatting with %s. /quit to leave.\n", m.Target().Describe())

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	var pending []domain.Attachment
	prompt()
	for {
		select {
		case <-ctx.Done():
			m.StopStreaming()
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				m.StopStreaming()
				return nil
			}
			line = strings.TrimSpace(line)
			if line == "" {
				prompt()
				continue
			}
			if strings.HasPrefix(line, "/") {
				if quit := handleCommand(m, line, &pending); quit {
					return nil
				}
				prompt()
				continue
			}

			atts := pending
			pending = nil
			sess, err := m.Send(ctx, line, atts, func(delta string) { fmt.Print(delta) })
			if err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
				pending = atts
				prompt()
				continue
			}
			streamWait(ctx, m, sess, lines)
			prompt()
		}
	}
}

// streamWait blocks until the active reply finishes. Input typed while
// streaming is consumed here so /stop works mid-reply.
func streamWait(ctx context.Context, m *conversation.Manager, sess *chat.Session, lines chan string) {
	for {
		select {
		case <-sess.Done():
			fmt.Println()
			reportOutcome(sess)
			return
		case <-ctx.Done():
			m.StopStreaming()
			<-sess.Done()
			fmt.Println()
			return
		case line, ok := <-lines:
			if !ok {
				m.StopStreaming()
				<-sess.Done()
				return
			}
			if strings.TrimSpace(line) == "/stop" {
				m.StopStreaming()
				continue
			}
			fmt.Fprintln(os.Stderr, "(still streaming; /stop to interrupt)")
		}
	}
}

func reportOutcome(sess *chat.Session) {
	if err := sess.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "stream error: %v (partial reply kept)\n", err)
		return
	}
	if sess.Cancelled() {
		fmt.Println("[stopped]")
		return
	}
	if met := sess.Reply().Metering; met != nil {
		fmt.Printf("[%d in / %d out tokens, $%.4f]\n", met.InputTokens, met.OutputTokens, met.CostUSD)
	}
}

// handleCommand runs one slash command. It reports whether the session
// should end.
func handleCommand(m *conversation.Manager, line string, pending *[]domain.Attachment) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		m.StopStreaming()
		return true
	case "/stop":
		m.StopStreaming()
	case "/new":
		m.StartNew()
		fmt.Println("Started a new conversation.")
	case "/switch":
		target, err := resolveSwitch(fields[1:])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return false
		}
		m.SetTarget(target)
		fmt.Printf("Target set to %s. Conversation reset.\n", target.Describe())
	case "/attach":
		if len(fields) != 2 {
			fmt.Fprintln(os.Stderr, "usage: /attach <path>")
			return false
		}
		att, err := loadAttachment(fields[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return false
		}
		*pending = append(*pending, att)
		fmt.Printf("Attached %s (%d bytes). Sends with your next message.\n", att.Filename, att.SizeBytes)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %s\n", fields[0])
	}
	return false
}

func resolveTarget(specialist, provider, model string) (domain.Target, error) {
	if specialist != "" {
		if provider != "" || model != "" {
			return domain.Target{}, fmt.Errorf("--specialist cannot be combined with --provider/--model")
		}
		return domain.Target{SpecialistID: specialist}, nil
	}
	if provider != "" || model != "" {
		if provider == "" || model == "" {
			return domain.Target{}, fmt.Errorf("--provider and --model must be set together")
		}
		return domain.Target{Provider: provider, Model: model}, nil
	}
	return domain.Target{}, nil
}

func resolveSwitch(args []string) (domain.Target, error) {
	switch len(args) {
	case 1:
		return domain.Target{SpecialistID: args[0]}, nil
	case 2:
		return domain.Target{Provider: args[0], Model: args[1]}, nil
	default:
		return domain.Target{}, fmt.Errorf("usage: /switch <specialist> or /switch <provider> <model>")
	}
}

func loadAttachment(path string) (domain.Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("read %s: %w", path, err)
	}
	return attach.Build(filepath.Base(path), data)
}

func printTranscript(exchanges []*domain.Exchange) {
	for _, e := range exchanges {
		if e.Status == domain.ExchangeStatusDiscarded {
			continue
		}
		switch e.Role {
		case domain.RoleUser:
			fmt.Printf("you> %s\n", e.Content)
		case domain.RoleAssistant:
			fmt.Println(e.Content)
		}
	}
}

func prompt() {
	fmt.Print("you> ")
}
