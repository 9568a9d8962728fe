package stub

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"

	"github.com/financecommander/AI-PORTAL-sub000/internal/auth"
	"github.com/financecommander/AI-PORTAL-sub000/internal/backend"
	"github.com/financecommander/AI-PORTAL-sub000/internal/chat"
	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
	"github.com/financecommander/AI-PORTAL-sub000/internal/pipeline"
)

func newStubFixture(t *testing.T, token string) (*httptest.Server, *auth.Session, *backend.Client) {
	t.Helper()
	server := httptest.NewServer(NewServer(token).Handler())
	t.Cleanup(server.Close)

	session := auth.NewSession(token)
	client := backend.NewClient(server.URL, session, 2*time.Second)
	return server, session, client
}

func wsBase(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http")
}

func waitDone(t *testing.T, s *chat.Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish in time")
	}
}

func waitTerminal(t *testing.T, tr *pipeline.Tracker) {
	t.Helper()
	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not reach a terminal state in time")
	}
}

func TestChatStreamEndToEnd(t *testing.T) {
	_, _, client := newStubFixture(t, "stub-tok")

	history := []domain.HistoryMessage{
		{Role: domain.RoleUser, Content: "what moved rates today"},
		{Role: domain.RoleAssistant, Content: "the long end sold off"},
	}
	s, err := chat.Begin(context.Background(), client, chat.Params{
		Target:  domain.Target{SpecialistID: "analyst"},
		Prompt:  "and credit spreads?",
		History: history,
	})
	assert.NoError(t, err)
	waitDone(t, s)

	want := scriptReply(&domain.ChatRequest{
		SpecialistID:        "analyst",
		Message:             "and credit spreads?",
		ConversationHistory: history,
	})
	reply := s.Reply()
	assert.Equal(t, want, reply.Content)
	assert.True(t, strings.HasPrefix(reply.Content, "Building on 2 prior turns"))
	assert.Equal(t, domain.ExchangeStatusClosed, reply.Status)

	if assert.NotNil(t, reply.Metering) {
		wantInput := wordCount("and credit spreads?") + wordCount(history[0].Content) + wordCount(history[1].Content)
		assert.Equal(t, wantInput, reply.Metering.InputTokens)
		assert.Equal(t, len(tokenize(want)), reply.Metering.OutputTokens)
		assert.Greater(t, reply.Metering.CostUSD, 0.0)
	}
	assert.True(t, s.Completed())
	assert.NoError(t, s.Err())
}

func TestChatStreamValidation(t *testing.T) {
	_, _, client := newStubFixture(t, "stub-tok")
	ctx := context.Background()

	t.Run("Missing Message", func(t *testing.T) {
		_, err := chat.Begin(ctx, client, chat.Params{Target: domain.Target{SpecialistID: "analyst"}})
		assert.ErrorContains(t, err, "message is required")
	})

	t.Run("Missing Target", func(t *testing.T) {
		_, err := chat.Begin(ctx, client, chat.Params{Prompt: "hello"})
		assert.ErrorContains(t, err, "specialist_id or provider and model is required")
	})

	t.Run("Unknown Specialist", func(t *testing.T) {
		_, err := chat.Begin(ctx, client, chat.Params{Target: domain.Target{SpecialistID: "ghost"}, Prompt: "hello"})
		assert.ErrorContains(t, err, "unknown specialist: ghost")
	})
}

func TestChatStreamRejectsBadCredential(t *testing.T) {
	server, _, _ := newStubFixture(t, "stub-tok")

	badSession := auth.NewSession("wrong-tok")
	badClient := backend.NewClient(server.URL, badSession, 2*time.Second)

	_, err := chat.Begin(context.Background(), badClient, chat.Params{
		Target: domain.Target{SpecialistID: "analyst"},
		Prompt: "hello",
	})
	assert.ErrorIs(t, err, backend.ErrUnauthorized)
	assert.False(t, badSession.Authenticated(), "rejected credential should be invalidated")
}

func TestRosterEndpoints(t *testing.T) {
	_, _, client := newStubFixture(t, "stub-tok")
	ctx := context.Background()

	specs, err := client.ListSpecialists(ctx)
	assert.NoError(t, err)
	if assert.Len(t, specs, 3) {
		assert.Equal(t, "analyst", specs[0].ID)
		assert.Equal(t, "gpt-4o", specs[0].Model)
	}

	pls, err := client.ListPipelines(ctx)
	assert.NoError(t, err)
	if assert.Len(t, pls, 2) {
		assert.Equal(t, "research", pls[0].Name)
		assert.Equal(t, []string{"collector", "analyst", "writer"}, pls[0].Agents)
	}
}

func TestPipelineRunEndToEnd(t *testing.T) {
	server, session, client := newStubFixture(t, "stub-tok")

	tr := pipeline.New(client, wsBase(server.URL), session, nil)
	run, err := tr.Run(context.Background(), "research", []string{"collector", "analyst", "writer"}, "NVDA earnings quality")
	assert.NoError(t, err)
	assert.Equal(t, domain.PipelineStatusRunning, run.Status)
	waitTerminal(t, tr)

	snap := tr.Snapshot()
	assert.Equal(t, domain.PipelineStatusComplete, snap.Status)
	assert.Contains(t, snap.Output, "NVDA earnings quality")
	assert.Equal(t, 1200, snap.TotalTokens)
	assert.InDelta(t, 0.0048, snap.TotalCost, 1e-9)
	assert.Equal(t, int64(1650), snap.DurationMs)

	for i, slot := range snap.Agents {
		assert.Equal(t, domain.AgentStatusComplete, slot.Status, "slot %s", slot.Name)
		if assert.NotNil(t, slot.Metrics, "slot %s", slot.Name) {
			assert.Equal(t, 200+50*i, slot.Metrics.InputTokens)
			assert.Equal(t, 120+30*i, slot.Metrics.OutputTokens)
			assert.Equal(t, 320+80*i, slot.Metrics.Tokens)
			assert.Equal(t, int64(400+150*i), slot.Metrics.DurationMs)
		}
		assert.Contains(t, slot.Output, slot.Name)
	}
}

func TestRunPipelineValidation(t *testing.T) {
	_, _, client := newStubFixture(t, "stub-tok")
	ctx := context.Background()

	_, err := client.StartPipeline(ctx, "research", "")
	assert.ErrorContains(t, err, "query is required")

	_, err = client.StartPipeline(ctx, "ghostline", "query")
	assert.ErrorContains(t, err, "unknown pipeline: ghostline")
}

func TestPipelineSocketRejectsBadAuthFrame(t *testing.T) {
	server, _, client := newStubFixture(t, "stub-tok")

	ack, err := client.StartPipeline(context.Background(), "duediligence", "vendor check")
	assert.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(wsBase(server.URL)+"/ws/pipelines/"+ack.PipelineID, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	assert.NoError(t, conn.WriteJSON(&domain.AuthMessage{Type: domain.TypeAuth, Token: "wrong-tok"}))

	var evt domain.PipelineEvent
	assert.NoError(t, conn.ReadJSON(&evt))
	assert.Equal(t, domain.TypeError, evt.Type)
	assert.Contains(t, string(evt.Data), "unauthorized")
}
