package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/financecommander/AI-PORTAL-sub000/internal/auth"
	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

func newTestClient(serverURL, token string) (*Client, *auth.Session) {
	session := auth.NewSession(token)
	return NewClient(serverURL, session, time.Second), session
}

func TestStreamChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/stream" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Fatalf("unexpected authorization header: %q", got)
		}

		var req domain.ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.Message != "hello" || req.SpecialistID != "analyst" {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"content\":\"hi\",\"is_final\":true}\n")
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL, "tok-1")
	body, err := client.StreamChat(context.Background(), &domain.ChatRequest{
		SpecialistID: "analyst",
		Message:      "hello",
	})
	if err != nil {
		t.Fatalf("StreamChat failed: %v", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("failed to read stream: %v", err)
	}
	if !strings.Contains(string(raw), `"content":"hi"`) {
		t.Fatalf("unexpected stream body: %s", raw)
	}
}

func TestStreamChatUnauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid token"}`)
	}))
	defer server.Close()

	client, session := newTestClient(server.URL, "stale")
	_, err := client.StreamChat(context.Background(), &domain.ChatRequest{Message: "hi"})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("StreamChat error = %v, want ErrUnauthorized", err)
	}
	if session.Authenticated() {
		t.Fatal("credential still present after 401")
	}
}

func TestStartPipeline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pipelines/run" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}

		var req domain.PipelineRunRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("failed to decode request: %v", err)
		}
		if req.PipelineName != "research" || req.Query != "q1" {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"pipeline_id":"pl_1234","status":"running"}`)
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL, "tok-1")
	ack, err := client.StartPipeline(context.Background(), "research", "q1")
	if err != nil {
		t.Fatalf("StartPipeline failed: %v", err)
	}
	if ack.PipelineID != "pl_1234" || ack.Status != "running" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
}

func TestStartPipelineBackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"no such pipeline"}`)
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL, "tok-1")
	_, err := client.StartPipeline(context.Background(), "missing", "q")
	if err == nil || !strings.Contains(err.Error(), "no such pipeline") {
		t.Fatalf("StartPipeline error = %v, want backend message", err)
	}
}

func TestListSpecialists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/specialists" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"id":"analyst","name":"Analyst","provider":"openai","model":"gpt-4o"}]`)
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL, "tok-1")
	specialists, err := client.ListSpecialists(context.Background())
	if err != nil {
		t.Fatalf("ListSpecialists failed: %v", err)
	}
	if len(specialists) != 1 || specialists[0].ID != "analyst" {
		t.Fatalf("unexpected roster: %+v", specialists)
	}
}

func TestListPipelines(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/pipelines" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[{"name":"research","agents":["researcher","writer"]}]`)
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL, "tok-1")
	pipelines, err := client.ListPipelines(context.Background())
	if err != nil {
		t.Fatalf("ListPipelines failed: %v", err)
	}
	if len(pipelines) != 1 || len(pipelines[0].Agents) != 2 {
		t.Fatalf("unexpected roster: %+v", pipelines)
	}
}

func TestNoBearerHeaderWithoutCredential(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "" {
			t.Fatalf("unexpected authorization header: %q", got)
		}
		fmt.Fprint(w, `[]`)
	}))
	defer server.Close()

	client, _ := newTestClient(server.URL, "")
	if _, err := client.ListSpecialists(context.Background()); err != nil {
		t.Fatalf("ListSpecialists failed: %v", err)
	}
}
