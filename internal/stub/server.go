// Package stub is an in-process portal backend used for local
// development and integration tests. Replies and pipeline runs are
// scripted deterministically from the request content.
package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

const authFrameTimeout = 10 * time.Second

var specialists = []domain.Specialist{
	{ID: "analyst", Name: "Equity Analyst", Description: "Fundamental analysis of filings and earnings", Provider: "openai", Model: "gpt-4o"},
	{ID: "strategist", Name: "Macro Strategist", Description: "Rates, FX, and cross-asset positioning", Provider: "openai", Model: "gpt-4o-mini"},
	{ID: "riskwatch", Name: "Risk Monitor", Description: "Portfolio exposure checks and risk flags", Provider: "mistral", Model: "mistral-large"},
}

var pipelines = []domain.PipelineInfo{
	{Name: "research", Description: "Collects filings, analyzes fundamentals, drafts a note", Agents: []string{"collector", "analyst", "writer"}},
	{Name: "duediligence", Description: "Screens a counterparty and audits the findings", Agents: []string{"screener", "auditor"}},
}

// Server emulates the portal backend over HTTP and WebSocket.
type Server struct {
	// StreamDelay spaces out streamed chunks and pipeline events. Zero
	// keeps tests fast; the stub command sets it for a lifelike feel.
	StreamDelay time.Duration

	echo     *echo.Echo
	token    string
	upgrader websocket.Upgrader

	mu   sync.Mutex
	runs map[string]*scriptedRun
}

type scriptedRun struct {
	name   string
	query  string
	agents []string
}

// NewServer creates a stub backend. An empty token disables the bearer
// check on one-shot routes and the auth-frame check on the socket.
func NewServer(token string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:  e,
		token: token,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		runs: make(map[string]*scriptedRun),
	}

	api := e.Group("", s.requireBearer)
	api.POST("/api/chat/stream", s.handleChatStream)
	api.POST("/api/pipelines/run", s.handleRunPipeline)
	api.GET("/api/specialists", s.handleListSpecialists)
	api.GET("/api/pipelines", s.handleListPipelines)

	// The socket authenticates via its first frame, not a header.
	e.GET("/ws/pipelines/:id", s.handlePipelineSocket)

	return s
}

// Handler exposes the server for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start stub server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.echo.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) requireBearer(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if s.token == "" {
			return next(c)
		}
		if c.Request().Header.Get("Authorization") != "Bearer "+s.token {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
		}
		return next(c)
	}
}

// handleChatStream streams a scripted reply token by token.
// POST /api/chat/stream
func (s *Server) handleChatStream(c echo.Context) error {
	var req domain.ChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}
	if req.SpecialistID == "" && (req.Provider == "" || req.Model == "") {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "specialist_id or provider and model is required"})
	}
	if req.SpecialistID != "" && findSpecialist(req.SpecialistID) == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown specialist: " + req.SpecialistID})
	}

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "streaming not supported"})
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	tokens := tokenize(scriptReply(&req))

	inputTokens := wordCount(req.Message)
	for _, msg := range req.ConversationHistory {
		inputTokens += wordCount(msg.Content)
	}
	outputTokens := len(tokens)
	cost := float64(inputTokens)*0.000002 + float64(outputTokens)*0.000008

	for i := 0; i < len(tokens)-1; i++ {
		writeLine(c.Response().Writer, &domain.StreamChunk{Content: tokens[i]})
		if i%3 == 2 {
			fmt.Fprint(c.Response().Writer, ": keep-alive\n")
		}
		flusher.Flush()
		time.Sleep(s.StreamDelay)
	}

	// The final chunk carries the trailing fragment and cumulative
	// metering.
	writeLine(c.Response().Writer, &domain.StreamChunk{
		Content:      tokens[len(tokens)-1],
		IsFinal:      true,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
	})
	flusher.Flush()
	return nil
}

// handleRunPipeline registers a scripted run and acks with its id.
// POST /api/pipelines/run
func (s *Server) handleRunPipeline(c echo.Context) error {
	var req domain.PipelineRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.PipelineName == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "pipeline_name is required"})
	}
	if req.Query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "query is required"})
	}
	info := findPipeline(req.PipelineName)
	if info == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown pipeline: " + req.PipelineName})
	}

	id := "pl_" + uuid.New().String()[:8]
	s.mu.Lock()
	s.runs[id] = &scriptedRun{name: info.Name, query: req.Query, agents: info.Agents}
	s.mu.Unlock()

	return c.JSON(http.StatusOK, &domain.PipelineRunAck{PipelineID: id, Status: "running"})
}

// GET /api/specialists
func (s *Server) handleListSpecialists(c echo.Context) error {
	return c.JSON(http.StatusOK, specialists)
}

// GET /api/pipelines
func (s *Server) handleListPipelines(c echo.Context) error {
	return c.JSON(http.StatusOK, pipelines)
}

// handlePipelineSocket upgrades, checks the auth frame, and replays the
// run's scripted lifecycle.
// GET /ws/pipelines/:id
func (s *Server) handlePipelineSocket(c echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	run, ok := s.runs[id]
	delete(s.runs, id)
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown pipeline: " + id})
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	// The first client frame must carry the credential; it never rides
	// the URL.
	ws.SetReadDeadline(time.Now().Add(authFrameTimeout))
	var authMsg domain.AuthMessage
	if err := ws.ReadJSON(&authMsg); err != nil {
		return nil
	}
	if authMsg.Type != domain.TypeAuth || (s.token != "" && authMsg.Token != s.token) {
		s.sendEvent(ws, id, domain.TypeError, &domain.ErrorData{Message: "unauthorized"})
		return nil
	}

	s.streamRun(ws, id, run)
	return nil
}

func (s *Server) streamRun(ws *websocket.Conn, id string, run *scriptedRun) {
	var (
		totalTokens int
		totalCost   float64
		totalMs     int64
		breakdown   = make(map[string]domain.AgentBreakdown, len(run.agents))
		outputs     = make([]string, 0, len(run.agents))
	)

	for i, agent := range run.agents {
		if err := s.sendEvent(ws, id, domain.TypeAgentStart, &domain.AgentStartData{Agent: agent}); err != nil {
			return
		}
		time.Sleep(s.StreamDelay)

		in := 200 + 50*i
		out := 120 + 30*i
		cost := float64(in+out) * 0.000004
		durationMs := int64(400 + 150*i)
		output := fmt.Sprintf("%s notes on %q", agent, run.query)

		if err := s.sendEvent(ws, id, domain.TypeAgentComplete, &domain.AgentCompleteData{
			Agent:      agent,
			Tokens:     in + out,
			Cost:       cost,
			DurationMs: durationMs,
			Output:     output,
		}); err != nil {
			return
		}

		breakdown[agent] = domain.AgentBreakdown{InputTokens: in, OutputTokens: out, Cost: cost, DurationMs: durationMs}
		totalTokens += in + out
		totalCost += cost
		totalMs += durationMs
		outputs = append(outputs, output)
		time.Sleep(s.StreamDelay)
	}

	s.sendEvent(ws, id, domain.TypeComplete, &domain.CompleteData{
		Output:         fmt.Sprintf("Findings for %q:\n%s", run.query, strings.Join(outputs, "\n")),
		TotalCost:      totalCost,
		TotalTokens:    totalTokens,
		DurationMs:     totalMs,
		AgentBreakdown: breakdown,
	})
}

func (s *Server) sendEvent(ws *websocket.Conn, pipelineID, typ string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return ws.WriteJSON(&domain.PipelineEvent{
		Type:       typ,
		PipelineID: pipelineID,
		Timestamp:  time.Now().UnixMilli(),
		Data:       payload,
	})
}

func writeLine(w http.ResponseWriter, chunk *domain.StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

func scriptReply(req *domain.ChatRequest) string {
	name := req.SpecialistID
	if name == "" {
		name = req.Provider + "/" + req.Model
	}
	reply := fmt.Sprintf("%s on %q: revenue growth held steady last quarter, margins compressed on input costs, and free cash flow remains the figure to watch.", name, req.Message)
	if n := len(req.ConversationHistory); n > 0 {
		reply = fmt.Sprintf("Building on %d prior turns, %s", n, reply)
	}
	return reply
}

// tokenize splits a reply into word-sized fragments whose concatenation
// reproduces the original text.
func tokenize(text string) []string {
	words := strings.Split(text, " ")
	out := make([]string, len(words))
	for i, w := range words {
		if i < len(words)-1 {
			out[i] = w + " "
		} else {
			out[i] = w
		}
	}
	return out
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func findSpecialist(id string) *domain.Specialist {
	for i := range specialists {
		if specialists[i].ID == id {
			return &specialists[i]
		}
	}
	return nil
}

func findPipeline(name string) *domain.PipelineInfo {
	for i := range pipelines {
		if pipelines[i].Name == name {
			return &pipelines[i]
		}
	}
	return nil
}
