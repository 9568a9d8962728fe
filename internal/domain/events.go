package domain

import "encoding/json"

// StreamChunk is one decoded payload line from the chat stream. Non-final
// chunks carry an incremental content fragment; the final chunk carries
// is_final=true plus cumulative metering.
type StreamChunk struct {
	Content      string  `json:"content"`
	IsFinal      bool    `json:"is_final"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
}

// Message types on the pipeline run channel
const (
	TypeAuth          = "auth"
	TypeAgentStart    = "agent_start"
	TypeAgentComplete = "agent_complete"
	TypeComplete      = "complete"
	TypeError         = "error"
)

// AuthMessage is the first client frame sent after the run channel opens.
// The credential travels here, never in the channel URL.
type AuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// PipelineEvent is the envelope for all server frames on the run channel.
type PipelineEvent struct {
	Type       string          `json:"type"`
	PipelineID string          `json:"pipeline_id"`
	Timestamp  int64           `json:"timestamp"` // Unix milliseconds
	Data       json.RawMessage `json:"data,omitempty"`
}

// AgentStartData is the payload for agent_start events.
type AgentStartData struct {
	Agent string `json:"agent"`
}

// AgentCompleteData is the payload for agent_complete events. All fields
// besides the agent name are optional.
type AgentCompleteData struct {
	Agent      string  `json:"agent"`
	Tokens     int     `json:"tokens,omitempty"`
	Cost       float64 `json:"cost,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`
	Output     string  `json:"output,omitempty"`
}

// AgentBreakdown is one per-agent entry in a complete event.
type AgentBreakdown struct {
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
}

// CompleteData is the payload for complete events.
type CompleteData struct {
	Output         string                    `json:"output"`
	TotalCost      float64                   `json:"total_cost"`
	TotalTokens    int                       `json:"total_tokens"`
	DurationMs     int64                     `json:"duration_ms"`
	AgentBreakdown map[string]AgentBreakdown `json:"agent_breakdown,omitempty"`
}

// ErrorData is the payload for error events.
type ErrorData struct {
	Message string `json:"message"`
}

// HistoryMessage is one prior turn carried in a chat request.
type HistoryMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a chat streaming request. Either SpecialistID
// or the Provider/Model pair selects the target.
type ChatRequest struct {
	SpecialistID        string           `json:"specialist_id,omitempty"`
	Provider            string           `json:"provider,omitempty"`
	Model               string           `json:"model,omitempty"`
	Message             string           `json:"message"`
	ConversationHistory []HistoryMessage `json:"conversation_history,omitempty"`
	Attachments         []Attachment     `json:"attachments,omitempty"`
}

// PipelineRunRequest is the body of a pipeline submission.
type PipelineRunRequest struct {
	PipelineName string `json:"pipeline_name"`
	Query        string `json:"query"`
}

// PipelineRunAck is the response to a pipeline submission.
type PipelineRunAck struct {
	PipelineID string `json:"pipeline_id"`
	Status     string `json:"status"`
}
