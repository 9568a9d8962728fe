package domain

import "time"

// PipelineStatus represents the lifecycle state of a pipeline run.
type PipelineStatus string

const (
	PipelineStatusIdle     PipelineStatus = "idle"
	PipelineStatusRunning  PipelineStatus = "running"
	PipelineStatusComplete PipelineStatus = "complete"
	PipelineStatusError    PipelineStatus = "error"
)

// Terminal reports whether the run has reached a final state.
func (s PipelineStatus) Terminal() bool {
	return s == PipelineStatusComplete || s == PipelineStatusError
}

// AgentStatus represents the lifecycle state of one agent slot.
// Transitions only move forward: pending, running, then complete or error.
type AgentStatus string

const (
	AgentStatusPending  AgentStatus = "pending"
	AgentStatusRunning  AgentStatus = "running"
	AgentStatusComplete AgentStatus = "complete"
	AgentStatusError    AgentStatus = "error"
)

// Terminal reports whether the slot has reached a final state.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusComplete || s == AgentStatusError
}

// AgentMetrics holds per-agent usage. Progress events report a combined
// token count; the completion breakdown may supply the input/output split.
// Any subset of fields may be present.
type AgentMetrics struct {
	Tokens       int     `json:"tokens,omitempty"`
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
	DurationMs   int64   `json:"duration_ms,omitempty"`
}

// AgentSlot tracks one agent's progress within a pipeline run. Name is the
// correlation key for incoming events and is unique within the run.
type AgentSlot struct {
	Name    string        `json:"name"`
	Status  AgentStatus   `json:"status"`
	Output  string        `json:"output,omitempty"`
	Metrics *AgentMetrics `json:"metrics,omitempty"`
}

// PipelineRun tracks one multi-agent execution. Aggregates are populated
// only when the run completes; Error only when it fails.
type PipelineRun struct {
	ID          string         `json:"pipeline_id"`
	Name        string         `json:"pipeline_name"`
	Query       string         `json:"query"`
	Status      PipelineStatus `json:"status"`
	Agents      []AgentSlot    `json:"agents"`
	Output      string         `json:"output,omitempty"`
	Error       string         `json:"error,omitempty"`
	TotalTokens int            `json:"total_tokens,omitempty"`
	TotalCost   float64        `json:"total_cost,omitempty"`
	DurationMs  int64          `json:"duration_ms,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
}

// Slot returns the agent slot with the given name, or nil.
func (r *PipelineRun) Slot(name string) *AgentSlot {
	for i := range r.Agents {
		if r.Agents[i].Name == name {
			return &r.Agents[i]
		}
	}
	return nil
}

// Clone returns a deep copy safe to hand out while the original keeps mutating.
func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Agents = make([]AgentSlot, len(r.Agents))
	for i, a := range r.Agents {
		cp.Agents[i] = a
		if a.Metrics != nil {
			m := *a.Metrics
			cp.Agents[i].Metrics = &m
		}
	}
	return &cp
}
