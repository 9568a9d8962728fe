// Package pipeline tracks multi-agent pipeline runs from submission to
// terminal state, driven by events arriving over the run's duplex channel.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/financecommander/AI-PORTAL-sub000/internal/auth"
	"github.com/financecommander/AI-PORTAL-sub000/internal/backend"
	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

// Tracker owns at most one pipeline run at a time. All run state moves
// under one mutex; the channel read loop is bound to the run it was
// started for, so a Reset during a run strands the old loop harmlessly.
type Tracker struct {
	client  *backend.Client
	wsURL   string
	session *auth.Session

	// onUpdate fires after every applied event with a snapshot of the
	// run, from the read goroutine with no lock held.
	onUpdate func(*domain.PipelineRun)

	mu   sync.Mutex
	run  *domain.PipelineRun
	ch   *Channel
	done chan struct{}
}

// New creates a tracker submitting runs through client and watching them
// on the channel endpoint at wsBaseURL.
func New(client *backend.Client, wsBaseURL string, session *auth.Session, onUpdate func(*domain.PipelineRun)) *Tracker {
	return &Tracker{
		client:   client,
		wsURL:    wsBaseURL,
		session:  session,
		onUpdate: onUpdate,
	}
}

// Run submits a pipeline and begins tracking it. The submission and the
// channel dial run synchronously: on failure the tracker state is
// untouched. agents fixes the slot order for the whole run.
func (t *Tracker) Run(ctx context.Context, name string, agents []string, query string) (*domain.PipelineRun, error) {
	t.mu.Lock()
	if t.run != nil && !t.run.Status.Terminal() {
		t.mu.Unlock()
		return nil, fmt.Errorf("a pipeline run is already active")
	}
	t.mu.Unlock()

	ack, err := t.client.StartPipeline(ctx, name, query)
	if err != nil {
		return nil, err
	}

	ch, err := DialChannel(ctx, t.wsURL, ack.PipelineID, t.session)
	if err != nil {
		return nil, fmt.Errorf("failed to open run channel: %w", err)
	}

	run := &domain.PipelineRun{
		ID:        ack.PipelineID,
		Name:      name,
		Query:     query,
		Status:    domain.PipelineStatusRunning,
		Agents:    make([]domain.AgentSlot, len(agents)),
		StartedAt: time.Now(),
	}
	for i, agent := range agents {
		run.Agents[i] = domain.AgentSlot{Name: agent, Status: domain.AgentStatusPending}
	}

	t.mu.Lock()
	if t.run != nil && !t.run.Status.Terminal() {
		t.mu.Unlock()
		ch.Close()
		return nil, fmt.Errorf("a pipeline run is already active")
	}
	t.run = run
	t.ch = ch
	t.done = make(chan struct{})
	t.mu.Unlock()

	go t.readLoop(run, ch)
	return run.Clone(), nil
}

func (t *Tracker) readLoop(run *domain.PipelineRun, ch *Channel) {
	for {
		evt, err := ch.ReadEvent()
		if err != nil {
			t.channelClosed(run, err)
			return
		}
		t.apply(run, evt)
	}
}

// apply folds one event into the run. Events for a superseded run, a
// foreign pipeline id, an unknown type, or a terminal run are dropped.
func (t *Tracker) apply(run *domain.PipelineRun, evt *domain.PipelineEvent) {
	t.mu.Lock()

	if t.run != run || run.Status.Terminal() {
		t.mu.Unlock()
		return
	}
	if evt.PipelineID != run.ID {
		t.mu.Unlock()
		slog.Debug("ignoring event for foreign run", "pipeline_id", evt.PipelineID, "active", run.ID)
		return
	}

	changed := false
	switch evt.Type {
	case domain.TypeAgentStart:
		var data domain.AgentStartData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			// Skip malformed payloads
			break
		}
		slot := run.Slot(data.Agent)
		if slot == nil {
			slog.Debug("ignoring agent_start for unknown agent", "agent", data.Agent)
			break
		}
		if slot.Status == domain.AgentStatusPending {
			slot.Status = domain.AgentStatusRunning
			changed = true
		}

	case domain.TypeAgentComplete:
		var data domain.AgentCompleteData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			break
		}
		slot := run.Slot(data.Agent)
		if slot == nil {
			slog.Debug("ignoring agent_complete for unknown agent", "agent", data.Agent)
			break
		}
		if !slot.Status.Terminal() {
			slot.Status = domain.AgentStatusComplete
			if data.Output != "" {
				slot.Output = data.Output
			}
			if data.Tokens != 0 || data.Cost != 0 || data.DurationMs != 0 {
				slot.Metrics = &domain.AgentMetrics{
					Tokens:     data.Tokens,
					Cost:       data.Cost,
					DurationMs: data.DurationMs,
				}
			}
			changed = true
		}

	case domain.TypeComplete:
		var data domain.CompleteData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			break
		}
		run.Output = data.Output
		run.TotalCost = data.TotalCost
		run.TotalTokens = data.TotalTokens
		run.DurationMs = data.DurationMs
		// Every slot ends complete: the breakdown, when present, is
		// authoritative for metrics; a missing agent_complete leaves no gap.
		for i := range run.Agents {
			slot := &run.Agents[i]
			if !slot.Status.Terminal() {
				slot.Status = domain.AgentStatusComplete
			}
			bd, ok := data.AgentBreakdown[slot.Name]
			if !ok {
				continue
			}
			if slot.Metrics == nil {
				slot.Metrics = &domain.AgentMetrics{}
			}
			slot.Metrics.InputTokens = bd.InputTokens
			slot.Metrics.OutputTokens = bd.OutputTokens
			slot.Metrics.Tokens = bd.InputTokens + bd.OutputTokens
			slot.Metrics.Cost = bd.Cost
			slot.Metrics.DurationMs = bd.DurationMs
		}
		run.Status = domain.PipelineStatusComplete
		changed = true

	case domain.TypeError:
		var data domain.ErrorData
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			break
		}
		if data.Message == "" {
			data.Message = "pipeline failed"
		}
		run.Error = data.Message
		run.Status = domain.PipelineStatusError
		changed = true

	default:
		slog.Debug("ignoring unknown event type", "type", evt.Type)
	}

	var closeCh *Channel
	if run.Status.Terminal() {
		close(t.done)
		closeCh = t.ch
	}
	var snapshot *domain.PipelineRun
	if changed {
		snapshot = run.Clone()
	}
	t.mu.Unlock()

	if closeCh != nil {
		closeCh.Close()
	}
	if snapshot != nil && t.onUpdate != nil {
		t.onUpdate(snapshot)
	}
}

// channelClosed handles the channel ending. Losing the channel while the
// run is live means the terminal event can never arrive, so the run is
// failed as connection lost. After a terminal event or a reset this is a
// no-op.
func (t *Tracker) channelClosed(run *domain.PipelineRun, err error) {
	t.mu.Lock()
	if t.run != run || run.Status.Terminal() {
		t.mu.Unlock()
		return
	}

	slog.Debug("pipeline channel closed mid-run", "pipeline_id", run.ID, "error", err)
	run.Status = domain.PipelineStatusError
	run.Error = "connection lost"
	close(t.done)
	closeCh := t.ch
	snapshot := run.Clone()
	t.mu.Unlock()

	if closeCh != nil {
		closeCh.Close()
	}
	if t.onUpdate != nil {
		t.onUpdate(snapshot)
	}
}

// Reset closes any open channel and returns the tracker to idle. Safe at
// any time, including mid-run; events from the abandoned run no longer
// apply.
func (t *Tracker) Reset() {
	t.mu.Lock()
	ch := t.ch
	done := t.done
	live := t.run != nil && !t.run.Status.Terminal()
	t.run = nil
	t.ch = nil
	t.done = nil
	t.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	if live && done != nil {
		close(done)
	}
}

// Snapshot returns a deep copy of the active run, or nil when idle.
func (t *Tracker) Snapshot() *domain.PipelineRun {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.run.Clone()
}

// Status returns the run status, PipelineStatusIdle when no run is active.
func (t *Tracker) Status() domain.PipelineStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.run == nil {
		return domain.PipelineStatusIdle
	}
	return t.run.Status
}

// Done returns a channel closed when the active run reaches a terminal
// state or is reset, or nil when the tracker is idle.
func (t *Tracker) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}
