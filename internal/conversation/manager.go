// Package conversation binds chat streaming sessions to a stored
// conversation identity and manages clean hand-off when the user
// switches specialist, model, or conversation.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/financecommander/AI-PORTAL-sub000/internal/attach"
	"github.com/financecommander/AI-PORTAL-sub000/internal/backend"
	"github.com/financecommander/AI-PORTAL-sub000/internal/chat"
	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
	"github.com/financecommander/AI-PORTAL-sub000/internal/history"
	"github.com/financecommander/AI-PORTAL-sub000/internal/store"
)

const titleMaxLen = 60

// Manager owns the active chat session and the transcript it feeds. One
// mutex serializes every operation, so Send, StopStreaming, and context
// switches never interleave; the completion hook from the consume
// goroutine takes the same mutex and checks that its session is still
// the active one before touching anything.
type Manager struct {
	mu      sync.Mutex
	store   store.Store
	client  *backend.Client
	history *history.Builder
	limits  attach.Limits

	target     domain.Target
	conv       *domain.Conversation
	transcript []*domain.Exchange
	active     *chat.Session

	// Exactly-once persistence: pairs holds the number of completed
	// exchange pairs observed, persisted the number already written.
	// Turns that completed but failed to write wait in pending and are
	// retried on the next completion.
	pairs     int
	persisted int
	pending   []domain.Turn
}

// NewManager creates a manager with no target selected. The caller picks
// a specialist or provider/model before the first Send.
func NewManager(st store.Store, client *backend.Client, hist *history.Builder, limits attach.Limits) *Manager {
	return &Manager{
		store:   st,
		client:  client,
		history: hist,
		limits:  limits,
	}
}

// Send starts a new exchange: any live session is stopped first, the
// attachments are validated, and the request history is built from the
// closed turns already in the transcript. onDelta receives content
// fragments as they stream in and may be nil.
func (m *Manager) Send(ctx context.Context, prompt string, attachments []domain.Attachment, onDelta func(string)) (*chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.target.IsZero() {
		return nil, fmt.Errorf("no specialist or model selected")
	}
	if err := attach.Validate(m.limits, attachments); err != nil {
		return nil, err
	}

	m.stopLocked()

	sess, err := chat.Begin(ctx, m.client, chat.Params{
		Target:      m.target,
		Prompt:      prompt,
		History:     m.history.Window(m.turnsLocked()),
		Attachments: attachments,
		OnDelta:     onDelta,
		OnComplete:  m.handleCompleted,
	})
	if err != nil {
		return nil, err
	}

	m.active = sess
	return sess, nil
}

// StopStreaming cancels the live session, if any. The partial reply
// stays in the transcript and no error is surfaced.
func (m *Manager) StopStreaming() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

// stopLocked retires the active session. A pair whose terminal chunk
// already merged is recorded right here; its completion hook, still on
// the way in, then fails the active-session check and drops out. Any
// other session moves into the transcript with whatever content it
// accumulated.
func (m *Manager) stopLocked() {
	sess := m.active
	if sess == nil {
		return
	}
	m.active = nil

	sess.Cancel()
	if sess.Completed() {
		m.recordLocked(sess)
		return
	}

	m.transcript = append(m.transcript, sess.UserTurn(), sess.Reply())
}

// handleCompleted runs on the session's consume goroutine after the
// terminal chunk merges. A session superseded by a context switch or
// recorded by an earlier stop is dropped here: its pair never reaches
// the transcript or the store twice.
func (m *Manager) handleCompleted(sess *chat.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess != m.active {
		slog.Debug("dropping completion from superseded session")
		return
	}
	m.active = nil
	m.recordLocked(sess)
}

// recordLocked moves a completed pair into the transcript and queues it
// for persistence. The watermark keeps a duplicate completion signal
// from saving an already-persisted pair twice.
func (m *Manager) recordLocked(sess *chat.Session) {
	user := sess.UserTurn()
	reply := sess.Reply()
	m.transcript = append(m.transcript, user, reply)

	m.pairs++
	if m.pairs <= m.persisted {
		slog.Debug("duplicate completion for persisted pair", "pairs", m.pairs)
		return
	}

	m.pending = append(m.pending,
		domain.Turn{Role: user.Role, Content: user.Content, CreatedAt: user.CreatedAt},
		domain.Turn{Role: reply.Role, Content: reply.Content, CreatedAt: reply.CreatedAt},
	)
	m.flushLocked(context.Background())
}

// flushLocked writes pending turns to the store, creating the stored
// conversation on the first completed exchange of a fresh context. On
// failure the watermark stays put and the turns remain queued.
func (m *Manager) flushLocked(ctx context.Context) {
	if len(m.pending) == 0 {
		return
	}

	if m.conv == nil {
		now := time.Now()
		conv := &domain.Conversation{
			ID:        "conv_" + uuid.New().String()[:8],
			Title:     deriveTitle(m.pending[0].Content),
			Target:    m.target,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := m.store.CreateConversation(ctx, conv); err != nil {
			slog.Error("failed to create conversation", "error", err)
			return
		}
		m.conv = conv
	}

	if err := m.store.AppendTurns(ctx, m.conv.ID, m.pending); err != nil {
		slog.Error("failed to persist turns", "conversation_id", m.conv.ID, "error", err)
		return
	}

	m.persisted += len(m.pending) / 2
	m.pending = nil
}

// SetTarget switches the active specialist or provider/model. Any live
// session is cancelled and discarded and the transcript cleared before
// the new target applies, so nothing from the old context bleeds in.
func (m *Manager) SetTarget(target domain.Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.target = target
}

// StartNew begins a fresh conversation with the current target.
func (m *Manager) StartNew() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

// Load replaces the active context with a stored conversation and its
// turns. The conversation's own target becomes the active target.
func (m *Manager) Load(ctx context.Context, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("conversation %s not found", conversationID)
	}
	turns, err := m.store.GetTurns(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("failed to load turns: %w", err)
	}

	m.resetLocked()
	m.target = conv.Target
	m.conv = conv
	for _, turn := range turns {
		m.transcript = append(m.transcript, &domain.Exchange{
			ID:        "exch_" + uuid.New().String()[:8],
			Role:      turn.Role,
			Content:   turn.Content,
			Status:    domain.ExchangeStatusClosed,
			CreatedAt: turn.CreatedAt,
		})
	}
	m.pairs = len(turns) / 2
	m.persisted = m.pairs
	return nil
}

// resetLocked clears all per-context state. A live session is cancelled
// and its exchanges marked discarded; one whose terminal chunk already
// merged is recorded against the outgoing conversation first. A
// completion arriving afterwards fails the active-session check and is
// dropped.
func (m *Manager) resetLocked() {
	if sess := m.active; sess != nil {
		m.active = nil
		sess.Cancel()
		if sess.Completed() {
			m.recordLocked(sess)
		} else {
			sess.Discard()
		}
	}
	m.conv = nil
	m.transcript = nil
	m.pending = nil
	m.pairs = 0
	m.persisted = 0
}

func (m *Manager) turnsLocked() []domain.Turn {
	turns := make([]domain.Turn, 0, len(m.transcript))
	for _, ex := range m.transcript {
		turns = append(turns, domain.Turn{Role: ex.Role, Content: ex.Content, CreatedAt: ex.CreatedAt})
	}
	return turns
}

// Transcript returns copies of all closed exchanges plus, when a session
// is live, its in-flight pair.
func (m *Manager) Transcript() []*domain.Exchange {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.Exchange, 0, len(m.transcript)+2)
	for _, ex := range m.transcript {
		out = append(out, ex.Clone())
	}
	if m.active != nil {
		out = append(out, m.active.UserTurn(), m.active.Reply())
	}
	return out
}

// Target returns the active specialist or provider/model selection.
func (m *Manager) Target() domain.Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

// Conversation returns a copy of the stored conversation identity, or
// nil before the first completed exchange of a fresh context.
func (m *Manager) Conversation() *domain.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conv == nil {
		return nil
	}
	conv := *m.conv
	return &conv
}

// Active returns the live session, or nil.
func (m *Manager) Active() *chat.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func deriveTitle(prompt string) string {
	title := strings.TrimSpace(prompt)
	if title == "" {
		return "New conversation"
	}
	runes := []rune(title)
	if len(runes) > titleMaxLen {
		title = string(runes[:titleMaxLen]) + "..."
	}
	return title
}
