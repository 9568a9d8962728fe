// Package chat implements the streaming chat session: one user turn and
// the assistant reply assembled incrementally from the chat stream.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/financecommander/AI-PORTAL-sub000/internal/backend"
	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
	"github.com/financecommander/AI-PORTAL-sub000/internal/sse"
)

// Params describes one chat exchange to begin.
type Params struct {
	Target      domain.Target
	Prompt      string
	History     []domain.HistoryMessage
	Attachments []domain.Attachment

	// OnDelta is invoked for each content fragment as it arrives,
	// OnComplete once the terminal chunk has been merged. Both are called
	// from the consume goroutine with no session lock held.
	OnDelta    func(fragment string)
	OnComplete func(*Session)
}

// Session is one in-flight chat exchange. All state moves under a single
// mutex; the consume goroutine is the only writer of reply content, and
// cancellation races are settled by whoever locks first.
type Session struct {
	mu        sync.Mutex
	user      *domain.Exchange
	reply     *domain.Exchange
	cancelled bool
	completed bool
	err       error

	body      io.ReadCloser
	closeOnce sync.Once
	done      chan struct{}

	onDelta    func(string)
	onComplete func(*Session)
}

// Begin sends the chat request and starts consuming the reply stream.
// The initiating request runs synchronously: on failure no session state
// exists and the error is returned as-is (including backend.ErrUnauthorized).
func Begin(ctx context.Context, client *backend.Client, p Params) (*Session, error) {
	body, err := client.StreamChat(ctx, &domain.ChatRequest{
		SpecialistID:        p.Target.SpecialistID,
		Provider:            p.Target.Provider,
		Model:               p.Target.Model,
		Message:             p.Prompt,
		ConversationHistory: p.History,
		Attachments:         p.Attachments,
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s := &Session{
		user: &domain.Exchange{
			ID:          "exch_" + uuid.New().String()[:8],
			Role:        domain.RoleUser,
			Content:     p.Prompt,
			Attachments: p.Attachments,
			Status:      domain.ExchangeStatusClosed,
			CreatedAt:   now,
		},
		reply: &domain.Exchange{
			ID:        "exch_" + uuid.New().String()[:8],
			Role:      domain.RoleAssistant,
			Status:    domain.ExchangeStatusOpen,
			CreatedAt: now,
		},
		body:       body,
		done:       make(chan struct{}),
		onDelta:    p.OnDelta,
		onComplete: p.OnComplete,
	}

	go s.consume()
	return s, nil
}

func (s *Session) consume() {
	defer close(s.done)
	defer s.closeBody()

	dec := sse.NewDecoder(s.body)
	for {
		payload, err := dec.Next()
		if err != nil {
			s.finishTransport(err)
			return
		}

		var chunk domain.StreamChunk
		if err := json.Unmarshal(payload, &chunk); err != nil {
			// Skip malformed chunks
			slog.Debug("skipping malformed stream chunk", "error", err)
			continue
		}

		if !s.merge(&chunk) {
			return
		}
	}
}

// merge applies one chunk and reports whether consumption should go on.
// Nothing is merged once the session has been cancelled or the reply has
// closed: whichever happened first stands.
func (s *Session) merge(chunk *domain.StreamChunk) bool {
	s.mu.Lock()
	if s.cancelled || s.reply.Status != domain.ExchangeStatusOpen {
		s.mu.Unlock()
		return false
	}

	s.reply.Content += chunk.Content
	if chunk.IsFinal {
		s.reply.Metering = &domain.Metering{
			InputTokens:  chunk.InputTokens,
			OutputTokens: chunk.OutputTokens,
			CostUSD:      chunk.CostUSD,
		}
		s.reply.Status = domain.ExchangeStatusClosed
		s.completed = true
	}
	s.mu.Unlock()

	if chunk.Content != "" && s.onDelta != nil {
		s.onDelta(chunk.Content)
	}
	if chunk.IsFinal {
		if s.onComplete != nil {
			s.onComplete(s)
		}
		return false
	}
	return true
}

// finishTransport handles the stream ending without a terminal chunk. A
// missing final chunk is a connectivity failure: the reply closes with
// its partial content and the error is recorded. After cancellation or
// completion this is a no-op.
func (s *Session) finishTransport(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled || s.reply.Status != domain.ExchangeStatusOpen {
		return
	}

	s.reply.Status = domain.ExchangeStatusClosed
	if err == io.EOF {
		s.err = fmt.Errorf("stream ended before the final chunk")
	} else {
		s.err = fmt.Errorf("failed to read stream: %w", err)
	}
}

// Cancel stops the stream. Safe to call any number of times from any
// goroutine. The reply keeps whatever content had been merged, no error
// is recorded, and chunks still in flight are dropped. If the terminal
// chunk got there first, the completion stands and Cancel only releases
// the connection.
func (s *Session) Cancel() {
	s.mu.Lock()
	if !s.cancelled && s.reply.Status == domain.ExchangeStatusOpen {
		s.cancelled = true
		s.reply.Status = domain.ExchangeStatusClosed
	}
	s.mu.Unlock()

	s.closeBody()
}

func (s *Session) closeBody() {
	s.closeOnce.Do(func() {
		s.body.Close()
	})
}

// Discard marks both exchanges superseded. The conversation manager uses
// this when a context switch drops an unpersisted pair.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user.Status = domain.ExchangeStatusDiscarded
	s.reply.Status = domain.ExchangeStatusDiscarded
}

// Done is closed once the consume goroutine has finished.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the transport error recorded when the stream ended without
// its final chunk. Cancellation is not an error.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Cancelled reports whether Cancel won against the terminal chunk.
func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Completed reports whether the reply closed by merging its terminal chunk.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// UserTurn returns a copy of the user exchange.
func (s *Session) UserTurn() *domain.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user.Clone()
}

// Reply returns a copy of the assistant exchange in its current state.
func (s *Session) Reply() *domain.Exchange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reply.Clone()
}
