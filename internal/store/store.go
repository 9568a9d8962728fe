// Package store persists conversations and their turns.
package store

import (
	"context"

	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

// Store defines the interface for conversation persistence. The
// conversation manager treats it as an external collaborator: every call
// is one logical persistence operation.
type Store interface {
	// Conversation operations
	CreateConversation(ctx context.Context, conv *domain.Conversation) error
	GetConversation(ctx context.Context, conversationID string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]domain.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error

	// Turn operations
	AppendTurns(ctx context.Context, conversationID string, turns []domain.Turn) error
	GetTurns(ctx context.Context, conversationID string) ([]domain.Turn, error)

	// Lifecycle
	Close() error
}
