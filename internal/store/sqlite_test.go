package store

import (
	"context"
	"testing"
	"time"

	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func testConversation(id string) *domain.Conversation {
	now := time.Now()
	return &domain.Conversation{
		ID:        id,
		Title:     "Quarterly numbers",
		Target:    domain.Target{SpecialistID: "analyst"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestConversationRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := testConversation("conv_1")
	conv.Target = domain.Target{Provider: "openai", Model: "gpt-4o"}
	if err := s.CreateConversation(ctx, conv); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	got, err := s.GetConversation(ctx, "conv_1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got == nil {
		t.Fatal("GetConversation returned nil for existing conversation")
	}
	if got.Title != "Quarterly numbers" {
		t.Errorf("title = %q", got.Title)
	}
	if got.Target.Provider != "openai" || got.Target.Model != "gpt-4o" {
		t.Errorf("target = %+v", got.Target)
	}
}

func TestGetConversationMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetConversation(context.Background(), "conv_nope")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing conversation, got %+v", got)
	}
}

func TestListConversationsByRecentActivity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateConversation(ctx, testConversation("conv_a")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := s.CreateConversation(ctx, testConversation("conv_b")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	list, err := s.ListConversations(ctx, 0)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "conv_b" {
		t.Fatalf("unexpected order: %+v", list)
	}

	// Appending turns makes a conversation the most recent again.
	time.Sleep(10 * time.Millisecond)
	err = s.AppendTurns(ctx, "conv_a", []domain.Turn{
		{Role: domain.RoleUser, Content: "hi", CreatedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("AppendTurns failed: %v", err)
	}

	list, err = s.ListConversations(ctx, 0)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if list[0].ID != "conv_a" {
		t.Fatalf("unexpected order after append: %+v", list)
	}

	list, err = s.ListConversations(ctx, 1)
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("limit ignored: %+v", list)
	}
}

func TestAppendAndGetTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateConversation(ctx, testConversation("conv_1")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}

	now := time.Now()
	err := s.AppendTurns(ctx, "conv_1", []domain.Turn{
		{Role: domain.RoleUser, Content: "what changed?", CreatedAt: now},
		{Role: domain.RoleAssistant, Content: "revenue grew", CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("AppendTurns failed: %v", err)
	}
	err = s.AppendTurns(ctx, "conv_1", []domain.Turn{
		{Role: domain.RoleUser, Content: "by how much?", CreatedAt: now},
	})
	if err != nil {
		t.Fatalf("AppendTurns failed: %v", err)
	}

	turns, err := s.GetTurns(ctx, "conv_1")
	if err != nil {
		t.Fatalf("GetTurns failed: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[0].Role != domain.RoleUser || turns[0].Content != "what changed?" {
		t.Errorf("turn 0 = %+v", turns[0])
	}
	if turns[1].Role != domain.RoleAssistant {
		t.Errorf("turn 1 role = %q", turns[1].Role)
	}
	if turns[2].Content != "by how much?" {
		t.Errorf("turn 2 = %+v", turns[2])
	}
}

func TestAppendTurnsRequiresConversation(t *testing.T) {
	s := newTestStore(t)

	err := s.AppendTurns(context.Background(), "conv_ghost", []domain.Turn{
		{Role: domain.RoleUser, Content: "orphan", CreatedAt: time.Now()},
	})
	if err == nil {
		t.Fatal("appending to a missing conversation did not fail")
	}
}

func TestDeleteConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.CreateConversation(ctx, testConversation("conv_1")); err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	err := s.AppendTurns(ctx, "conv_1", []domain.Turn{
		{Role: domain.RoleUser, Content: "hi", CreatedAt: time.Now()},
	})
	if err != nil {
		t.Fatalf("AppendTurns failed: %v", err)
	}

	if err := s.DeleteConversation(ctx, "conv_1"); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}

	got, err := s.GetConversation(ctx, "conv_1")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got != nil {
		t.Fatal("conversation still present after delete")
	}

	turns, err := s.GetTurns(ctx, "conv_1")
	if err != nil {
		t.Fatalf("GetTurns failed: %v", err)
	}
	if len(turns) != 0 {
		t.Fatalf("turns still present after delete: %+v", turns)
	}
}
