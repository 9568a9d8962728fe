// Package domain defines the core models shared by the portal client,
// the conversation manager, and the stub backend.
package domain

import "time"

// ExchangeStatus represents the lifecycle state of an exchange.
type ExchangeStatus string

const (
	ExchangeStatusOpen      ExchangeStatus = "open"
	ExchangeStatusClosed    ExchangeStatus = "closed"
	ExchangeStatusDiscarded ExchangeStatus = "discarded"
)

// Role identifies the author of an exchange or stored turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Metering holds the usage figures reported by the terminal stream chunk.
type Metering struct {
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

// Attachment is a user-supplied file carried with a chat message.
// DataBase64 is the raw base64 payload, no data: URI prefix.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	DataBase64  string `json:"data_base64"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Exchange represents a single logical turn: either the user's message or
// the assistant's streamed reply. Content on an open assistant exchange is
// append-only; metering appears only once the terminal chunk arrives.
type Exchange struct {
	ID          string         `json:"exchange_id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metering    *Metering      `json:"metering,omitempty"`
	Status      ExchangeStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Clone returns a deep copy safe to hand out while the original keeps mutating.
func (e *Exchange) Clone() *Exchange {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Metering != nil {
		m := *e.Metering
		cp.Metering = &m
	}
	if e.Attachments != nil {
		cp.Attachments = append([]Attachment(nil), e.Attachments...)
	}
	return &cp
}
