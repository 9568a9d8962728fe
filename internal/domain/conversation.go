package domain

import "time"

// Target selects which backend persona handles a conversation: either a
// pre-configured specialist or a raw provider/model pair.
type Target struct {
	SpecialistID string `json:"specialist_id,omitempty"`
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
}

// IsZero reports whether no target has been selected.
func (t Target) IsZero() bool {
	return t.SpecialistID == "" && t.Provider == "" && t.Model == ""
}

// Describe returns a short label for display and stored metadata.
func (t Target) Describe() string {
	if t.SpecialistID != "" {
		return t.SpecialistID
	}
	if t.IsZero() {
		return "default"
	}
	return t.Provider + "/" + t.Model
}

// Conversation is a stored chat thread.
type Conversation struct {
	ID        string    `json:"conversation_id"`
	Title     string    `json:"title"`
	Target    Target    `json:"target"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Turn is one stored message within a conversation.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Specialist is one entry in the backend's specialist roster.
type Specialist struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
}

// PipelineInfo is one entry in the backend's pipeline roster.
type PipelineInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Agents      []string `json:"agents"`
}
