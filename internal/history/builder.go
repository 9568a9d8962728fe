// Package history selects the slice of prior conversation turns that
// accompanies a chat request, sized against a token budget.
package history

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/financecommander/AI-PORTAL-sub000/internal/domain"
)

// Builder measures turns with a model tokenizer and windows them to fit
// a fixed budget.
type Builder struct {
	tokenizer *tiktoken.Tiktoken
	budget    int
}

// New creates a builder for the given model. Unknown models fall back to
// the cl100k_base encoding.
func New(model string, budget int) (*Builder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Fallback to cl100k_base for unknown models
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("get tokenizer: %w", err)
		}
	}
	return &Builder{tokenizer: enc, budget: budget}, nil
}

func (b *Builder) countTokens(text string) int {
	return len(b.tokenizer.Encode(text, nil, nil))
}

// Window returns the most recent turns whose summed token counts fit the
// budget, in chronological order. Turns are taken in prompt/reply groups
// working backward from the end, so a user turn is never separated from
// the assistant turn that answered it. A group that would push the total
// past the budget is dropped along with everything older than it.
func (b *Builder) Window(turns []domain.Turn) []domain.HistoryMessage {
	if len(turns) == 0 || b.budget <= 0 {
		return nil
	}

	// Each group starts at a user turn and runs until the next one.
	var groups [][]domain.Turn
	for _, turn := range turns {
		if turn.Role == domain.RoleUser || len(groups) == 0 {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], turn)
	}

	used := 0
	keep := len(groups)
	for i := len(groups) - 1; i >= 0; i-- {
		cost := 0
		for _, turn := range groups[i] {
			cost += b.countTokens(turn.Content)
		}
		if used+cost > b.budget {
			break
		}
		used += cost
		keep = i
	}
	if keep == len(groups) {
		return nil
	}

	var out []domain.HistoryMessage
	for _, group := range groups[keep:] {
		for _, turn := range group {
			out = append(out, domain.HistoryMessage{Role: turn.Role, Content: turn.Content})
		}
	}
	return out
}
