// Package budget divides the model's context window between the parts
// of a reasoning prompt and keeps each part inside its share.
package budget

import (
	"errors"
	"fmt"
)

// BytesPerToken is the conversion used for all token estimates. It is
// deliberately conservative for English prose and needs no tokenizer.
const BytesPerToken = 4

// DefaultTotalTokens is the context size assumed when none is configured.
const DefaultTotalTokens = 32000

// EstimateTokens returns the approximate token count of s.
func EstimateTokens(s string) int {
	return (len(s) + BytesPerToken - 1) / BytesPerToken
}

// ContextBudget allocates a total token budget across prompt sections.
type ContextBudget struct {
	Total               int `json:"total" yaml:"total"`
	SystemPrompt        int `json:"system_prompt" yaml:"system_prompt"`
	ConversationHistory int `json:"conversation_history" yaml:"conversation_history"`
	CurrentMessage      int `json:"current_message" yaml:"current_message"`
	AgentScratchpad     int `json:"agent_scratchpad" yaml:"agent_scratchpad"`
	ResponseBuffer      int `json:"response_buffer" yaml:"response_buffer"`
}

// NewContextBudget splits total into the standard shares: 15% system
// prompt, 30% history, 10% current message, 30% scratchpad and 15%
// held back for the response. Integer division means the sections may
// sum to slightly less than total, never more.
func NewContextBudget(total int) ContextBudget {
	if total <= 0 {
		total = DefaultTotalTokens
	}
	return ContextBudget{
		Total:               total,
		SystemPrompt:        total * 15 / 100,
		ConversationHistory: total * 30 / 100,
		CurrentMessage:      total * 10 / 100,
		AgentScratchpad:     total * 30 / 100,
		ResponseBuffer:      total * 15 / 100,
	}
}

// Sum returns the total of all sections.
func (b ContextBudget) Sum() int {
	return b.SystemPrompt + b.ConversationHistory + b.CurrentMessage + b.AgentScratchpad + b.ResponseBuffer
}

// Validate reports whether the sections fit inside Total.
func (b ContextBudget) Validate() error {
	if b.Total <= 0 {
		return errors.New("context budget: total must be positive")
	}
	for name, v := range map[string]int{
		"system_prompt":        b.SystemPrompt,
		"conversation_history": b.ConversationHistory,
		"current_message":      b.CurrentMessage,
		"agent_scratchpad":     b.AgentScratchpad,
		"response_buffer":      b.ResponseBuffer,
	} {
		if v < 0 {
			return fmt.Errorf("context budget: %s is negative (%d)", name, v)
		}
	}
	if sum := b.Sum(); sum > b.Total {
		return fmt.Errorf("context budget: sections sum to %d, exceeding total %d", sum, b.Total)
	}
	return nil
}

// String summarizes the budget for logs.
func (b ContextBudget) String() string {
	return fmt.Sprintf("total=%d system=%d history=%d current=%d scratchpad=%d response=%d",
		b.Total, b.SystemPrompt, b.ConversationHistory, b.CurrentMessage, b.AgentScratchpad, b.ResponseBuffer)
}
