// Package llm talks to the language model providers behind the agent.
package llm

import "context"

// Client is implemented by every model provider.
type Client interface {
	// Chat sends one completion request. tools may be nil.
	Chat(ctx context.Context, model string, messages []Message, tools []Tool) (*ChatResponse, error)

	// Ping checks that the provider is reachable and the credentials work.
	Ping(ctx context.Context) error
}
