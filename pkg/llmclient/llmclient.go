// Package llmclient defines the single narrow interface the engine
// drives the model through, plus two adapters grounded on the pack's
// own LLM wiring: an OpenAI-compatible adapter built on
// sashabaranov/go-openai, and a local Ollama adapter built on the
// teacher's own github.com/ollama/ollama/api usage
// (pkg/agent_api/ollama_local.go). Per design note 3, "streaming" and
// "one-shot" modes collapse to one interface: Chat always returns the
// final accumulated string, with an optional callback for each chunk
// as it streams in.
package llmclient

import "context"

// Message is one chat turn.
type Message struct {
	Role    string
	Content string
}

// Params bounds one chat call.
type Params struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChunkFunc receives each incremental piece of a streaming response. It
// may be nil, in which case the adapter still accumulates internally
// and only the final string matters.
type ChunkFunc func(chunk string)

// ChatClient is the single capability the engine depends on for model
// access; every provider-specific concern lives behind it.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message, params Params, onChunk ChunkFunc) (string, error)
}
