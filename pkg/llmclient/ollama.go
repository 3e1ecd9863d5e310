package llmclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	ollama "github.com/ollama/ollama/api"

	"github.com/brindlewood/taskloom/pkg/taskerr"
)

// OllamaClient adapts a local Ollama daemon to ChatClient, grounded on
// the teacher's buildChatRequest/SendChatRequest wiring in
// pkg/agent_api/ollama_local.go.
type OllamaClient struct {
	client *ollama.Client
}

// NewOllamaClient builds a client from the OLLAMA_HOST environment, or
// the given baseURL if set.
func NewOllamaClient(baseURL string) (*OllamaClient, error) {
	if baseURL == "" {
		c, err := ollama.ClientFromEnvironment()
		if err != nil {
			return nil, taskerr.Wrap(taskerr.LLMFatal, "create ollama client", err)
		}
		return &OllamaClient{client: c}, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, taskerr.Wrap(taskerr.LLMFatal, "parse ollama base url", err)
	}
	return &OllamaClient{client: ollama.NewClient(u, http.DefaultClient)}, nil
}

func toOllamaMessages(messages []Message) []ollama.Message {
	out := make([]ollama.Message, 0, len(messages))
	for _, m := range messages {
		out = append(out, ollama.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

// Chat implements ChatClient via Ollama's streaming chat callback,
// accumulating every fragment into the final string.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, params Params, onChunk ChunkFunc) (string, error) {
	stream := true
	req := &ollama.ChatRequest{
		Model:    params.Model,
		Messages: toOllamaMessages(messages),
		Stream:   &stream,
	}

	var b strings.Builder
	err := c.client.Chat(ctx, req, func(resp ollama.ChatResponse) error {
		if resp.Message.Content == "" {
			return nil
		}
		b.WriteString(resp.Message.Content)
		if onChunk != nil {
			onChunk(resp.Message.Content)
		}
		return nil
	})
	if err != nil {
		return b.String(), taskerr.Wrap(taskerr.LLMTransient, "ollama chat", err)
	}
	return b.String(), nil
}
