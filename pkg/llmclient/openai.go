package llmclient

import (
	"context"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/brindlewood/taskloom/pkg/taskerr"
)

// OpenAIClient adapts an OpenAI-compatible chat completions endpoint
// (OpenAI itself, or any server implementing the same wire format) to
// ChatClient.
type OpenAIClient struct {
	api *openai.Client
}

// NewOpenAIClient builds a client against baseURL (empty for the
// official API) authenticated with apiKey.
func NewOpenAIClient(apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{api: openai.NewClientWithConfig(cfg)}
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// Chat implements ChatClient by streaming the completion and
// accumulating every delta into the final string, invoking onChunk as
// each delta arrives when non-nil.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, params Params, onChunk ChunkFunc) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       params.Model,
		Messages:    toOpenAIMessages(messages),
		Temperature: float32(params.Temperature),
		MaxTokens:   params.MaxTokens,
		Stream:      true,
	}

	stream, err := c.api.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", taskerr.Wrap(taskerr.LLMTransient, "create chat stream", err)
	}
	defer stream.Close()

	var full string
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return full, taskerr.Wrap(taskerr.LLMTransient, "receive chat stream", err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full += delta
		if onChunk != nil {
			onChunk(delta)
		}
	}
	return full, nil
}
