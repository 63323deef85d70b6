package llm

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/adapter"
	"github.com/sashabaranov/go-openai"
)

// OpenAIGateway implements Gateway on top of an OpenAI-compatible API.
type OpenAIGateway struct {
	client adapter.OpenAI
}

func NewOpenAIGateway(client adapter.OpenAI) *OpenAIGateway {
	return &OpenAIGateway{client: client}
}

func (g *OpenAIGateway) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       params.Model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
		Messages:    convertMessages(messages),
	}
	if params.JSONOutput {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := g.client.ChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", goerr.New("empty response from openai", goerr.V("model", req.Model))
	}
	return resp.Choices[0].Message.Content, nil
}

func (g *OpenAIGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	return g.client.Embedding(ctx, text)
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case RoleSystem:
			role = openai.ChatMessageRoleSystem
		case RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		out[i] = openai.ChatCompletionMessage{Role: role, Content: m.Content}
	}
	return out
}
