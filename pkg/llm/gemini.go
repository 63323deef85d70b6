package llm

import (
	"context"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/adapter"
	"google.golang.org/genai"
)

// GeminiGateway implements Gateway on top of adapter.Gemini.
type GeminiGateway struct {
	client adapter.Gemini
}

func NewGeminiGateway(client adapter.Gemini) *GeminiGateway {
	return &GeminiGateway{client: client}
}

func (g *GeminiGateway) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	thinkingBudget := int32(0)
	temperature := params.Temperature
	config := &genai.GenerateContentConfig{
		Temperature: &temperature,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  &thinkingBudget,
		},
	}
	if len(system) > 0 {
		config.SystemInstruction = genai.NewContentFromText(strings.Join(system, "\n\n"), "")
	}
	if params.MaxTokens > 0 {
		config.MaxOutputTokens = int32(params.MaxTokens)
	}
	if params.JSONOutput {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := g.client.GenerateContent(ctx, contents, config)
	if err != nil {
		return "", err
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", goerr.New("no content in gemini response")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Text != "" && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String(), nil
}

func (g *GeminiGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.client.Embedding(ctx, text)
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, goerr.New("no embedding in gemini response")
	}
	return resp.Embeddings[0].Values, nil
}
