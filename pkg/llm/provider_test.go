package llm_test

import (
	"context"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

type mockGemini struct {
	GenerateContentFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbeddingFunc       func(ctx context.Context, text string) (*genai.EmbedContentResponse, error)
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.GenerateContentFunc(ctx, contents, config)
}

func (m *mockGemini) Embedding(ctx context.Context, text string) (*genai.EmbedContentResponse, error) {
	return m.EmbeddingFunc(ctx, text)
}

func TestGeminiGatewayComplete(t *testing.T) {
	var gotContents []*genai.Content
	var gotConfig *genai.GenerateContentConfig
	mock := &mockGemini{
		GenerateContentFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotContents = contents
			gotConfig = config
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{
					{Content: genai.NewContentFromText(`{"action":{}}`, genai.RoleModel)},
				},
			}, nil
		},
	}

	g := llm.NewGeminiGateway(mock)
	out, err := g.Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "You are Lisa"},
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi"},
	}, llm.Params{Temperature: 0.3, MaxTokens: 256, JSONOutput: true})
	gt.NoError(t, err)
	gt.Equal(t, out, `{"action":{}}`)

	gt.A(t, gotContents).Length(2)
	gt.Equal(t, gotContents[0].Role, genai.RoleUser)
	gt.Equal(t, gotContents[1].Role, genai.RoleModel)
	gt.Equal(t, gotConfig.SystemInstruction.Parts[0].Text, "You are Lisa")
	gt.Equal(t, gotConfig.ResponseMIMEType, "application/json")
	gt.Equal(t, gotConfig.MaxOutputTokens, int32(256))
	gt.Equal(t, *gotConfig.Temperature, float32(0.3))
}

func TestGeminiGatewayEmptyResponse(t *testing.T) {
	mock := &mockGemini{
		GenerateContentFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return &genai.GenerateContentResponse{}, nil
		},
	}
	_, err := llm.NewGeminiGateway(mock).Complete(context.Background(), nil, llm.Params{})
	gt.Error(t, err)
}

func TestGeminiGatewayEmbed(t *testing.T) {
	mock := &mockGemini{
		EmbeddingFunc: func(ctx context.Context, text string) (*genai.EmbedContentResponse, error) {
			return &genai.EmbedContentResponse{
				Embeddings: []*genai.ContentEmbedding{{Values: []float32{1, 2, 3}}},
			}, nil
		},
	}
	vec, err := llm.NewGeminiGateway(mock).Embed(context.Background(), "text")
	gt.NoError(t, err)
	gt.Equal(t, vec, []float32{1, 2, 3})
}

type mockOpenAI struct {
	ChatCompletionFunc func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	EmbeddingFunc      func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockOpenAI) ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return m.ChatCompletionFunc(ctx, req)
}

func (m *mockOpenAI) Embedding(ctx context.Context, text string) ([]float32, error) {
	return m.EmbeddingFunc(ctx, text)
}

func TestOpenAIGatewayComplete(t *testing.T) {
	var got openai.ChatCompletionRequest
	mock := &mockOpenAI{
		ChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			got = req
			return openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{
					{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "done"}},
				},
			}, nil
		},
	}

	out, err := llm.NewOpenAIGateway(mock).Complete(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "u"},
	}, llm.Params{Model: "gpt-4o-mini", JSONOutput: true})
	gt.NoError(t, err)
	gt.Equal(t, out, "done")
	gt.Equal(t, got.Model, "gpt-4o-mini")
	gt.A(t, got.Messages).Length(2)
	gt.Equal(t, got.Messages[0].Role, openai.ChatMessageRoleSystem)
	gt.Equal(t, got.ResponseFormat.Type, openai.ChatCompletionResponseFormatTypeJSONObject)
}

func TestOpenAIGatewayNoChoices(t *testing.T) {
	mock := &mockOpenAI{
		ChatCompletionFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, nil
		},
	}
	_, err := llm.NewOpenAIGateway(mock).Complete(context.Background(), nil, llm.Params{})
	gt.Error(t, err)
}
