package adapter

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
)

// OpenAI is the subset of an OpenAI-compatible API used by the LLM gateway.
type OpenAI interface {
	ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	Embedding(ctx context.Context, text string) ([]float32, error)
}

type OpenAIClient struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
}

type OpenAIOption func(*OpenAIClient)

func WithChatModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.chatModel = model
	}
}

func WithOpenAIEmbeddingModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		c.embeddingModel = model
	}
}

// NewOpenAI creates a client for OpenAI or any API compatible with it.
// baseURL may be empty to use the official endpoint.
func NewOpenAI(apiKey, baseURL string, opts ...OpenAIOption) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, goerr.New("openai api key is required")
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	c := &OpenAIClient{
		client:         openai.NewClientWithConfig(cfg),
		chatModel:      openai.GPT4oMini,
		embeddingModel: string(openai.SmallEmbedding3),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ChatModel returns the default chat model.
func (c *OpenAIClient) ChatModel() string {
	return c.chatModel
}

func (c *OpenAIClient) EmbeddingModel() string {
	return c.embeddingModel
}

func (c *OpenAIClient) ChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if req.Model == "" {
		req.Model = c.chatModel
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionResponse{}, goerr.Wrap(err, "failed to create chat completion", goerr.V("model", req.Model))
	}
	return resp, nil
}

func (c *OpenAIClient) Embedding(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embeddings", goerr.V("model", c.embeddingModel))
	}
	if len(resp.Data) == 0 {
		return nil, goerr.New("empty embedding response", goerr.V("model", c.embeddingModel))
	}
	return resp.Data[0].Embedding, nil
}
