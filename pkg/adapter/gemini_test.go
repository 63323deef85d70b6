package adapter_test

import (
	"context"
	"os"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/troupe/pkg/adapter"
	"google.golang.org/genai"
)

func TestGenerateContent(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewGemini(ctx, projectID, "us-central1")
	gt.NoError(t, err)

	contents := []*genai.Content{
		genai.NewContentFromText("Reply with a one word greeting.", genai.RoleUser),
	}

	resp, err := client.GenerateContent(ctx, contents, nil)
	gt.NoError(t, err)

	if resp == nil ||
		len(resp.Candidates) == 0 ||
		resp.Candidates[0].Content == nil ||
		len(resp.Candidates[0].Content.Parts) == 0 ||
		resp.Candidates[0].Content.Parts[0].Text == "" {
		t.Fatal("unexpected response")
	}

	t.Log("response:", resp.Candidates[0].Content.Parts[0].Text)
}

func TestEmbedding(t *testing.T) {
	projectID := os.Getenv("TEST_GEMINI_PROJECT")
	if projectID == "" {
		t.Skip("TEST_GEMINI_PROJECT is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewGemini(ctx, projectID, "us-central1", adapter.WithEmbeddingDimensions(64))
	gt.NoError(t, err)

	resp, err := client.Embedding(ctx, "A barista who loves jazz")
	gt.NoError(t, err)
	gt.A(t, resp.Embeddings).Length(1)
	gt.A(t, resp.Embeddings[0].Values).Length(64)
}

func TestOpenAIChatCompletion(t *testing.T) {
	apiKey := os.Getenv("TEST_OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("TEST_OPENAI_API_KEY is not set")
	}

	ctx := context.Background()
	client, err := adapter.NewOpenAI(apiKey, os.Getenv("TEST_OPENAI_BASE_URL"))
	gt.NoError(t, err)

	vec, err := client.Embedding(ctx, "A barista who loves jazz")
	gt.NoError(t, err)
	gt.A(t, vec).Longer(0)
}
