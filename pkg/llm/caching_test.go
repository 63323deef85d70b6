package llm_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/llm/llmtest"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/model"
)

func echoGateway() *llmtest.Gateway {
	return &llmtest.Gateway{
		CompleteFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
			return "echo: " + messages[len(messages)-1].Content, nil
		},
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{float32(len(text)), 1}, nil
		},
	}
}

func TestCompletionKey(t *testing.T) {
	msgs := []llm.Message{{Role: llm.RoleSystem, Content: "You are Lisa"}, {Role: llm.RoleUser, Content: "hi"}}

	k1, err := llm.CompletionKey(msgs, llm.Params{Temperature: 0.5})
	gt.NoError(t, err)
	k2, err := llm.CompletionKey(msgs, llm.Params{Temperature: 0.5})
	gt.NoError(t, err)
	gt.Equal(t, k1, k2)

	k3, err := llm.CompletionKey(msgs, llm.Params{Temperature: 0.6})
	gt.NoError(t, err)
	gt.NotEqual(t, k1, k3)

	k4, err := llm.CompletionKey(msgs[1:], llm.Params{Temperature: 0.5})
	gt.NoError(t, err)
	gt.NotEqual(t, k1, k4)

	k5, err := llm.CompletionKey(msgs, llm.Params{Model: "gpt-4o-mini", Temperature: 0.5})
	gt.NoError(t, err)
	gt.NotEqual(t, k1, k5)

	e1, err := llm.EmbeddingKey("gemini-embedding-001", "hi")
	gt.NoError(t, err)
	gt.NotEqual(t, e1, k1)

	e2, err := llm.EmbeddingKey("text-embedding-3-small", "hi")
	gt.NoError(t, err)
	gt.NotEqual(t, e1, e2)
}

func TestCachingGatewayHitAndMiss(t *testing.T) {
	ctx := context.Background()
	inner := echoGateway()
	g := llm.NewCachingGateway(inner, nil, llm.WithCacheMetrics(metrics.New()))
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "hello"}}

	out, err := g.Complete(ctx, msgs, llm.Params{})
	gt.NoError(t, err)
	gt.Equal(t, out, "echo: hello")

	out, err = g.Complete(ctx, msgs, llm.Params{})
	gt.NoError(t, err)
	gt.Equal(t, out, "echo: hello")

	_, err = g.Embed(ctx, "hello")
	gt.NoError(t, err)
	vec, err := g.Embed(ctx, "hello")
	gt.NoError(t, err)
	gt.Equal(t, vec, []float32{5, 1})

	gt.Equal(t, inner.CompleteCalls(), 1)
	gt.Equal(t, inner.EmbedCalls(), 1)
	gt.Equal(t, g.Cache().Stats(), llm.CacheStats{Hits: 2, Misses: 2})
	gt.Equal(t, g.Cache().Len(), 2)
}

func TestCachingGatewayDoesNotCacheErrors(t *testing.T) {
	ctx := context.Background()
	fail := true
	inner := &llmtest.Gateway{
		CompleteFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
			if fail {
				return "", model.ErrGateway
			}
			return "fine", nil
		},
	}
	g := llm.NewCachingGateway(inner, llm.NewCache())

	_, err := g.Complete(ctx, nil, llm.Params{})
	gt.True(t, errors.Is(err, model.ErrGateway))
	gt.Equal(t, g.Cache().Len(), 0)

	fail = false
	out, err := g.Complete(ctx, nil, llm.Params{})
	gt.NoError(t, err)
	gt.Equal(t, out, "fine")
}

func TestCacheRestoreReplaysWithoutCalls(t *testing.T) {
	ctx := context.Background()
	first := echoGateway()
	g1 := llm.NewCachingGateway(first, nil)
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "replay me"}}
	_, err := g1.Complete(ctx, msgs, llm.Params{})
	gt.NoError(t, err)

	second := echoGateway()
	cache := llm.NewCache()
	gt.NoError(t, cache.Restore(g1.Cache().Entries()))
	g2 := llm.NewCachingGateway(second, cache)

	out, err := g2.Complete(ctx, msgs, llm.Params{})
	gt.NoError(t, err)
	gt.Equal(t, out, "echo: replay me")
	gt.Equal(t, second.Calls(), 0)
	gt.Equal(t, cache.Stats().Misses, 0)
}

func TestCacheRestoreRejectsInvalidEntry(t *testing.T) {
	cache := llm.NewCache()
	cache.Put("k", llm.CacheEntry{Kind: "complete", Text: "x"})

	err := cache.Restore(map[string]llm.CacheEntry{"bad": {Kind: "unknown"}})
	gt.True(t, errors.Is(err, model.ErrSnapshotCorrupted))
	gt.Equal(t, cache.Len(), 1)

	cache.Reset()
	gt.Equal(t, cache.Len(), 0)
}

func TestCachingGatewayWithDiskCache(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	disk, err := llm.OpenDiskCache(ctx, path)
	gt.NoError(t, err)
	first := echoGateway()
	g1 := llm.NewCachingGateway(first, nil, llm.WithDiskCache(disk))
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "persist"}}
	_, err = g1.Complete(ctx, msgs, llm.Params{})
	gt.NoError(t, err)
	gt.NoError(t, disk.Close())

	// A new transaction with an empty cache is served from disk.
	disk, err = llm.OpenDiskCache(ctx, path)
	gt.NoError(t, err)
	defer disk.Close()
	second := echoGateway()
	g2 := llm.NewCachingGateway(second, nil, llm.WithDiskCache(disk))

	out, err := g2.Complete(ctx, msgs, llm.Params{})
	gt.NoError(t, err)
	gt.Equal(t, out, "echo: persist")
	gt.Equal(t, second.Calls(), 0)
	gt.Equal(t, g2.Cache().Len(), 1)
}

func TestCachingGatewayKeysByModel(t *testing.T) {
	ctx := context.Background()
	disk, err := llm.OpenDiskCache(ctx, filepath.Join(t.TempDir(), "cache.db"))
	gt.NoError(t, err)
	defer disk.Close()

	backend := func(model string) *llmtest.Gateway {
		return &llmtest.Gateway{
			CompleteFunc: func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
				return "from " + params.Model, nil
			},
			EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
				return []float32{float32(len(model))}, nil
			},
		}
	}
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "What do you think of the new blender?"}}

	gemini := backend("gemini-embedding-001")
	g1 := llm.NewCachingGateway(gemini, nil, llm.WithDiskCache(disk),
		llm.WithModels(llm.Models{Completion: "gemini-2.5-flash", Embedding: "gemini-embedding-001"}))
	out, err := g1.Complete(ctx, msgs, llm.Params{Temperature: 1})
	gt.NoError(t, err)
	gt.Equal(t, out, "from gemini-2.5-flash")
	_, err = g1.Embed(ctx, "blender")
	gt.NoError(t, err)

	openai := backend("text-embedding-3-small")
	g2 := llm.NewCachingGateway(openai, nil, llm.WithDiskCache(disk),
		llm.WithModels(llm.Models{Completion: "gpt-4o-mini", Embedding: "text-embedding-3-small"}))
	out, err = g2.Complete(ctx, msgs, llm.Params{Temperature: 1})
	gt.NoError(t, err)
	gt.Equal(t, out, "from gpt-4o-mini")
	vec, err := g2.Embed(ctx, "blender")
	gt.NoError(t, err)
	gt.Equal(t, vec, []float32{22})
	gt.Equal(t, openai.CompleteCalls(), 1)
	gt.Equal(t, openai.EmbedCalls(), 1)

	// the same models replay from disk
	again := backend("gemini-embedding-001")
	g3 := llm.NewCachingGateway(again, nil, llm.WithDiskCache(disk),
		llm.WithModels(llm.Models{Completion: "gemini-2.5-flash", Embedding: "gemini-embedding-001"}))
	out, err = g3.Complete(ctx, msgs, llm.Params{Temperature: 1})
	gt.NoError(t, err)
	gt.Equal(t, out, "from gemini-2.5-flash")
	gt.Equal(t, again.Calls(), 0)
}
