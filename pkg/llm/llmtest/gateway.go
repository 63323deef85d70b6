// Package llmtest provides a scriptable llm.Gateway for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/m-mizutani/troupe/pkg/llm"
)

// Gateway is a mock llm.Gateway. Nil funcs return zero values.
type Gateway struct {
	CompleteFunc func(ctx context.Context, messages []llm.Message, params llm.Params) (string, error)
	EmbedFunc    func(ctx context.Context, text string) ([]float32, error)

	mu            sync.Mutex
	completeCalls int
	embedCalls    int
}

func (g *Gateway) Complete(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
	g.mu.Lock()
	g.completeCalls++
	g.mu.Unlock()
	if g.CompleteFunc == nil {
		return "", nil
	}
	return g.CompleteFunc(ctx, messages, params)
}

func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	g.mu.Lock()
	g.embedCalls++
	g.mu.Unlock()
	if g.EmbedFunc == nil {
		return nil, nil
	}
	return g.EmbedFunc(ctx, text)
}

func (g *Gateway) CompleteCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completeCalls
}

func (g *Gateway) EmbedCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.embedCalls
}

// Calls returns the total number of calls of either kind.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.completeCalls + g.embedCalls
}

// Decision renders the JSON document the cognitive loop expects from the
// model.
func Decision(kind, content, target string) string {
	raw, _ := json.Marshal(map[string]any{
		"action": map[string]any{
			"type":    kind,
			"content": content,
			"target":  target,
		},
		"cognitive_state": map[string]any{
			"goals":     []string{},
			"attention": "",
			"emotions":  "",
		},
	})
	return string(raw)
}

// Sequence returns a CompleteFunc that replies with responses in order and
// then keeps repeating the last one.
func Sequence(responses ...string) func(context.Context, []llm.Message, llm.Params) (string, error) {
	var mu sync.Mutex
	i := 0
	return func(context.Context, []llm.Message, llm.Params) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(responses) == 0 {
			return "", nil
		}
		r := responses[i]
		if i < len(responses)-1 {
			i++
		}
		return r, nil
	}
}
