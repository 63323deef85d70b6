package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Params are the generation parameters of a completion. They are part of
// the cache key, so two requests differing only in Params never share an
// entry.
type Params struct {
	Model       string  `json:"model,omitempty"`
	Temperature float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	// JSONOutput asks the backend to emit a JSON document.
	JSONOutput bool `json:"json_output,omitempty"`
}

// Gateway is the LLM capability consumed by agents and semantic memory.
type Gateway interface {
	Complete(ctx context.Context, messages []Message, params Params) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

type requestKind string

const (
	kindComplete requestKind = "complete"
	kindEmbed    requestKind = "embed"
)

// Models names the models behind a gateway. They become part of every cache
// key, so responses of one model are never replayed for another.
type Models struct {
	Completion string `json:"completion"`
	Embedding  string `json:"embedding"`
}

type keyMaterial struct {
	Kind     requestKind `json:"kind"`
	Model    string      `json:"model,omitempty"`
	Messages []Message   `json:"messages,omitempty"`
	Params   *Params     `json:"params,omitempty"`
	Text     string      `json:"text,omitempty"`
}

// CompletionKey derives the exact-match cache key of a completion request.
func CompletionKey(messages []Message, params Params) (string, error) {
	return hashKey(keyMaterial{Kind: kindComplete, Messages: messages, Params: &params})
}

// EmbeddingKey derives the exact-match cache key of an embedding request
// made with model.
func EmbeddingKey(model, text string) (string, error) {
	return hashKey(keyMaterial{Kind: kindEmbed, Model: model, Text: text})
}

func hashKey(m keyMaterial) (string, error) {
	// Struct fields marshal in declaration order, so the encoding is canonical.
	raw, err := json.Marshal(m)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode cache key")
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
