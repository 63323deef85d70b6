package tool

import (
	"context"

	"github.com/m-mizutani/troupe/pkg/adapter"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

// Tool is an external capability agents can invoke with a USE_TOOL action.
type Tool interface {
	// Spec returns the function declarations this tool serves
	Spec() *genai.Tool

	// Execute runs the tool with the given function call and returns the response
	Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error)

	// Prompt returns additional information to be added to the agent prompt
	// Returns empty string if no additional prompt is needed
	Prompt(ctx context.Context) string

	// Flags returns CLI flags for this tool
	// Returns nil if no flags are needed
	Flags() []cli.Flag
}

// Client carries the resources tools are initialized with. Storage is the
// backend of the running transaction; tools that write artifacts keep them
// next to it.
type Client struct {
	Storage adapter.Storage
}

// Initializer is implemented by tools that need shared resources. Init
// returns false when the tool should stay disabled.
type Initializer interface {
	Init(ctx context.Context, client *Client) (bool, error)
}

type ownerKey struct{}

// WithOwner attaches the name of the invoking agent to ctx.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// Owner returns the invoking agent set by WithOwner.
func Owner(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey{}).(string); ok {
		return v
	}
	return ""
}
