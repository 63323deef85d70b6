package tool

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

var ErrToolNotFound = goerr.New("tool not found")

// Registry routes tool invocations to the tool that declares the function.
// Declaration order is preserved so prompts built from it are stable.
type Registry struct {
	tools    map[string]Tool
	allTools []Tool
	specs    []*genai.Tool
}

// New creates a new tool registry with the given tools
func New(tools ...Tool) *Registry {
	r := &Registry{
		tools:    make(map[string]Tool),
		allTools: tools,
	}

	for _, t := range tools {
		spec := t.Spec()
		if spec == nil || len(spec.FunctionDeclarations) == 0 {
			continue
		}
		r.specs = append(r.specs, spec)
		for _, fd := range spec.FunctionDeclarations {
			r.tools[fd.Name] = t
		}
	}

	return r
}

// Init initializes tools that implement Initializer and returns a registry
// of the tools that are enabled.
func Init(ctx context.Context, client *Client, tools ...Tool) (*Registry, error) {
	logger := logging.From(ctx)
	enabled := make([]Tool, 0, len(tools))
	for _, t := range tools {
		if t == nil {
			continue
		}
		if in, ok := t.(Initializer); ok {
			ok, err := in.Init(ctx, client)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to initialize tool")
			}
			if !ok {
				continue
			}
		}
		enabled = append(enabled, t)
	}

	r := New(enabled...)
	logger.Debug("tools initialized", "functions", r.Names())
	return r, nil
}

// Specs returns all tool specifications
func (r *Registry) Specs() []*genai.Tool {
	if r == nil {
		return nil
	}
	return r.specs
}

// Names returns function names in declaration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	var names []string
	for _, spec := range r.specs {
		for _, fd := range spec.FunctionDeclarations {
			names = append(names, fd.Name)
		}
	}
	return names
}

// Description is the prompt-facing summary of one function.
type Description struct {
	Name        string
	Description string
	Parameters  string
}

// Describe returns every function with its parameters rendered as JSON.
func (r *Registry) Describe() []Description {
	if r == nil {
		return nil
	}
	var out []Description
	for _, spec := range r.specs {
		for _, fd := range spec.FunctionDeclarations {
			d := Description{Name: fd.Name, Description: fd.Description}
			if d.Description == "" {
				d.Description = "(no description)"
			}
			if fd.Parameters != nil {
				if raw, err := json.Marshal(fd.Parameters); err == nil {
					d.Parameters = string(raw)
				}
			}
			out = append(out, d)
		}
	}
	return out
}

// Prompts returns all tool prompts concatenated
func (r *Registry) Prompts(ctx context.Context) string {
	if r == nil {
		return ""
	}
	var prompts []string
	for _, t := range r.allTools {
		if prompt := t.Prompt(ctx); prompt != "" {
			prompts = append(prompts, prompt)
		}
	}
	return strings.Join(prompts, "\n\n")
}

// Flags returns all tool flags combined
func (r *Registry) Flags() []cli.Flag {
	if r == nil {
		return nil
	}
	var flags []cli.Flag
	for _, t := range r.allTools {
		if toolFlags := t.Flags(); toolFlags != nil {
			flags = append(flags, toolFlags...)
		}
	}
	return flags
}

// Execute runs the tool with the given function call
func (r *Registry) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	if r == nil {
		return nil, goerr.Wrap(ErrToolNotFound, "no tools registered", goerr.V("name", fc.Name))
	}
	tool, ok := r.tools[fc.Name]
	if !ok {
		return nil, goerr.Wrap(ErrToolNotFound, "tool not found", goerr.V("name", fc.Name))
	}

	return tool.Execute(ctx, fc)
}

// Invoke executes a USE_TOOL action on behalf of owner and renders the
// response as text for the agent to read.
func (r *Registry) Invoke(ctx context.Context, owner string, call model.ToolCall) (string, error) {
	resp, err := r.Execute(WithOwner(ctx, owner), genai.FunctionCall{
		Name: call.Name,
		Args: call.Args,
	})
	if err != nil {
		return "", err
	}
	if resp == nil || resp.Response == nil {
		return "", nil
	}
	if s, ok := resp.Response["result"].(string); ok && len(resp.Response) == 1 {
		return s, nil
	}
	raw, err := json.Marshal(resp.Response)
	if err != nil {
		return "", goerr.Wrap(err, "failed to encode tool response", goerr.V("name", call.Name))
	}
	return string(raw), nil
}
