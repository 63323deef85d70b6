package mcp

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/tool"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const externalToolsPrompt = "Some tools are provided by external services. Their results reflect the real world, so use them only when your character would plausibly do so."

// Provider exposes the tools of connected MCP servers to agents as one
// tool.Tool. A tool name served by more than one server is bound to the
// first server in name order.
type Provider struct {
	client *Client
	decls  []*genai.FunctionDeclaration
	routes map[string]route
}

type route struct {
	server string
	tool   string
}

func NewProvider(client *Client) *Provider {
	return &Provider{
		client: client,
		routes: make(map[string]route),
	}
}

// Close closes the sessions of every server. It is safe on a nil provider.
func (p *Provider) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Flags returns nil; the MCP config path is a command flag.
func (p *Provider) Flags() []cli.Flag {
	return nil
}

// Init registers the tools of every connected server. It reports false
// when no server offers any tool.
func (p *Provider) Init(ctx context.Context, _ *tool.Client) (bool, error) {
	if p.client == nil {
		return false, nil
	}
	logger := logging.From(ctx)

	p.decls = nil
	p.routes = make(map[string]route)
	for _, serverName := range p.client.GetAllServers() {
		tools, err := p.client.GetTools(serverName)
		if err != nil {
			return false, err
		}

		for _, t := range tools {
			if prev, dup := p.routes[t.Name]; dup {
				logger.Warn("MCP tool name already served by another server",
					"tool", t.Name, "server", serverName, "bound_to", prev.server)
				continue
			}

			decl, err := declaration(t)
			if err != nil {
				return false, goerr.Wrap(err, "failed to convert tool",
					goerr.V("server", serverName),
					goerr.V("tool", t.Name))
			}
			p.decls = append(p.decls, decl)
			p.routes[t.Name] = route{server: serverName, tool: t.Name}
		}
	}

	logger.Debug("MCP tools registered", "count", len(p.decls))
	return len(p.decls) > 0, nil
}

func declaration(t *mcp.Tool) (*genai.FunctionDeclaration, error) {
	decl := &genai.FunctionDeclaration{
		Name:        t.Name,
		Description: t.Description,
	}
	if t.InputSchema == nil {
		return decl, nil
	}

	params, err := inputSchema(t.InputSchema)
	if err != nil {
		return nil, err
	}
	decl.Parameters = params
	return decl, nil
}

func (p *Provider) Spec() *genai.Tool {
	if len(p.decls) == 0 {
		return nil
	}
	return &genai.Tool{FunctionDeclarations: p.decls}
}

func (p *Provider) Prompt(ctx context.Context) string {
	if len(p.decls) == 0 {
		return ""
	}
	return externalToolsPrompt
}

// Execute calls the MCP tool. Text content becomes the "result" of the
// response; a tool level failure is reported as "error" rather than as a Go
// error, so the agent sees it as a tool result.
func (p *Provider) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	r, ok := p.routes[fc.Name]
	if !ok {
		return nil, goerr.Wrap(tool.ErrToolNotFound, "MCP tool not found", goerr.V("name", fc.Name))
	}

	result, err := p.client.CallTool(ctx, r.server, r.tool, fc.Args)
	if err != nil {
		return nil, err
	}

	text, err := renderResult(result)
	if err != nil {
		return nil, err
	}

	key := "result"
	if result.IsError {
		key = "error"
	}
	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: map[string]any{key: text},
	}, nil
}

// renderResult joins text contents. Results without text are returned as
// their JSON encoding.
func renderResult(result *mcp.CallToolResult) (string, error) {
	var texts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	if len(texts) > 0 {
		return strings.Join(texts, "\n"), nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal result")
	}
	return string(raw), nil
}
