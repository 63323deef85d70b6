package mcp

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/tool"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"
)

// DefaultCallTimeout bounds a tool call of a server without its own timeout.
const DefaultCallTimeout = 30 * time.Second

var ErrServerNotFound = goerr.New("MCP server not found")

// Client manages connections to the MCP servers whose tools agents invoke
// with USE_TOOL actions. Servers and their tools are always listed in name
// order so tool declarations render identically across runs.
type Client struct {
	mu      sync.RWMutex
	servers map[string]*server
}

type server struct {
	session *mcp.ClientSession
	tools   []*mcp.Tool
	timeout time.Duration
}

// ServerConfig is one entry of the MCP configuration file.
type ServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   []string          `yaml:"command"`
	Dir       string            `yaml:"dir"` // working directory of a stdio server
	URL       string            `yaml:"url"`
	Env       map[string]string `yaml:"env"`
	Timeout   time.Duration     `yaml:"timeout"`
}

func (cfg ServerConfig) Validate() error {
	if cfg.Name == "" {
		return goerr.New("server name is required")
	}
	switch cfg.Transport {
	case "stdio":
		if len(cfg.Command) == 0 {
			return goerr.New("command is required for stdio transport", goerr.V("server", cfg.Name))
		}
	case "http":
		if cfg.URL == "" {
			return goerr.New("url is required for http transport", goerr.V("server", cfg.Name))
		}
	default:
		return goerr.New("unsupported transport",
			goerr.V("server", cfg.Name),
			goerr.V("transport", cfg.Transport),
			goerr.V("supported", []string{"stdio", "http"}))
	}
	if cfg.Timeout < 0 {
		return goerr.New("timeout must not be negative", goerr.V("server", cfg.Name))
	}
	return nil
}

func NewClient() *Client {
	return &Client{
		servers: make(map[string]*server),
	}
}

// Connect opens a session to the server and caches its tool list.
func (c *Client) Connect(ctx context.Context, cfg ServerConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	_, exists := c.servers[cfg.Name]
	c.mu.RUnlock()
	if exists {
		return goerr.New("server already connected", goerr.V("server", cfg.Name))
	}

	var transport mcp.Transport
	switch cfg.Transport {
	case "stdio":
		transport = stdioTransport(cfg)
	case "http":
		transport = &mcp.StreamableClientTransport{Endpoint: cfg.URL}
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "troupe",
		Version: "0.1.0",
	}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to connect to MCP server", goerr.V("server", cfg.Name))
	}

	listed, err := session.ListTools(ctx, nil)
	if err != nil {
		_ = session.Close()
		return goerr.Wrap(err, "failed to list tools", goerr.V("server", cfg.Name))
	}
	tools := slices.Clone(listed.Tools)
	slices.SortFunc(tools, func(a, b *mcp.Tool) int {
		return strings.Compare(a.Name, b.Name)
	})

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultCallTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.servers[cfg.Name] = &server{
		session: session,
		tools:   tools,
		timeout: timeout,
	}
	return nil
}

func stdioTransport(cfg ServerConfig) mcp.Transport {
	cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...)
	cmd.Dir = cfg.Dir

	if len(cfg.Env) > 0 {
		keys := make([]string, 0, len(cfg.Env))
		for k := range cfg.Env {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		env := os.Environ()
		for _, k := range keys {
			env = append(env, k+"="+cfg.Env[k])
		}
		cmd.Env = env
	}

	return &mcp.CommandTransport{Command: cmd}
}

func (c *Client) server(name string) (*server, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	srv, ok := c.servers[name]
	if !ok {
		return nil, goerr.Wrap(ErrServerNotFound, "not connected", goerr.V("server", name))
	}
	return srv, nil
}

// GetTools returns the tools of a server sorted by name.
func (c *Client) GetTools(serverName string) ([]*mcp.Tool, error) {
	srv, err := c.server(serverName)
	if err != nil {
		return nil, err
	}
	return srv.tools, nil
}

// GetAllServers returns names of all connected servers in sorted order.
func (c *Client) GetAllServers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.servers))
	for name := range c.servers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// CallTool calls a tool with the timeout of its server. The invoking agent
// is taken from ctx for logging.
func (c *Client) CallTool(ctx context.Context, serverName string, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	srv, err := c.server(serverName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, srv.timeout)
	defer cancel()

	started := time.Now()
	result, err := srv.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      toolName,
		Arguments: arguments,
	})
	logging.From(ctx).Debug("MCP tool called",
		"server", serverName,
		"tool", toolName,
		"agent", tool.Owner(ctx),
		"elapsed", time.Since(started),
		"ok", err == nil,
	)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to call tool",
			goerr.V("server", serverName),
			goerr.V("tool", toolName))
	}

	return result, nil
}

// Close closes every session, even when some of them fail.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, srv := range c.servers {
		if err := srv.session.Close(); err != nil {
			errs = append(errs, goerr.Wrap(err, "failed to close session", goerr.V("server", name)))
		}
	}
	c.servers = make(map[string]*server)
	return errors.Join(errs...)
}

// Config is the MCP configuration file.
type Config struct {
	Servers []ServerConfig `yaml:"servers"`
}

// LoadConfig reads the configuration file. A relative stdio working
// directory is resolved against the directory of the file.
func LoadConfig(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve config path", goerr.V("path", path))
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read MCP config file", goerr.V("path", absPath))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse MCP config file", goerr.V("path", absPath))
	}

	base := filepath.Dir(absPath)
	for i := range cfg.Servers {
		if dir := cfg.Servers[i].Dir; dir != "" && !filepath.IsAbs(dir) {
			cfg.Servers[i].Dir = filepath.Join(base, dir)
		}
	}
	return &cfg, nil
}

// LoadAndConnect loads the configuration and connects to every server. It
// returns nil without error when nothing is configured or no server could
// be reached, so a simulation can run without external tools. The caller
// closes the returned provider.
func LoadAndConnect(ctx context.Context, configPath string) (*Provider, error) {
	if configPath == "" {
		return nil, nil
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.From(ctx)
	if len(cfg.Servers) == 0 {
		logger.Info("no MCP servers configured", "path", configPath)
		return nil, nil
	}

	client := NewClient()
	var failed []string
	for _, serverCfg := range cfg.Servers {
		if err := client.Connect(ctx, serverCfg); err != nil {
			logger.Warn("failed to connect to MCP server", "server", serverCfg.Name, "error", err)
			failed = append(failed, serverCfg.Name)
			continue
		}
		logger.Info("connected to MCP server", "server", serverCfg.Name)
	}

	if len(client.GetAllServers()) == 0 {
		logger.Warn("no MCP servers connected", "failed", failed)
		return nil, nil
	}

	return NewProvider(client), nil
}
