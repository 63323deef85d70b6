package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/adapter"
	"github.com/m-mizutani/troupe/pkg/agent"
	"github.com/m-mizutani/troupe/pkg/llm"
	"github.com/m-mizutani/troupe/pkg/metrics"
	"github.com/m-mizutani/troupe/pkg/repository"
	"github.com/m-mizutani/troupe/pkg/service/mcp"
	"github.com/m-mizutani/troupe/pkg/tool"
	"github.com/m-mizutani/troupe/pkg/tool/document"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

const (
	providerGemini = "gemini"
	providerOpenAI = "openai"
)

// config holds configuration values
type config struct {
	// Repository
	project  string
	database string

	// Storage
	storageDir    string
	storageBucket string

	// LLM
	provider       string
	geminiProject  string
	geminiLocation string
	geminiModel    string
	openaiAPIKey   string
	openaiBaseURL  string
	openaiModel    string
	temperature    float64
	maxActions     int64
	rateLimit      float64
	cacheFile      string

	// Tools
	mcpConfig string
	writer    *document.Writer

	metricsAddr string
}

func newConfig() *config {
	return &config{writer: document.New()}
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID of the Firestore transaction index. An in-memory index is used when empty",
			Sources:     cli.EnvVars("TROUPE_FIRESTORE_PROJECT", "GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("TROUPE_FIRESTORE_DATABASE", "FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.StringFlag{
			Name:        "storage-dir",
			Usage:       "Local directory for transaction files",
			Value:       ".troupe",
			Sources:     cli.EnvVars("TROUPE_STORAGE_DIR"),
			Destination: &cfg.storageDir,
		},
		&cli.StringFlag{
			Name:        "storage-bucket",
			Usage:       "Cloud Storage bucket for transaction files. Takes precedence over --storage-dir",
			Sources:     cli.EnvVars("TROUPE_STORAGE_BUCKET"),
			Destination: &cfg.storageBucket,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "provider",
			Usage:       "LLM provider (gemini or openai)",
			Value:       providerGemini,
			Sources:     cli.EnvVars("TROUPE_PROVIDER"),
			Destination: &cfg.provider,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("TROUPE_GEMINI_PROJECT", "GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("TROUPE_GEMINI_LOCATION", "GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini generative model",
			Sources:     cli.EnvVars("TROUPE_GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Usage:       "OpenAI API key",
			Sources:     cli.EnvVars("TROUPE_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.openaiAPIKey,
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Usage:       "Base URL of an OpenAI compatible API",
			Sources:     cli.EnvVars("TROUPE_OPENAI_BASE_URL"),
			Destination: &cfg.openaiBaseURL,
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Usage:       "OpenAI chat model",
			Sources:     cli.EnvVars("TROUPE_OPENAI_MODEL"),
			Destination: &cfg.openaiModel,
		},
		&cli.FloatFlag{
			Name:        "temperature",
			Usage:       "Sampling temperature of agent decisions",
			Value:       1.0,
			Sources:     cli.EnvVars("TROUPE_TEMPERATURE"),
			Destination: &cfg.temperature,
		},
		&cli.IntFlag{
			Name:        "max-actions",
			Usage:       "Maximum actions per act call",
			Value:       agent.DefaultMaxActions,
			Sources:     cli.EnvVars("TROUPE_MAX_ACTIONS"),
			Destination: &cfg.maxActions,
		},
		&cli.FloatFlag{
			Name:        "rate-limit",
			Usage:       "Maximum LLM requests per second. Zero disables throttling",
			Sources:     cli.EnvVars("TROUPE_RATE_LIMIT"),
			Destination: &cfg.rateLimit,
		},
		&cli.StringFlag{
			Name:        "cache-file",
			Usage:       "SQLite file of the cross-transaction LLM cache. Disabled when empty",
			Sources:     cli.EnvVars("TROUPE_CACHE_FILE"),
			Destination: &cfg.cacheFile,
		},
	}
}

// toolFlags returns flags of tools available to agents
func toolFlags(cfg *config) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "mcp-config",
			Usage:       "Path to MCP server configuration YAML",
			Sources:     cli.EnvVars("TROUPE_MCP_CONFIG"),
			Destination: &cfg.mcpConfig,
		},
	}
	return append(flags, cfg.writer.Flags()...)
}

func metricsFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "metrics-addr",
			Usage:       "Listen address of the Prometheus metrics endpoint, e.g. :9090. Disabled when empty",
			Sources:     cli.EnvVars("TROUPE_METRICS_ADDR"),
			Destination: &cfg.metricsAddr,
		},
	}
}

// newRepository creates the transaction index. Without a project the index
// lives in memory and is rebuilt from nothing on each invocation.
func (cfg *config) newRepository(ctx context.Context) (repository.Repository, func(), error) {
	if cfg.project == "" {
		return repository.NewMemory(), func() {}, nil
	}
	if cfg.database == "" {
		return nil, nil, goerr.New("database is required")
	}

	repo, err := repository.New(ctx, cfg.project, cfg.database)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to create repository")
	}
	return repo, func() {
		if err := repo.Close(); err != nil {
			logging.From(ctx).Warn("failed to close repository", "error", err)
		}
	}, nil
}

// newStorage creates a new Storage adapter instance
func (cfg *config) newStorage(ctx context.Context) (adapter.Storage, error) {
	if cfg.storageBucket != "" {
		storage, err := adapter.NewStorage(ctx, cfg.storageBucket, "")
		if err != nil {
			return nil, goerr.Wrap(err, "failed to create storage", goerr.V("bucket", cfg.storageBucket))
		}
		return storage, nil
	}

	if cfg.storageDir == "" {
		return nil, goerr.New("storage-dir or storage-bucket is required")
	}
	storage, err := adapter.NewFileStorage(cfg.storageDir)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage", goerr.V("dir", cfg.storageDir))
	}
	return storage, nil
}

// newBackend creates the provider gateway without caching and reports the
// models it talks to.
func (cfg *config) newBackend(ctx context.Context) (llm.Gateway, llm.Models, error) {
	switch cfg.provider {
	case providerGemini:
		if cfg.geminiProject == "" {
			return nil, llm.Models{}, goerr.New("gemini-project is required")
		}
		if cfg.geminiLocation == "" {
			return nil, llm.Models{}, goerr.New("gemini-location is required")
		}
		var opts []adapter.GeminiOption
		if cfg.geminiModel != "" {
			opts = append(opts, adapter.WithGenerativeModel(cfg.geminiModel))
		}
		client, err := adapter.NewGemini(ctx, cfg.geminiProject, cfg.geminiLocation, opts...)
		if err != nil {
			return nil, llm.Models{}, goerr.Wrap(err, "failed to create gemini client")
		}
		models := llm.Models{Completion: client.GenerativeModel(), Embedding: client.EmbeddingModel()}
		return llm.NewGeminiGateway(client), models, nil

	case providerOpenAI:
		if cfg.openaiAPIKey == "" {
			return nil, llm.Models{}, goerr.New("openai-api-key is required")
		}
		var opts []adapter.OpenAIOption
		if cfg.openaiModel != "" {
			opts = append(opts, adapter.WithChatModel(cfg.openaiModel))
		}
		client, err := adapter.NewOpenAI(cfg.openaiAPIKey, cfg.openaiBaseURL, opts...)
		if err != nil {
			return nil, llm.Models{}, goerr.Wrap(err, "failed to create openai client")
		}
		models := llm.Models{Completion: client.ChatModel(), Embedding: client.EmbeddingModel()}
		return llm.NewOpenAIGateway(client), models, nil
	}

	return nil, llm.Models{}, goerr.New("unknown provider", goerr.V("provider", cfg.provider))
}

// newGateway builds the gateway agents call through: provider, then retry
// and throttling, then the transaction cache and the optional disk cache.
func (cfg *config) newGateway(ctx context.Context, cache *llm.Cache, rec *metrics.Recorder) (*llm.CachingGateway, func(), error) {
	backend, models, err := cfg.newBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	logging.From(ctx).Debug("llm backend ready", "provider", cfg.provider, "model", models.Completion, "embedding_model", models.Embedding)

	retrying := llm.NewRetrying(backend,
		llm.WithRateLimit(cfg.rateLimit, 1),
		llm.WithRetryMetrics(rec),
	)

	opts := []llm.CachingOption{
		llm.WithModels(models),
		llm.WithCacheMetrics(rec),
	}
	cleanup := func() {}
	if cfg.cacheFile != "" {
		disk, err := llm.OpenDiskCache(ctx, cfg.cacheFile)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, llm.WithDiskCache(disk))
		cleanup = func() {
			if err := disk.Close(); err != nil {
				logging.From(ctx).Warn("failed to close disk cache", "error", err)
			}
		}
	}

	return llm.NewCachingGateway(retrying, cache, opts...), cleanup, nil
}

// newTools initializes the document writer and MCP tools. The returned
// func closes the MCP sessions.
func (cfg *config) newTools(ctx context.Context, storage adapter.Storage) (*tool.Registry, func(), error) {
	provider, err := mcp.LoadAndConnect(ctx, cfg.mcpConfig)
	if err != nil {
		return nil, nil, goerr.Wrap(err, "failed to load MCP tools")
	}
	closeTools := func() {
		if err := provider.Close(); err != nil {
			logging.From(ctx).Warn("failed to close MCP sessions", "error", err)
		}
	}

	tools := []tool.Tool{cfg.writer}
	if provider != nil {
		tools = append(tools, provider)
	}
	registry, err := tool.Init(ctx, &tool.Client{Storage: storage}, tools...)
	if err != nil {
		closeTools()
		return nil, nil, goerr.Wrap(err, "failed to initialize tools")
	}
	return registry, closeTools, nil
}

func (cfg *config) loopConfig() agent.Config {
	c := agent.DefaultConfig()
	c.MaxActions = int(cfg.maxActions)
	c.Params.Temperature = float32(cfg.temperature)
	return c
}

// serveMetrics exposes rec on metricsAddr until ctx is done.
func (cfg *config) serveMetrics(ctx context.Context, rec *metrics.Recorder) func() {
	if cfg.metricsAddr == "" {
		return func() {}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", rec.Handler())
	server := &http.Server{
		Addr:              cfg.metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger := logging.From(ctx)
	go func() {
		logger.Info("serving metrics", "addr", cfg.metricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to shut down metrics server", "error", err)
		}
	}
}
