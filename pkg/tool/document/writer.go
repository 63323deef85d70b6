// Package document provides the write_document tool, which lets agents
// produce documents stored next to the simulation transcripts.
package document

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/adapter"
	"github.com/m-mizutani/troupe/pkg/tool"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"google.golang.org/genai"
)

const functionName = "write_document"

type Writer struct {
	storage adapter.Storage
	prefix  string
	enabled bool
}

func New() *Writer {
	return &Writer{prefix: "documents/", enabled: true}
}

// NewWithStorage creates a ready to use writer without Init.
func NewWithStorage(storage adapter.Storage) *Writer {
	w := New()
	w.storage = storage
	return w
}

func (w *Writer) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:        "enable-document-writer",
			Usage:       "Allow agents to write documents with the write_document tool",
			Value:       true,
			Sources:     cli.EnvVars("TROUPE_ENABLE_DOCUMENT_WRITER"),
			Destination: &w.enabled,
		},
		&cli.StringFlag{
			Name:        "document-prefix",
			Usage:       "Storage key prefix for documents written by agents",
			Value:       "documents/",
			Sources:     cli.EnvVars("TROUPE_DOCUMENT_PREFIX"),
			Destination: &w.prefix,
		},
	}
}

func (w *Writer) Init(ctx context.Context, client *tool.Client) (bool, error) {
	if !w.enabled || client == nil || client.Storage == nil {
		return false, nil
	}
	w.storage = client.Storage
	return true, nil
}

func (w *Writer) Spec() *genai.Tool {
	return &genai.Tool{
		FunctionDeclarations: []*genai.FunctionDeclaration{
			{
				Name:        functionName,
				Description: "Write a document such as a report, a memo or a letter. The document is kept after the simulation ends.",
				Parameters: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"title": {
							Type:        genai.TypeString,
							Description: "Title of the document",
						},
						"content": {
							Type:        genai.TypeString,
							Description: "Full text of the document in Markdown",
						},
					},
					Required: []string{"title", "content"},
				},
			},
		},
	}
}

func (w *Writer) Prompt(ctx context.Context) string {
	return "You can write documents with the write_document tool. Use it when you are asked to produce a written artifact."
}

func (w *Writer) Execute(ctx context.Context, fc genai.FunctionCall) (*genai.FunctionResponse, error) {
	if fc.Name != functionName {
		return nil, goerr.Wrap(tool.ErrToolNotFound, "unknown function", goerr.V("name", fc.Name))
	}
	if w.storage == nil {
		return nil, goerr.New("document storage is not configured")
	}

	title, _ := fc.Args["title"].(string)
	content, _ := fc.Args["content"].(string)
	if strings.TrimSpace(title) == "" {
		return nil, goerr.New("title is required")
	}

	owner := tool.Owner(ctx)
	if owner == "" {
		owner = "anonymous"
	}
	key := fmt.Sprintf("%s%s/%s.md", w.prefix, slugify(owner), slugify(title))

	wc, err := w.storage.Put(ctx, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open document", goerr.V("key", key))
	}
	if _, err := io.WriteString(wc, fmt.Sprintf("# %s\n\n%s\n", title, content)); err != nil {
		_ = wc.Close()
		return nil, goerr.Wrap(err, "failed to write document", goerr.V("key", key))
	}
	if err := wc.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to save document", goerr.V("key", key))
	}

	logging.From(ctx).Info("document written", "owner", owner, "key", key)
	return &genai.FunctionResponse{
		Name:     fc.Name,
		Response: map[string]any{"result": fmt.Sprintf("Document %q saved as %s", title, key)},
	}, nil
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(s string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if slug == "" {
		return "untitled"
	}
	return slug
}
