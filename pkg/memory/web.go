package memory

import (
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/model"
	"github.com/m-mizutani/troupe/pkg/utils/logging"
	"golang.org/x/net/html"
)

const (
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxPageBytes = 2 << 20
)

var (
	blankLines = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t]{2,}`)
)

// IsURL reports whether location is an http or https URL rather than a
// file path.
func IsURL(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// WebReader fetches web pages as documents.
type WebReader struct {
	client   *http.Client
	maxBytes int64
}

type WebReaderOption func(*WebReader)

func WithHTTPClient(client *http.Client) WebReaderOption {
	return func(r *WebReader) {
		r.client = client
	}
}

// WithMaxPageBytes limits how much of a response body is read.
func WithMaxPageBytes(n int64) WebReaderOption {
	return func(r *WebReader) {
		r.maxBytes = n
	}
}

func NewWebReader(opts ...WebReaderOption) *WebReader {
	r := &WebReader{
		client:   &http.Client{Timeout: DefaultFetchTimeout},
		maxBytes: DefaultMaxPageBytes,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Read fetches rawURL. HTML is reduced to its readable text and the page
// title becomes the document name; other text responses are kept as they
// are.
func (r *WebReader) Read(ctx context.Context, rawURL string) (*model.Document, error) {
	if !IsURL(rawURL) {
		return nil, goerr.New("not a web URL", goerr.V("url", rawURL))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create request", goerr.V("url", rawURL))
	}
	req.Header.Set("Accept", "text/html,text/plain,text/markdown;q=0.9,*/*;q=0.5")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to fetch page", goerr.V("url", rawURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, goerr.New("unexpected status", goerr.V("url", rawURL), goerr.V("status", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read page", goerr.V("url", rawURL))
	}

	doc := &model.Document{ID: rawURL, Name: rawURL, Text: string(body)}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "text/html" || mediaType == "application/xhtml+xml" {
		title, text, err := htmlText(string(body))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to parse page", goerr.V("url", rawURL))
		}
		doc.Text = text
		if title != "" {
			doc.Name = title
		}
	}
	return doc, nil
}

// htmlText returns the title and the visible text of a page, one block
// element per paragraph.
func htmlText(page string) (string, string, error) {
	root, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", "", err
	}

	var (
		title string
		b     strings.Builder
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
			return

		case html.ElementNode:
			switch n.Data {
			case "script", "style", "noscript", "iframe", "svg", "nav", "footer", "template":
				return
			case "title":
				if n.FirstChild != nil && title == "" {
					title = strings.TrimSpace(n.FirstChild.Data)
				}
				return
			case "p", "div", "section", "article", "h1", "h2", "h3", "h4", "h5", "h6", "table", "tr", "ul", "ol":
				b.WriteString("\n\n")
			case "li":
				b.WriteString("\n- ")
			case "br":
				b.WriteString("\n")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	text := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return title, strings.TrimSpace(text), nil
}

// IngestURL fetches and ingests the page at rawURL. A URL that is already
// stored is not fetched again. reader may be nil to use a default one.
func (s *Semantic) IngestURL(ctx context.Context, reader *WebReader, rawURL string) error {
	if _, ok := s.docs[rawURL]; ok {
		return nil
	}
	if reader == nil {
		reader = NewWebReader()
	}

	doc, err := reader.Read(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := s.Ingest(ctx, *doc); err != nil {
		return err
	}
	logging.From(ctx).Debug("web page ingested", "url", rawURL, "name", doc.Name, "chars", len(doc.Text))
	return nil
}
