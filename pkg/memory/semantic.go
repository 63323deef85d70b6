package memory

import (
	"context"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/model"
)

// Embedder converts text to a vector. llm.Gateway satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Semantic stores documents keyed by their identity (path or URL) and
// retrieves them by embedding similarity.
type Semantic struct {
	embedder Embedder
	order    []string
	docs     map[string]*model.Document
}

// NewSemantic creates an empty store. embedder may be nil, in which case
// documents are stored without vectors and RetrieveRelevant returns nothing.
func NewSemantic(embedder Embedder) *Semantic {
	return &Semantic{
		embedder: embedder,
		docs:     make(map[string]*model.Document),
	}
}

// SetEmbedder replaces the embedder used for future ingestion and queries.
func (s *Semantic) SetEmbedder(embedder Embedder) {
	s.embedder = embedder
}

// Ingest adds a document or overwrites the one with the same ID in place.
func (s *Semantic) Ingest(ctx context.Context, doc model.Document) error {
	if doc.ID == "" {
		return goerr.New("document id is required")
	}
	if doc.Name == "" {
		doc.Name = filepath.Base(doc.ID)
	}
	if doc.Embedding == nil && s.embedder != nil && strings.TrimSpace(doc.Text) != "" {
		vec, err := s.embedder.Embed(ctx, doc.Text)
		if err != nil {
			return goerr.Wrap(err, "failed to embed document", goerr.V("id", doc.ID))
		}
		doc.Embedding = vec
	}

	if _, exists := s.docs[doc.ID]; !exists {
		s.order = append(s.order, doc.ID)
	}
	s.docs[doc.ID] = &doc
	return nil
}

func (s *Semantic) Count() int {
	return len(s.order)
}

// Match is a retrieval result.
type Match struct {
	Document model.Document
	Score    float64
}

// RetrieveRelevant returns the topK documents most similar to query, best
// first. Ties keep ingestion order.
func (s *Semantic) RetrieveRelevant(ctx context.Context, query string, topK int) ([]Match, error) {
	if s.embedder == nil || topK <= 0 || len(s.order) == 0 || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to embed query")
	}

	matches := make([]Match, 0, len(s.order))
	for _, id := range s.order {
		doc := s.docs[id]
		if len(doc.Embedding) == 0 {
			continue
		}
		matches = append(matches, Match{
			Document: *doc,
			Score:    cosineSimilarity(qvec, doc.Embedding),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK < len(matches) {
		matches = matches[:topK]
	}
	return matches, nil
}

// DocumentByName finds a document by its display name or ID.
func (s *Semantic) DocumentByName(name string) (*model.Document, bool) {
	if doc, ok := s.docs[name]; ok {
		d := *doc
		return &d, true
	}
	for _, id := range s.order {
		if s.docs[id].Name == name {
			d := *s.docs[id]
			return &d, true
		}
	}
	return nil, false
}

// ListDocumentNames returns names in ingestion order.
func (s *Semantic) ListDocumentNames() []string {
	names := make([]string, 0, len(s.order))
	for _, id := range s.order {
		names = append(names, s.docs[id].Name)
	}
	return names
}

// SemanticSnapshot keeps embeddings so a restore needs no gateway calls.
type SemanticSnapshot struct {
	Documents []model.Document `json:"documents"`
}

func (s *Semantic) Snapshot() SemanticSnapshot {
	docs := make([]model.Document, 0, len(s.order))
	for _, id := range s.order {
		docs = append(docs, *s.docs[id])
	}
	return SemanticSnapshot{Documents: docs}
}

func (s *Semantic) Restore(snap SemanticSnapshot) error {
	docs := make(map[string]*model.Document, len(snap.Documents))
	order := make([]string, 0, len(snap.Documents))
	for i := range snap.Documents {
		doc := snap.Documents[i]
		if doc.ID == "" {
			return goerr.Wrap(model.ErrSnapshotCorrupted, "document without id", goerr.V("index", i))
		}
		if _, dup := docs[doc.ID]; dup {
			return goerr.Wrap(model.ErrSnapshotCorrupted, "duplicate document id", goerr.V("id", doc.ID))
		}
		docs[doc.ID] = &doc
		order = append(order, doc.ID)
	}
	s.docs = docs
	s.order = order
	return nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
