// Package faq answers frequently asked questions from a vertical's FAQ
// entries: a whole-word keyword pass, a price special case and an optional
// embedding similarity fallback.
package faq

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/fluxion/voice-agent/internal/italian"
	"github.com/fluxion/voice-agent/pkg/logging"
)

// MinSemanticScore is the cosine similarity a semantic hit needs.
const MinSemanticScore = 0.6

// Source tells which pass produced a match.
type Source string

const (
	SourceKeyword  Source = "keyword"
	SourceSemantic Source = "semantic"
)

// Entry is one FAQ item. Answer may contain {{VARIABLE}} placeholders.
type Entry struct {
	ID       string   `json:"id,omitempty"`
	Keywords []string `json:"keywords"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
}

// Match is a retrieved entry with its score.
type Match struct {
	Entry      Entry
	Source     Source
	Confidence float64
}

// Embedder turns texts into vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Option configures an Index.
type Option func(*Index)

// WithEmbedder enables the semantic pass.
func WithEmbedder(e Embedder) Option {
	return func(ix *Index) { ix.embedder = e }
}

// WithServiceTerms lists the service nouns recognized by the price pass.
func WithServiceTerms(terms []string) Option {
	return func(ix *Index) {
		for _, t := range terms {
			if n := italian.NormalizePhrase(t); n != "" {
				ix.services = append(ix.services, n)
			}
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(ix *Index) { ix.logger = l }
}

// Index holds the entries of one vertical. Vectors are computed lazily on
// the first semantic lookup.
type Index struct {
	entries  []Entry
	keywords [][]string
	services []string
	embedder Embedder
	logger   *logging.Logger

	mu      sync.Mutex
	vectors [][]float32
	built   bool
}

var errEmbeddingMismatch = errors.New("faq: embedding response size mismatch")

// NewIndex builds an index over entries.
func NewIndex(entries []Entry, opts ...Option) *Index {
	ix := &Index{entries: entries}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.logger == nil {
		ix.logger = logging.Default()
	}
	ix.keywords = make([][]string, len(entries))
	for i, e := range entries {
		for _, kw := range e.Keywords {
			if n := italian.NormalizePhrase(kw); n != "" {
				ix.keywords[i] = append(ix.keywords[i], n)
			}
		}
	}
	return ix
}

// Len returns the number of entries.
func (ix *Index) Len() int { return len(ix.entries) }

// Find returns the best answer for query, or false when nothing qualifies.
func (ix *Index) Find(ctx context.Context, query string) (Match, bool) {
	padded := " " + italian.NormalizePhrase(query) + " "
	if strings.TrimSpace(padded) == "" || len(ix.entries) == 0 {
		return Match{}, false
	}

	if m, ok := ix.findPrice(padded); ok {
		return m, true
	}

	best, bestScore := -1, 0
	for i := range ix.entries {
		if s := ix.keywordScore(i, padded); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best >= 0 {
		return Match{Entry: ix.entries[best], Source: SourceKeyword, Confidence: keywordConfidence(bestScore)}, true
	}

	if ix.embedder != nil {
		return ix.findSemantic(ctx, query)
	}
	return Match{}, false
}

func (ix *Index) keywordScore(i int, padded string) int {
	n := 0
	for _, kw := range ix.keywords[i] {
		if strings.Contains(padded, " "+kw+" ") {
			n++
		}
	}
	return n
}

var priceWords = []string{" quanto costa ", " quanto costano ", " prezzo ", " prezzi ", " costo ", " costi "}

// findPrice prefers an entry quoting a price in euro when the query asks the
// price of a known service.
func (ix *Index) findPrice(padded string) (Match, bool) {
	asksPrice := false
	for _, w := range priceWords {
		if strings.Contains(padded, w) {
			asksPrice = true
			break
		}
	}
	if !asksPrice {
		return Match{}, false
	}
	service := ""
	for _, s := range ix.services {
		if strings.Contains(padded, " "+s+" ") {
			service = s
			break
		}
	}
	if service == "" {
		return Match{}, false
	}

	best, bestScore := -1, 0
	for i, e := range ix.entries {
		if !strings.Contains(e.Answer, "€") {
			continue
		}
		score := ix.keywordScore(i, padded)
		text := " " + italian.NormalizePhrase(e.Question+" "+e.Answer+" "+strings.Join(e.Keywords, " ")) + " "
		if strings.Contains(text, " "+service+" ") {
			score += 2
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Match{}, false
	}
	return Match{Entry: ix.entries[best], Source: SourceKeyword, Confidence: keywordConfidence(bestScore)}, true
}

func (ix *Index) findSemantic(ctx context.Context, query string) (Match, bool) {
	if err := ix.buildVectors(ctx); err != nil {
		ix.logger.Warn("faq semantic index unavailable", "error", err)
		return Match{}, false
	}
	vecs, err := ix.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		ix.logger.Warn("faq query embedding failed", "error", err)
		return Match{}, false
	}

	best, bestScore := -1, 0.0
	for i, v := range ix.vectors {
		if s := cosineSimilarity(vecs[0], v); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 || bestScore < MinSemanticScore {
		return Match{}, false
	}
	return Match{Entry: ix.entries[best], Source: SourceSemantic, Confidence: math.Min(1, bestScore)}, true
}

func (ix *Index) buildVectors(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.built {
		return nil
	}
	texts := make([]string, len(ix.entries))
	for i, e := range ix.entries {
		texts[i] = e.Question
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vecs) != len(texts) {
		return errEmbeddingMismatch
	}
	ix.vectors = vecs
	ix.built = true
	return nil
}

func keywordConfidence(matches int) float64 {
	return math.Min(1, float64(matches)*0.3+0.4)
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i] * b[i])
		normA += float64(a[i] * a[i])
		normB += float64(b[i] * b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
