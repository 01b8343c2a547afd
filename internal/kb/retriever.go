package kb

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/voxrelay/voxrelay/internal/store"
	"github.com/voxrelay/voxrelay/pkg/provider/embeddings"
)

// Default retrieval parameters. MaxDistance is a cosine-distance cutoff in
// [0, 2]; chunks farther than this from the query are discarded even when
// fewer than TopK remain.
const (
	DefaultTopK        = 3
	DefaultMaxDistance = 1.3
)

// VectorIndex is the slice of [store.Store] the knowledge base needs.
type VectorIndex interface {
	IndexChunks(ctx context.Context, chunks []store.Chunk) error
	SearchChunks(ctx context.Context, collection string, embedding []float32, limit int) ([]store.ChunkResult, error)
	CollectionSize(ctx context.Context, collection string) (int, error)
}

// Retriever embeds queries and document text and answers "what do we know
// about this?" against the chunk index. Safe for concurrent use.
type Retriever struct {
	embedder    embeddings.Provider
	index       VectorIndex
	chunkSize   int
	overlap     int
	topK        int
	maxDistance float64
}

// Option configures a [Retriever].
type Option func(*Retriever)

// WithChunking overrides the document chunking parameters.
func WithChunking(size, overlap int) Option {
	return func(r *Retriever) {
		r.chunkSize = size
		r.overlap = overlap
	}
}

// WithTopK overrides how many chunks a retrieval returns.
func WithTopK(k int) Option {
	return func(r *Retriever) {
		if k > 0 {
			r.topK = k
		}
	}
}

// WithMaxDistance overrides the cosine-distance relevance cutoff.
func WithMaxDistance(d float64) Option {
	return func(r *Retriever) {
		if d > 0 {
			r.maxDistance = d
		}
	}
}

// NewRetriever creates a Retriever over the given embedder and chunk index.
func NewRetriever(embedder embeddings.Provider, index VectorIndex, opts ...Option) *Retriever {
	r := &Retriever{
		embedder:    embedder,
		index:       index,
		chunkSize:   DefaultChunkSize,
		overlap:     DefaultChunkOverlap,
		topK:        DefaultTopK,
		maxDistance: DefaultMaxDistance,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ingest chunks, embeds, and indexes one document into the given collection.
// Returns the number of chunks created.
func (r *Retriever) Ingest(ctx context.Context, collection, docID, content string) (int, error) {
	texts := ChunkText(content, r.chunkSize, r.overlap)
	if len(texts) == 0 {
		return 0, nil
	}

	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("kb: ingest %q: embed: %w", docID, err)
	}
	if len(vecs) != len(texts) {
		return 0, fmt.Errorf("kb: ingest %q: embedder returned %d vectors for %d chunks", docID, len(vecs), len(texts))
	}

	chunks := make([]store.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = store.Chunk{
			ID:         ChunkID(docID, i),
			Collection: collection,
			DocumentID: docID,
			Content:    text,
			Embedding:  Normalize(vecs[i]),
		}
	}

	if err := r.index.IndexChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("kb: ingest %q: %w", docID, err)
	}
	return len(chunks), nil
}

// Retrieve returns the concatenated text of the chunks most relevant to
// query, one chunk per line. The agent's own collection is searched when it
// has uploads; otherwise the shared [store.DefaultCollection] is used. An
// empty string means nothing relevant was found.
//
// The index is over-queried at twice the configured top-K so that the
// distance cutoff can discard weak matches without starving the result.
func (r *Retriever) Retrieve(ctx context.Context, agentID, query string) (string, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("kb: retrieve: embed query: %w", err)
	}
	vec = Normalize(vec)

	collection := store.DefaultCollection
	if agentID != "" {
		agentColl := store.AgentCollection(agentID)
		n, err := r.index.CollectionSize(ctx, agentColl)
		if err != nil {
			return "", fmt.Errorf("kb: retrieve: %w", err)
		}
		if n > 0 {
			collection = agentColl
		}
	}

	results, err := r.index.SearchChunks(ctx, collection, vec, r.topK*2)
	if err != nil {
		return "", fmt.Errorf("kb: retrieve: %w", err)
	}

	var relevant []string
	for _, res := range results {
		if res.Distance <= r.maxDistance {
			relevant = append(relevant, res.Chunk.Content)
		}
	}
	if len(relevant) > r.topK {
		relevant = relevant[:r.topK]
	}
	return strings.Join(relevant, "\n"), nil
}

// Normalize returns the L2-normalized copy of v. Zero vectors are returned
// unchanged. With unit vectors on both sides, pgvector's cosine distance
// ranks identically to inner-product distance.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
