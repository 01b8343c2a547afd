// Package kb implements the knowledge-base pipeline: splitting documents
// into overlapping chunks, embedding and indexing them, and retrieving the
// most relevant chunks for a live utterance.
package kb

import "fmt"

// Default chunking parameters. 384 characters keeps chunks inside typical
// embedding model context windows while the 50-character overlap preserves
// sentence fragments across boundaries.
const (
	DefaultChunkSize    = 384
	DefaultChunkOverlap = 50
)

// ChunkText splits text into chunks of at most size characters, each
// overlapping the previous by overlap characters. size must be greater than
// overlap. Empty input yields no chunks.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
	}

	var chunks []string
	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end >= len(text) {
			chunks = append(chunks, text[start:])
			break
		}
		chunks = append(chunks, text[start:end])
	}
	return chunks
}

// ChunkID returns the index id for the i-th chunk of a document.
func ChunkID(docID string, i int) string {
	return fmt.Sprintf("%s_%d", docID, i)
}
