// Package retriever defines the knowledge retrieval port (interface).
package retriever

import (
	"context"

	"github.com/expertloop/expertloop/internal/domain/query"
)

// Options tunes one retrieval call.
type Options struct {
	TopK     int    `json:"top_k"`
	Language string `json:"language,omitempty"`
}

// Retriever is the port interface for knowledge-base search. An
// implementation may fan out across any number of sources internally;
// the core always sees a single ranked candidate list.
type Retriever interface {
	// Search returns ranked candidates for the query text, best first.
	// Fails with domain.ErrRetrievalUnavailable when no source can answer.
	Search(ctx context.Context, text string, opts Options) ([]query.Candidate, error)
}
