// Package vectorsearch implements the retriever port against HTTP
// vector search endpoints, fanning each query out over every configured
// source and merging the ranked results.
package vectorsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/expertloop/expertloop/internal/domain"
	"github.com/expertloop/expertloop/internal/domain/query"
	"github.com/expertloop/expertloop/internal/port/retriever"
	"github.com/expertloop/expertloop/internal/resilience"
)

// Retriever queries every source in parallel. A source behind an open
// circuit is skipped for the cooldown period; the search fails only
// when no source returns anything.
type Retriever struct {
	sources []source
	topKMax int
	log     *slog.Logger
	client  *http.Client
}

type source struct {
	url     string
	breaker *resilience.Breaker
}

// New creates a retriever over the given search endpoint URLs. Each
// source gets its own circuit breaker so one flapping endpoint cannot
// trip the others.
func New(urls []string, timeout time.Duration, maxFailures int, cooldown time.Duration, log *slog.Logger) *Retriever {
	sources := make([]source, len(urls))
	for i, u := range urls {
		sources[i] = source{
			url:     u,
			breaker: resilience.NewBreaker(maxFailures, cooldown),
		}
	}
	return &Retriever{
		sources: sources,
		topKMax: 20,
		log:     log,
		client:  &http.Client{Timeout: timeout},
	}
}

type searchRequest struct {
	Query    string `json:"query"`
	TopK     int    `json:"top_k"`
	Language string `json:"language,omitempty"`
}

type searchResponse struct {
	Results []struct {
		Content  string  `json:"content"`
		SourceID string  `json:"source_id"`
		Score    float64 `json:"score"`
	} `json:"results"`
}

// Search fans the query out over all sources and merges candidates by
// descending score. Partial failures degrade; total failure returns
// domain.ErrRetrievalUnavailable.
func (r *Retriever) Search(ctx context.Context, text string, opts retriever.Options) ([]query.Candidate, error) {
	if len(r.sources) == 0 {
		return nil, fmt.Errorf("no sources configured: %w", domain.ErrRetrievalUnavailable)
	}

	topK := opts.TopK
	if topK <= 0 || topK > r.topKMax {
		topK = r.topKMax
	}

	var (
		mu     sync.Mutex
		merged []query.Candidate
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range r.sources {
		g.Go(func() error {
			var cands []query.Candidate
			err := src.breaker.Execute(func() error {
				var qerr error
				cands, qerr = r.querySource(gctx, src.url, text, topK, opts.Language)
				return qerr
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				r.log.Warn("search source failed", "source", src.url, "error", err)
				return nil // partial failure is not fatal
			}
			merged = append(merged, cands...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if failed == len(r.sources) {
		return nil, fmt.Errorf("all %d sources failed: %w", failed, domain.ErrRetrievalUnavailable)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

func (r *Retriever) querySource(ctx context.Context, url, text string, topK int, language string) ([]query.Candidate, error) {
	body, err := json.Marshal(searchRequest{Query: text, TopK: topK, Language: language})
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search %s: status %d: %s", url, resp.StatusCode, string(respBody))
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	cands := make([]query.Candidate, 0, len(parsed.Results))
	for _, res := range parsed.Results {
		cands = append(cands, query.Candidate{
			Content:  res.Content,
			SourceID: res.SourceID,
			Score:    res.Score,
		})
	}
	return cands, nil
}
