package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/expertloop/expertloop/internal/domain/expert"
)

const headerAPIKey = "X-API-Key"

// KeyVerifier resolves an API key to an expert account.
type KeyVerifier interface {
	VerifyAPIKey(ctx context.Context, key string) (*expert.Expert, error)
}

type expertKey struct{}

// ExpertFromContext returns the authenticated expert, or nil outside an
// authenticated request.
func ExpertFromContext(ctx context.Context) *expert.Expert {
	e, _ := ctx.Value(expertKey{}).(*expert.Expert)
	return e
}

// ExpertAuth requires a valid expert API key on every request it wraps.
// The resolved expert is stored in the request context.
func ExpertAuth(verifier KeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(headerAPIKey)
			if key == "" {
				unauthorized(w, "missing API key")
				return
			}

			exp, err := verifier.VerifyAPIKey(r.Context(), key)
			if err != nil {
				unauthorized(w, "invalid API key")
				return
			}

			ctx := context.WithValue(r.Context(), expertKey{}, exp)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
