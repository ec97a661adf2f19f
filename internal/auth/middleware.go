package auth

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
)

// Middleware wraps a handler with request context assembly. public
// marks endpoints that accept anonymous callers.
func (a *Assembler) Middleware(public bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.Assemble(r.Context(), &Request{
				Credential: ExtractCredential(r, a.cookieName),
				IP:         ClientIP(r),
				Public:     public,
			})
			if err != nil {
				WriteFailure(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithIdentity(r.Context(), identity)))
		})
	}
}

// WriteFailure renders a failure as an HTTP response with the generic
// message. Unknown errors render as unavailable.
func WriteFailure(w http.ResponseWriter, err error) {
	var failure *Failure
	if !errors.As(err, &failure) {
		failure = &Failure{Kind: FailureUnavailable}
	}

	if failure.Kind == FailureRateLimited && failure.RetryAfter > 0 {
		seconds := int(math.Ceil(failure.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(failure.StatusCode())
	_ = json.NewEncoder(w).Encode(map[string]string{"error": failure.Message()})
}
