package authz

import (
	"net/http"

	"github.com/vyrodovalexey/avauth/internal/auth"
)

// Require wraps a handler with an authorization gate. The identity must
// already be attached by the assembler middleware; the requirement and
// resource reference are fixed per route.
func Require(authorizer Authorizer, requirement Requirement, resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				auth.WriteFailure(w, auth.NewFailure(auth.FailureUnauthenticated, "identity_missing"))
				return
			}

			decision, err := authorizer.Authorize(r.Context(), &Request{
				Identity:    identity,
				Requirement: requirement,
				Resource:    resource,
				Action:      action,
			})
			if err != nil {
				auth.WriteFailure(w, auth.NewFailure(auth.FailureUnavailable, "authorizer_unavailable"))
				return
			}
			if !decision.Allowed {
				auth.WriteFailure(w, auth.NewFailure(auth.FailureForbidden, decision.Reason))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
