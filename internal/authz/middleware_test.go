package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauth/internal/audit"
	"github.com/vyrodovalexey/avauth/internal/auth"
)

func serveWithIdentity(t *testing.T, handler http.Handler, identity *auth.Identity) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/reviews/42", nil)
	if identity != nil {
		req = req.WithContext(auth.ContextWithIdentity(req.Context(), identity))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireAllowsMatchingRole(t *testing.T) {
	t.Parallel()

	authorizer, _ := newTestAuthorizer(t, nil)
	handler := Require(authorizer, Requirement{Roles: []string{"moderator"}}, "reviews/42", "read")(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := serveWithIdentity(t, handler, &auth.Identity{
		Subject: "user-1",
		Roles:   []string{"moderator"},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireDeniesMissingRole(t *testing.T) {
	t.Parallel()

	authorizer, emitter := newTestAuthorizer(t, nil)
	handler := Require(authorizer, Requirement{Roles: []string{"moderator"}}, "reviews/42", "read")(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))

	rec := serveWithIdentity(t, handler, &auth.Identity{
		Subject: "user-1",
		Roles:   []string{"user"},
	})

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"access denied"}`, rec.Body.String())

	event := emitter.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.OutcomeDenied, event.Outcome)
	assert.Equal(t, []interface{}{"moderator"}, toSlice(event.Metadata["required_roles"]))
}

func TestRequireRejectsMissingIdentity(t *testing.T) {
	t.Parallel()

	authorizer, _ := newTestAuthorizer(t, nil)
	handler := Require(authorizer, Requirement{Roles: []string{"moderator"}}, "reviews/42", "read")(
		http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("handler must not run")
		}))

	rec := serveWithIdentity(t, handler, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func toSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case []string:
		out := make([]interface{}, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	default:
		return nil
	}
}
