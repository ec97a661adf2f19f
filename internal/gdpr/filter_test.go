package gdpr

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avauth/internal/audit"
	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/config"
)

// captureEmitter records data access audit events.
type captureEmitter struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (c *captureEmitter) Emit(_ context.Context, event *audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureEmitter) EmitAuthentication(ctx context.Context, action audit.Action, outcome audit.Outcome, subject *audit.Subject) {
	c.Emit(ctx, audit.AuthenticationEvent(action, outcome, subject))
}

func (c *captureEmitter) EmitAuthorization(ctx context.Context, outcome audit.Outcome, subject *audit.Subject, resource *audit.Resource) {
	c.Emit(ctx, audit.AuthorizationEvent(outcome, subject, resource))
}

func (c *captureEmitter) EmitRateLimit(ctx context.Context, subject *audit.Subject, severity audit.Severity, details map[string]interface{}) {
	c.Emit(ctx, audit.RateLimitEvent(subject, severity, details))
}

func (c *captureEmitter) EmitDataAccess(ctx context.Context, subject *audit.Subject, resource *audit.Resource, masked bool) {
	c.Emit(ctx, audit.DataAccessEvent(subject, resource, masked))
}

func (c *captureEmitter) Close() error { return nil }

func (c *captureEmitter) last() *audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func (c *captureEmitter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

var _ audit.Emitter = (*captureEmitter)(nil)

func testFilterConfig() *config.GDPRConfig {
	return &config.GDPRConfig{
		AdminRoles: []string{"admin"},
		Fields: map[string]string{
			"display_color": "public",
			"email":         "sensitive",
			"phone":         "sensitive",
			"full_name":     "sensitive",
			"passport":      "restricted",
		},
	}
}

func newTestFilter(t *testing.T, consent ConsentStore) (*Filter, *captureEmitter) {
	t.Helper()

	emitter := &captureEmitter{}
	f := NewFilter(testFilterConfig(), consent,
		WithFilterEmitter(emitter),
		WithFilterMetrics(NewMetricsWithRegisterer("avauth", prometheus.NewRegistry())),
	)
	t.Cleanup(func() { _ = f.Close() })
	return f, emitter
}

func identityFor(subject string, roles ...string) *auth.Identity {
	return &auth.Identity{Subject: subject, Roles: roles, AuthMethod: "jwt"}
}

func TestFilterUnclassifiedFieldUnchanged(t *testing.T) {
	t.Parallel()

	f, emitter := newTestFilter(t, nil)

	got := f.Field(context.Background(), identityFor("user-1"), "nickname", "zed", "owner-1")
	assert.Equal(t, "zed", got)
	assert.Zero(t, emitter.count())
}

func TestFilterPublicFieldUnchanged(t *testing.T) {
	t.Parallel()

	f, emitter := newTestFilter(t, nil)

	got := f.Field(context.Background(), identityFor("user-1"), "display_color", "teal", "owner-1")
	assert.Equal(t, "teal", got)
	assert.Zero(t, emitter.count())
}

func TestFilterOwnerSeesOwnValue(t *testing.T) {
	t.Parallel()

	f, emitter := newTestFilter(t, nil)

	got := f.Field(context.Background(), identityFor("owner-1"), "email", "alice@example.com", "owner-1")
	assert.Equal(t, "alice@example.com", got)

	event := emitter.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.ActionFieldRead, event.Action)
	assert.Equal(t, false, event.Metadata["masked"])
	assert.Equal(t, "email", event.Resource.Field)
}

func TestFilterAdminSeesValueWithAudit(t *testing.T) {
	t.Parallel()

	f, emitter := newTestFilter(t, nil)

	got := f.Field(context.Background(), identityFor("user-2", "admin"), "passport", "X1234567", "owner-1")
	assert.Equal(t, "X1234567", got)

	event := emitter.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.ActionFieldRead, event.Action)
	assert.Equal(t, "user-2", event.Subject.ID)
	assert.Equal(t, "owner-1", event.Resource.ID)
}

func TestFilterNonOwnerWithoutConsentGetsMaskedEmail(t *testing.T) {
	t.Parallel()

	f, emitter := newTestFilter(t, nil)

	got := f.Field(context.Background(), identityFor("user-2"), "email", "alice@example.com", "owner-1")
	assert.Equal(t, "a***@example.com", got)

	event := emitter.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.ActionFieldMask, event.Action)
	assert.Equal(t, true, event.Metadata["masked"])
}

func TestFilterConsentGrantsAccess(t *testing.T) {
	t.Parallel()

	f, emitter := newTestFilter(t, nil)
	ctx := context.Background()

	require.NoError(t, f.GrantConsent(ctx, "owner-1", "user-2", "email"))
	grantEvent := emitter.last()
	require.NotNil(t, grantEvent)
	assert.Equal(t, audit.ActionConsentGrant, grantEvent.Action)
	assert.Equal(t, "user-2", grantEvent.Metadata["grantee"])
	assert.Equal(t, "access:email", grantEvent.Metadata["scope"])

	got := f.Field(ctx, identityFor("user-2"), "email", "alice@example.com", "owner-1")
	assert.Equal(t, "alice@example.com", got)
	assert.Equal(t, audit.ActionFieldRead, emitter.last().Action)

	require.NoError(t, f.RevokeConsent(ctx, "owner-1", "user-2", "email"))
	assert.Equal(t, audit.ActionConsentRevoke, emitter.last().Action)

	got = f.Field(ctx, identityFor("user-2"), "email", "alice@example.com", "owner-1")
	assert.Equal(t, "a***@example.com", got)
}

func TestFilterConsentDoesNotUnlockRestrictedFields(t *testing.T) {
	t.Parallel()

	f, _ := newTestFilter(t, nil)
	ctx := context.Background()

	require.NoError(t, f.GrantConsent(ctx, "owner-1", "user-2", "passport"))

	got := f.Field(ctx, identityFor("user-2"), "passport", "X1234567", "owner-1")
	assert.Equal(t, redactionToken, got)
}

func TestFilterConsentScopedToOwner(t *testing.T) {
	t.Parallel()

	f, _ := newTestFilter(t, nil)
	ctx := context.Background()

	require.NoError(t, f.GrantConsent(ctx, "owner-1", "user-2", "email"))

	// A grant from owner-1 says nothing about owner-3's data.
	got := f.Field(ctx, identityFor("user-2"), "email", "carol@example.com", "owner-3")
	assert.Equal(t, "c***@example.com", got)
}

func TestFilterAnonymousCallerIsMasked(t *testing.T) {
	t.Parallel()

	f, emitter := newTestFilter(t, nil)

	got := f.Field(context.Background(), auth.Anonymous("10.0.0.9"), "email", "alice@example.com", "owner-1")
	assert.Equal(t, "a***@example.com", got)

	event := emitter.last()
	require.NotNil(t, event)
	assert.Equal(t, auth.AnonymousSubject, event.Subject.ID)
}

func TestFilterNilIdentityIsMasked(t *testing.T) {
	t.Parallel()

	f, _ := newTestFilter(t, nil)

	got := f.Field(context.Background(), nil, "email", "alice@example.com", "owner-1")
	assert.Equal(t, "a***@example.com", got)
}

func TestFilterConsentStoreFailureMasks(t *testing.T) {
	t.Parallel()

	f, emitter := newTestFilter(t, failingConsentStore{})

	got := f.Field(context.Background(), identityFor("user-2"), "email", "alice@example.com", "owner-1")
	assert.Equal(t, "a***@example.com", got)
	assert.Equal(t, audit.ActionFieldMask, emitter.last().Action)
}

func TestMaskValueShapes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		field string
		value string
		want  string
	}{
		{name: "email", field: "email", value: "alice@example.com", want: "a***@example.com"},
		{name: "email one char local", field: "email", value: "a@example.com", want: "a***@example.com"},
		{name: "email without at sign", field: "email", value: "not-an-email", want: redactionToken},
		{name: "phone", field: "phone", value: "+15550001234", want: "***34"},
		{name: "phone too short", field: "phone", value: "7", want: "***"},
		{name: "name", field: "full_name", value: "Alice Smith", want: "A."},
		{name: "document", field: "passport", value: "X1234567", want: redactionToken},
		{name: "address", field: "home_address", value: "1 Main St", want: redactionToken},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, maskValue(tt.field, tt.value))
		})
	}
}

type failingConsentStore struct{}

func (failingConsentStore) Grant(context.Context, string, string, string) error {
	return ErrConsentStoreUnavailable
}

func (failingConsentStore) Revoke(context.Context, string, string, string) error {
	return ErrConsentStoreUnavailable
}

func (failingConsentStore) Has(context.Context, string, string, string) (bool, error) {
	return false, ErrConsentStoreUnavailable
}

func (failingConsentStore) Close() error { return nil }

func TestFilterGrantConsentPropagatesStoreError(t *testing.T) {
	t.Parallel()

	f, emitter := newTestFilter(t, failingConsentStore{})

	err := f.GrantConsent(context.Background(), "owner-1", "user-2", "email")
	assert.True(t, errors.Is(err, ErrConsentStoreUnavailable))
	assert.Zero(t, emitter.count())
}
