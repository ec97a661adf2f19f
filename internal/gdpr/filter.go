package gdpr

import (
	"context"
	"strings"

	"github.com/vyrodovalexey/avauth/internal/audit"
	"github.com/vyrodovalexey/avauth/internal/auth"
	"github.com/vyrodovalexey/avauth/internal/config"
	"github.com/vyrodovalexey/avauth/internal/observability"
)

// redactionToken replaces values with no field-specific mask shape.
const redactionToken = "[REDACTED]"

// Filter applies the sensitivity classification to outbound field
// values.
type Filter struct {
	classification Classification
	adminRoles     []string
	consent        ConsentStore
	emitter        audit.Emitter
	logger         observability.Logger
	metrics        *Metrics
}

// FilterOption is a functional option for the filter.
type FilterOption func(*Filter)

// WithFilterLogger sets the logger.
func WithFilterLogger(logger observability.Logger) FilterOption {
	return func(f *Filter) {
		f.logger = logger
	}
}

// WithFilterMetrics sets the metrics.
func WithFilterMetrics(metrics *Metrics) FilterOption {
	return func(f *Filter) {
		f.metrics = metrics
	}
}

// WithFilterEmitter sets the audit emitter.
func WithFilterEmitter(emitter audit.Emitter) FilterOption {
	return func(f *Filter) {
		f.emitter = emitter
	}
}

// NewFilter creates a data filter over a consent store.
func NewFilter(cfg *config.GDPRConfig, consent ConsentStore, opts ...FilterOption) *Filter {
	if cfg == nil {
		defaults := config.DefaultConfig().GDPR
		cfg = &defaults
	}
	if consent == nil {
		consent = NewMemoryConsentStore()
	}

	f := &Filter{
		classification: NewClassification(cfg.Fields),
		adminRoles:     cfg.AdminRoles,
		consent:        consent,
		emitter:        audit.NewNoopEmitter(),
		logger:         observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(f)
	}

	if f.metrics == nil {
		f.metrics = NewMetrics("avauth")
	}

	return f
}

// Field filters one outbound field value for the given caller.
// Unclassified and public fields pass through untouched. For
// classified fields the owner sees the value, admin roles see it with
// an unconditional audit trail, and other callers need a consent grant
// from the owner. Everyone else gets a masked representation. A
// consent store failure masks.
func (f *Filter) Field(ctx context.Context, identity *auth.Identity, field, value, ownerID string) string {
	class, ok := f.classification.Lookup(field)
	if !ok || class == ClassPublic {
		return value
	}

	if !identity.IsAnonymous() && ownerID != "" && identity.Subject == ownerID {
		f.audit(ctx, identity, field, ownerID, class, false)
		return value
	}

	if identity != nil && identity.HasAnyRole(f.adminRoles...) {
		f.audit(ctx, identity, field, ownerID, class, false)
		return value
	}

	if class == ClassSensitive && !identity.IsAnonymous() && ownerID != "" {
		granted, err := f.consent.Has(ctx, ownerID, identity.Subject, ScopeForField(field))
		if err != nil {
			f.logger.Warn("consent lookup failed, masking field",
				observability.String("field", field),
				observability.Error(err),
			)
		} else if granted {
			f.audit(ctx, identity, field, ownerID, class, false)
			return value
		}
	}

	f.audit(ctx, identity, field, ownerID, class, true)
	return maskValue(field, value)
}

// GrantConsent records the owner's consent for a subject to read a
// field and audits the grant.
func (f *Filter) GrantConsent(ctx context.Context, ownerID, subjectID, field string) error {
	scope := ScopeForField(field)
	if err := f.consent.Grant(ctx, ownerID, subjectID, scope); err != nil {
		return err
	}

	f.metrics.RecordConsent("grant")
	f.emitter.Emit(ctx, audit.SecurityEvent(
		audit.ActionConsentGrant,
		audit.OutcomeSuccess,
		&audit.Subject{ID: ownerID},
		map[string]interface{}{
			"grantee": subjectID,
			"scope":   scope,
		},
	))
	return nil
}

// RevokeConsent withdraws a consent grant and audits the revocation.
func (f *Filter) RevokeConsent(ctx context.Context, ownerID, subjectID, field string) error {
	scope := ScopeForField(field)
	if err := f.consent.Revoke(ctx, ownerID, subjectID, scope); err != nil {
		return err
	}

	f.metrics.RecordConsent("revoke")
	f.emitter.Emit(ctx, audit.SecurityEvent(
		audit.ActionConsentRevoke,
		audit.OutcomeSuccess,
		&audit.Subject{ID: ownerID},
		map[string]interface{}{
			"grantee": subjectID,
			"scope":   scope,
		},
	))
	return nil
}

// Close releases the consent store.
func (f *Filter) Close() error {
	return f.consent.Close()
}

func (f *Filter) audit(ctx context.Context, identity *auth.Identity, field, ownerID string, class Class, masked bool) {
	result := "unmasked"
	if masked {
		result = "masked"
	}
	f.metrics.RecordFieldAccess(string(class), result)

	subject := &audit.Subject{ID: auth.AnonymousSubject}
	if identity != nil {
		subject = &audit.Subject{
			ID:         identity.Subject,
			SessionID:  identity.SessionID,
			Roles:      identity.Roles,
			IPAddress:  identity.IPAddress,
			AuthMethod: identity.AuthMethod,
		}
	}

	f.emitter.EmitDataAccess(ctx, subject, &audit.Resource{
		Type:  "field",
		ID:    ownerID,
		Field: field,
	}, masked)
}

// maskValue builds a type-appropriate masked representation, picked by
// the field name.
func maskValue(field, value string) string {
	switch {
	case strings.Contains(field, "email"):
		return maskEmail(value)
	case strings.Contains(field, "phone"):
		return maskPhone(value)
	case strings.Contains(field, "name"):
		return maskName(value)
	default:
		return redactionToken
	}
}

// maskEmail keeps at most one character of the local part and the full
// domain.
func maskEmail(value string) string {
	at := strings.LastIndex(value, "@")
	if at < 0 {
		return redactionToken
	}

	local := ""
	for _, r := range value[:at] {
		local = string(r)
		break
	}
	return local + "***@" + value[at+1:]
}

// maskPhone keeps the last two digits.
func maskPhone(value string) string {
	runes := []rune(value)
	if len(runes) < 2 {
		return "***"
	}
	return "***" + string(runes[len(runes)-2:])
}

// maskName keeps the first character.
func maskName(value string) string {
	for _, r := range value {
		return string(r) + "."
	}
	return redactionToken
}
