package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of audit event.
type EventType string

// Event types.
const (
	EventTypeAuthentication EventType = "authentication"
	EventTypeAuthorization  EventType = "authorization"
	EventTypeSession        EventType = "session"
	EventTypeRateLimit      EventType = "rate_limit"
	EventTypeDataAccess     EventType = "data_access"
	EventTypeSecurity       EventType = "security"
)

// Action represents the action being audited.
type Action string

// Common actions.
const (
	// Authentication actions
	ActionTokenValidate Action = "token_validate"
	ActionLogin         Action = "login"
	ActionLogout        Action = "logout"

	// Session actions
	ActionSessionCreate Action = "session_create"
	ActionSessionRevoke Action = "session_revoke"
	ActionSessionTouch  Action = "session_touch"

	// Authorization actions
	ActionAccess Action = "access"
	ActionDeny   Action = "deny"

	// Permission administration
	ActionConsentGrant  Action = "consent_grant"
	ActionConsentRevoke Action = "consent_revoke"

	// Data access actions
	ActionFieldRead Action = "field_read"
	ActionFieldMask Action = "field_mask"

	// Security actions
	ActionRateLimitExceeded  Action = "rate_limit_exceeded"
	ActionSuspiciousActivity Action = "suspicious_activity"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeError   Outcome = "error"
	OutcomeDenied  Outcome = "denied"
)

// Severity classifies how alarming an event is.
type Severity string

// Severities.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Event represents an audit event.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the type of event.
	Type EventType `json:"type"`

	// Action is the action being audited.
	Action Action `json:"action"`

	// Outcome is the outcome of the action.
	Outcome Outcome `json:"outcome"`

	// Severity is the alarm level of the event.
	Severity Severity `json:"severity"`

	// Subject is the entity performing the action.
	Subject *Subject `json:"subject,omitempty"`

	// Resource is the resource being accessed.
	Resource *Resource `json:"resource,omitempty"`

	// Error contains error details if the action failed.
	Error *ErrorDetails `json:"error,omitempty"`

	// Metadata contains additional metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// TraceID is the trace ID for distributed tracing.
	TraceID string `json:"trace_id,omitempty"`

	// SpanID is the span ID for distributed tracing.
	SpanID string `json:"span_id,omitempty"`

	// Duration is how long the action took.
	Duration time.Duration `json:"duration,omitempty"`
}

// Subject represents the entity performing an action.
type Subject struct {
	// ID is the subject identifier.
	ID string `json:"id"`

	// Type is the type of subject (user, service, anonymous).
	Type string `json:"type,omitempty"`

	// SessionID ties the event to a session.
	SessionID string `json:"session_id,omitempty"`

	// Roles are the subject's roles.
	Roles []string `json:"roles,omitempty"`

	// IPAddress is the client IP address.
	IPAddress string `json:"ip_address,omitempty"`

	// AuthMethod is the authentication method used.
	AuthMethod string `json:"auth_method,omitempty"`
}

// Resource represents the resource being accessed.
type Resource struct {
	// Type is the type of resource.
	Type string `json:"type,omitempty"`

	// ID is the resource identifier.
	ID string `json:"id,omitempty"`

	// Field is the data field name for data-access events.
	Field string `json:"field,omitempty"`

	// Path is the request path.
	Path string `json:"path,omitempty"`
}

// ErrorDetails contains details about an error. The message here is the
// precise internal reason; outward-facing responses stay generic.
type ErrorDetails struct {
	// Code is the error code.
	Code string `json:"code,omitempty"`

	// Message is the error message.
	Message string `json:"message,omitempty"`
}

// NewEvent creates a new audit event with default values.
func NewEvent(eventType EventType, action Action, outcome Outcome) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Action:    action,
		Outcome:   outcome,
		Severity:  SeverityLow,
		Metadata:  make(map[string]interface{}),
	}
}

// WithSubject sets the subject.
func (e *Event) WithSubject(subject *Subject) *Event {
	e.Subject = subject
	return e
}

// WithResource sets the resource.
func (e *Event) WithResource(resource *Resource) *Event {
	e.Resource = resource
	return e
}

// WithError sets the error details.
func (e *Event) WithError(err *ErrorDetails) *Event {
	e.Error = err
	return e
}

// WithMetadata adds metadata to the event.
func (e *Event) WithMetadata(key string, value interface{}) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// WithSeverity sets the severity.
func (e *Event) WithSeverity(severity Severity) *Event {
	e.Severity = severity
	return e
}

// WithDuration sets the duration.
func (e *Event) WithDuration(duration time.Duration) *Event {
	e.Duration = duration
	return e
}

// AuthenticationEvent creates an authentication audit event.
func AuthenticationEvent(action Action, outcome Outcome, subject *Subject) *Event {
	event := NewEvent(EventTypeAuthentication, action, outcome).
		WithSubject(subject)
	if outcome != OutcomeSuccess {
		event.Severity = SeverityMedium
	}
	return event
}

// AuthorizationEvent creates an authorization audit event.
func AuthorizationEvent(outcome Outcome, subject *Subject, resource *Resource) *Event {
	action := ActionAccess
	severity := SeverityLow
	if outcome == OutcomeDenied {
		action = ActionDeny
		severity = SeverityMedium
	}
	return NewEvent(EventTypeAuthorization, action, outcome).
		WithSubject(subject).
		WithResource(resource).
		WithSeverity(severity)
}

// RateLimitEvent creates a rate-limit rejection audit event.
func RateLimitEvent(subject *Subject, severity Severity, details map[string]interface{}) *Event {
	event := NewEvent(EventTypeRateLimit, ActionRateLimitExceeded, OutcomeDenied).
		WithSubject(subject).
		WithSeverity(severity)
	for k, v := range details {
		event.WithMetadata(k, v)
	}
	return event
}

// DataAccessEvent creates a sensitive-field access audit event. masked
// records whether the value was returned masked.
func DataAccessEvent(subject *Subject, resource *Resource, masked bool) *Event {
	action := ActionFieldRead
	if masked {
		action = ActionFieldMask
	}
	return NewEvent(EventTypeDataAccess, action, OutcomeSuccess).
		WithSubject(subject).
		WithResource(resource).
		WithMetadata("masked", masked)
}

// SecurityEvent creates a security audit event.
func SecurityEvent(action Action, outcome Outcome, subject *Subject, details map[string]interface{}) *Event {
	event := NewEvent(EventTypeSecurity, action, outcome).
		WithSubject(subject).
		WithSeverity(SeverityMedium)
	for k, v := range details {
		event.WithMetadata(k, v)
	}
	return event
}
