package token

import (
	"encoding/json"
	"time"
)

// ClaimSet carries the verified claims of a token. Instances are
// produced by the validator (or decoded from the validation cache) and
// treated as read-only afterwards.
type ClaimSet struct {
	// Standard claims
	Issuer    string   `json:"iss,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  Audience `json:"aud,omitempty"`
	ExpiresAt *Time    `json:"exp,omitempty"`
	NotBefore *Time    `json:"nbf,omitempty"`
	IssuedAt  *Time    `json:"iat,omitempty"`
	TokenID   string   `json:"jti,omitempty"`

	// Identity claims
	SessionID   string   `json:"sid,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	Device      string   `json:"device,omitempty"`
	IPAddress   string   `json:"ip,omitempty"`
	AuthMethod  string   `json:"amr,omitempty"`
	MFAVerified bool     `json:"mfa,omitempty"`
	RiskScore   float64  `json:"risk_score,omitempty"`

	// Extra holds non-standard claims.
	Extra map[string]interface{} `json:"-"`
}

// Time is a wrapper around time.Time marshaled as a Unix timestamp.
type Time struct {
	time.Time
}

// NewTime wraps a time.Time.
func NewTime(t time.Time) *Time {
	return &Time{Time: t}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Time) UnmarshalJSON(data []byte) error {
	var timestamp float64
	if err := json.Unmarshal(data, &timestamp); err != nil {
		return err
	}
	t.Time = time.Unix(int64(timestamp), 0)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Unix())
}

// Audience represents the audience claim which can be a string or an
// array on the wire.
type Audience []string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Audience) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*a = Audience{single}
		return nil
	}

	var multiple []string
	if err := json.Unmarshal(data, &multiple); err != nil {
		return err
	}
	*a = Audience(multiple)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (a Audience) MarshalJSON() ([]byte, error) {
	if len(a) == 1 {
		return json.Marshal(a[0])
	}
	return json.Marshal([]string(a))
}

// Contains checks if the audience contains a specific value.
func (a Audience) Contains(aud string) bool {
	for _, v := range a {
		if v == aud {
			return true
		}
	}
	return false
}

// ContainsAny checks if the audience contains any of the specified
// values.
func (a Audience) ContainsAny(auds ...string) bool {
	for _, aud := range auds {
		if a.Contains(aud) {
			return true
		}
	}
	return false
}

// Remaining returns the time until expiry; zero when the claim set has
// no expiry or already expired.
func (c *ClaimSet) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	remaining := c.ExpiresAt.Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ParseClaimSet parses a claim set from a decoded payload map.
func ParseClaimSet(data map[string]interface{}) *ClaimSet {
	claims := &ClaimSet{
		Extra: make(map[string]interface{}),
	}

	for key, value := range data {
		if !parseKnownClaim(claims, key, value) {
			claims.Extra[key] = value
		}
	}

	return claims
}

// parseKnownClaim maps a known claim into the claim set and reports
// whether it was recognized.
func parseKnownClaim(claims *ClaimSet, key string, value interface{}) bool {
	switch key {
	case "iss":
		claims.Issuer, _ = value.(string)
	case "sub":
		claims.Subject, _ = value.(string)
	case "aud":
		claims.Audience = parseAudience(value)
	case "exp":
		claims.ExpiresAt = parseTime(value)
	case "nbf":
		claims.NotBefore = parseTime(value)
	case "iat":
		claims.IssuedAt = parseTime(value)
	case "jti":
		claims.TokenID, _ = value.(string)
	case "sid":
		claims.SessionID, _ = value.(string)
	case "roles":
		claims.Roles = parseStringSlice(value)
	case "permissions":
		claims.Permissions = parseStringSlice(value)
	case "device":
		claims.Device, _ = value.(string)
	case "ip":
		claims.IPAddress, _ = value.(string)
	case "amr":
		claims.AuthMethod, _ = value.(string)
	case "mfa":
		claims.MFAVerified, _ = value.(bool)
	case "risk_score":
		if f, ok := value.(float64); ok {
			claims.RiskScore = f
		}
	default:
		return false
	}
	return true
}

// parseAudience parses the audience claim.
func parseAudience(value interface{}) Audience {
	switch v := value.(type) {
	case string:
		return Audience{v}
	case []string:
		return Audience(v)
	case []interface{}:
		result := make(Audience, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}

// parseStringSlice parses a JSON string array claim.
func parseStringSlice(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}

// parseTime parses a numeric timestamp claim.
func parseTime(value interface{}) *Time {
	switch v := value.(type) {
	case float64:
		return &Time{Time: time.Unix(int64(v), 0)}
	case int64:
		return &Time{Time: time.Unix(v, 0)}
	case int:
		return &Time{Time: time.Unix(int64(v), 0)}
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return &Time{Time: time.Unix(i, 0)}
		}
	}
	return nil
}

// ToMap converts the claim set to a payload map for signing.
func (c *ClaimSet) ToMap() map[string]interface{} {
	result := make(map[string]interface{})

	if c.Issuer != "" {
		result["iss"] = c.Issuer
	}
	if c.Subject != "" {
		result["sub"] = c.Subject
	}
	if len(c.Audience) > 0 {
		if len(c.Audience) == 1 {
			result["aud"] = c.Audience[0]
		} else {
			result["aud"] = []string(c.Audience)
		}
	}
	if c.ExpiresAt != nil {
		result["exp"] = c.ExpiresAt.Unix()
	}
	if c.NotBefore != nil {
		result["nbf"] = c.NotBefore.Unix()
	}
	if c.IssuedAt != nil {
		result["iat"] = c.IssuedAt.Unix()
	}
	if c.TokenID != "" {
		result["jti"] = c.TokenID
	}
	if c.SessionID != "" {
		result["sid"] = c.SessionID
	}
	if len(c.Roles) > 0 {
		result["roles"] = c.Roles
	}
	if len(c.Permissions) > 0 {
		result["permissions"] = c.Permissions
	}
	if c.Device != "" {
		result["device"] = c.Device
	}
	if c.IPAddress != "" {
		result["ip"] = c.IPAddress
	}
	if c.AuthMethod != "" {
		result["amr"] = c.AuthMethod
	}
	if c.MFAVerified {
		result["mfa"] = true
	}
	if c.RiskScore != 0 {
		result["risk_score"] = c.RiskScore
	}

	for k, v := range c.Extra {
		result[k] = v
	}

	return result
}
