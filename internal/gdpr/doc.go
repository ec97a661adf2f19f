// Package gdpr filters sensitive fields out of outbound data.
//
// Fields carry a static sensitivity class. The resource owner always
// sees their own values; administrative roles see them too, with an
// unconditional audit trail; everyone else needs a recorded consent
// grant from the owner or receives a masked representation instead.
// Every access to a classified field is audited, masked or not.
package gdpr
