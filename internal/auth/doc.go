// Package auth assembles the per-request identity context.
//
// The assembler runs once per inbound request: it extracts the bearer
// credential, consults the validation cache, verifies the token on a
// miss, checks session liveness, applies the rate limit and attaches
// the resulting identity to the request scope. Public endpoints degrade
// to the anonymous identity on authentication failure; everything else
// fails closed with a typed failure whose outward message stays generic
// while the precise reason goes to the audit trail.
package auth
