// Package directory looks up roles and permissions for a subject in
// the credential store. It is consulted when a token carries no role
// claims; results are used for the current request only and never
// written back.
package directory
