// Package rbac implements role and permission checks.
//
// Role checks run in one of three modes: any (at least one required
// role held), all (every required role held) or hierarchical (required
// roles compared against the caller's roles expanded through a static
// inheritance graph). Permission checks always require every listed
// permission. Both checks are pure functions over the identity; they
// hold no per-request state.
package rbac
