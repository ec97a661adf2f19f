// Package abac implements attribute-based policy evaluation.
//
// Policies are evaluated in declaration order against the resource and
// action in scope. Each policy yields Permit, Deny or NotApplicable;
// the first explicit effect wins. When every policy is not applicable
// the configured default effect applies, permit unless the deployment
// switches it to deny. Conditions are CEL expressions; owner and
// hour-window matchers are built in.
package abac
