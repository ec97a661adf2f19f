// Package observability provides structured logging for the auth core.
//
// Components receive a Logger through functional options and default to
// NopLogger, so library users opt into logging explicitly.
package observability
