// Package ratelimit bounds how often a key may act within a fixed
// window.
//
// Each check performs exactly one atomic increment against the shared
// counter store, keyed by the window start, so a fresh window begins
// at one and a request that was counted stays counted even when the
// caller cancels. The shared store is the only enforcement point; a
// small local cache fast-rejects keys already known to be over the
// limit in the current window. Under load the effective limit scales
// down, and every rejection is audited with an escalating severity
// derived from the key's violation history.
package ratelimit
