// Package cache provides the shared caching layer for the auth core.
//
// Two backends implement the Cache interface: an in-memory LRU with a
// background cleanup goroutine, and a Redis-backed cache. The token
// validation cache and the consent store build on top of it.
package cache
