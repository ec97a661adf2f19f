package authz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/vyrodovalexey/avauth/internal/observability"
)

// DecisionCache caches authorization decisions for a short TTL.
type DecisionCache interface {
	// Get retrieves a cached decision.
	Get(ctx context.Context, key *CacheKey) (*CachedDecision, bool)

	// Set stores a decision in the cache.
	Set(ctx context.Context, key *CacheKey, decision *CachedDecision)

	// InvalidateSubject drops every cached decision for a subject,
	// used when the subject's roles or permissions change.
	InvalidateSubject(ctx context.Context, subject string)

	// Close closes the cache.
	Close() error
}

// CacheKey identifies a decision: the subject, what was required, the
// resource and the roles the subject held at evaluation time. Holding
// the roles in the key means a token with different claims never reads
// another token's decision.
type CacheKey struct {
	Subject             string
	Resource            string
	Action              string
	RequiredRoles       []string
	RoleMode            string
	RequiredPermissions []string
	Roles               []string
}

// String returns a stable hash of the cache key.
func (k *CacheKey) String() string {
	h := sha256.New()
	h.Write([]byte(k.Subject))
	h.Write([]byte{0})
	h.Write([]byte(k.Resource))
	h.Write([]byte{0})
	h.Write([]byte(k.Action))
	h.Write([]byte{0})
	h.Write([]byte(k.RoleMode))
	for _, r := range k.RequiredRoles {
		h.Write([]byte{1})
		h.Write([]byte(r))
	}
	for _, p := range k.RequiredPermissions {
		h.Write([]byte{2})
		h.Write([]byte(p))
	}
	for _, r := range k.Roles {
		h.Write([]byte{3})
		h.Write([]byte(r))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CachedDecision is a decision held in the cache.
type CachedDecision struct {
	// Allowed indicates if the request was allowed.
	Allowed bool

	// Reason is the reason for the decision.
	Reason string

	// Rule names the rule that settled the decision.
	Rule string

	// ExpiresAt is when the cached decision lapses.
	ExpiresAt time.Time
}

// memoryDecisionCache is the in-process decision cache. A per-subject
// index makes InvalidateSubject cheap.
type memoryDecisionCache struct {
	ttl     time.Duration
	maxSize int
	logger  observability.Logger
	metrics *Metrics
	now     func() time.Time

	mu        sync.RWMutex
	entries   map[string]*memoryEntry
	bySubject map[string]map[string]struct{}

	stopOnce sync.Once
	stopChan chan struct{}
}

type memoryEntry struct {
	decision *CachedDecision
	subject  string
	cachedAt time.Time
}

// MemoryCacheOption is a functional option for the memory cache.
type MemoryCacheOption func(*memoryDecisionCache)

// WithMemoryCacheLogger sets the logger.
func WithMemoryCacheLogger(logger observability.Logger) MemoryCacheOption {
	return func(c *memoryDecisionCache) {
		c.logger = logger
	}
}

// WithMemoryCacheMetrics sets the metrics.
func WithMemoryCacheMetrics(metrics *Metrics) MemoryCacheOption {
	return func(c *memoryDecisionCache) {
		c.metrics = metrics
	}
}

// WithMemoryCacheClock overrides the time source.
func WithMemoryCacheClock(now func() time.Time) MemoryCacheOption {
	return func(c *memoryDecisionCache) {
		c.now = now
	}
}

// NewMemoryDecisionCache creates an in-memory decision cache.
func NewMemoryDecisionCache(ttl time.Duration, maxSize int, opts ...MemoryCacheOption) DecisionCache {
	if maxSize <= 0 {
		maxSize = 10000
	}

	c := &memoryDecisionCache{
		ttl:       ttl,
		maxSize:   maxSize,
		logger:    observability.NopLogger(),
		now:       time.Now,
		entries:   make(map[string]*memoryEntry),
		bySubject: make(map[string]map[string]struct{}),
		stopChan:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	go c.cleanupLoop()

	return c
}

// Get retrieves a cached decision.
func (c *memoryDecisionCache) Get(_ context.Context, key *CacheKey) (*CachedDecision, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key.String()]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.decision.ExpiresAt) {
		c.metrics.RecordCacheMiss()
		return nil, false
	}

	c.metrics.RecordCacheHit()
	return entry.decision, true
}

// Set stores a decision in the cache.
func (c *memoryDecisionCache) Set(_ context.Context, key *CacheKey, decision *CachedDecision) {
	now := c.now()
	decision.ExpiresAt = now.Add(c.ttl)

	keyStr := key.String()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictLocked()
	}

	c.entries[keyStr] = &memoryEntry{
		decision: decision,
		subject:  key.Subject,
		cachedAt: now,
	}

	keys, ok := c.bySubject[key.Subject]
	if !ok {
		keys = make(map[string]struct{})
		c.bySubject[key.Subject] = keys
	}
	keys[keyStr] = struct{}{}
}

// InvalidateSubject drops every cached decision for a subject.
func (c *memoryDecisionCache) InvalidateSubject(_ context.Context, subject string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for keyStr := range c.bySubject[subject] {
		delete(c.entries, keyStr)
	}
	delete(c.bySubject, subject)
}

// Close stops the cleanup loop.
func (c *memoryDecisionCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	return nil
}

// evictLocked removes expired entries first, then the oldest entry if
// the cache is still full. Callers hold the write lock.
func (c *memoryDecisionCache) evictLocked() {
	now := c.now()
	for keyStr, entry := range c.entries {
		if now.After(entry.decision.ExpiresAt) {
			c.removeLocked(keyStr, entry.subject)
		}
	}

	if len(c.entries) < c.maxSize {
		return
	}

	var oldestKey, oldestSubject string
	var oldestTime time.Time
	for keyStr, entry := range c.entries {
		if oldestKey == "" || entry.cachedAt.Before(oldestTime) {
			oldestKey = keyStr
			oldestSubject = entry.subject
			oldestTime = entry.cachedAt
		}
	}
	if oldestKey != "" {
		c.removeLocked(oldestKey, oldestSubject)
	}
}

func (c *memoryDecisionCache) removeLocked(keyStr, subject string) {
	delete(c.entries, keyStr)
	if keys, ok := c.bySubject[subject]; ok {
		delete(keys, keyStr)
		if len(keys) == 0 {
			delete(c.bySubject, subject)
		}
	}
}

// cleanupLoop periodically removes expired entries.
func (c *memoryDecisionCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			return
		}
	}
}

func (c *memoryDecisionCache) cleanup() {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	for keyStr, entry := range c.entries {
		if now.After(entry.decision.ExpiresAt) {
			c.removeLocked(keyStr, entry.subject)
		}
	}
}

// noopDecisionCache never caches.
type noopDecisionCache struct{}

// NewNoopDecisionCache creates a decision cache that caches nothing.
func NewNoopDecisionCache() DecisionCache {
	return &noopDecisionCache{}
}

func (c *noopDecisionCache) Get(_ context.Context, _ *CacheKey) (*CachedDecision, bool) {
	return nil, false
}

func (c *noopDecisionCache) Set(_ context.Context, _ *CacheKey, _ *CachedDecision) {}

func (c *noopDecisionCache) InvalidateSubject(_ context.Context, _ string) {}

func (c *noopDecisionCache) Close() error { return nil }

// Ensure implementations satisfy the interface.
var (
	_ DecisionCache = (*memoryDecisionCache)(nil)
	_ DecisionCache = (*noopDecisionCache)(nil)
)
