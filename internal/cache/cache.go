// Package cache implements the completion response cache.
//
// Entries are keyed by a SHA-256 fingerprint over every request field that
// influences the completion: messages, tier, model, sampling parameters,
// token ceiling, offered functions and seed. Two requests differing in any
// of those fields can never collide, and routing-only fields (session, task,
// agent) deliberately do not participate so identical prompts share entries
// across sessions.
//
// When full, the cache evicts the entry closest to expiry rather than the
// least recently used one. With heterogeneous TTLs that is the entry with
// the least remaining value.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/shannon-ai/llm-gateway/pkg/provider/llm"
	"github.com/shannon-ai/llm-gateway/pkg/types"
)

// DefaultTTL applies when a request does not carry its own TTL.
const DefaultTTL = 5 * time.Minute

// DefaultCapacity bounds the number of live entries.
const DefaultCapacity = 1000

type entry struct {
	resp      *llm.Response
	expiresAt time.Time
}

// Cache is a bounded TTL cache for completion responses. It is safe for
// concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]entry
	capacity int

	hits   uint64
	misses uint64

	now func() time.Time
}

// New creates a cache holding at most capacity entries. A non-positive
// capacity falls back to DefaultCapacity.
func New(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		entries:  make(map[string]entry, capacity),
		capacity: capacity,
		now:      time.Now,
	}
}

// fingerprintPayload fixes the field set and order the fingerprint covers.
type fingerprintPayload struct {
	Messages    []types.Message        `json:"messages"`
	Tier        types.ModelTier        `json:"tier"`
	Model       string                 `json:"model"`
	Temperature *float64               `json:"temperature"`
	MaxTokens   int                    `json:"max_tokens"`
	Functions   []types.FunctionSchema `json:"functions"`
	Seed        *int                   `json:"seed"`
}

// Fingerprint derives the cache key for req. A non-empty req.CacheKey wins
// so callers can force sharing or isolation.
func Fingerprint(req *llm.Request) string {
	if req.CacheKey != "" {
		return req.CacheKey
	}
	payload, err := json.Marshal(fingerprintPayload{
		Messages:    req.Messages,
		Tier:        req.ModelTier,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Functions:   req.Functions,
		Seed:        req.Seed,
	})
	if err != nil {
		// Marshal can only fail on exotic content; an unique key disables
		// caching for this request rather than risking a collision.
		payload = []byte(time.Now().String())
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Get returns a copy of the cached response for key, marking it as a cache
// hit. Expired entries are removed and reported as misses.
func (c *Cache) Get(key string) (*llm.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	c.hits++
	out := copyResponse(e.resp)
	out.Cached = true
	return out, true
}

// Put stores a copy of resp under key for ttl (DefaultTTL when ttl <= 0).
// When the cache is full the entry with the earliest expiry is evicted.
func (c *Cache) Put(key string, resp *llm.Response, ttl time.Duration) {
	if resp == nil {
		return
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictEarliest()
	}
	c.entries[key] = entry{resp: copyResponse(resp), expiresAt: c.now().Add(ttl)}
}

// evictEarliest removes the entry closest to expiry. Must be called with
// c.mu held.
func (c *Cache) evictEarliest() {
	var (
		victim   string
		earliest time.Time
		found    bool
	)
	for k, e := range c.entries {
		if !found || e.expiresAt.Before(earliest) {
			victim, earliest, found = k, e.expiresAt, true
		}
	}
	if found {
		delete(c.entries, victim)
	}
}

// Len returns the number of stored entries, including any not yet reaped
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports hit and miss counts plus the hit rate in [0, 1].
func (c *Cache) Stats() (hits, misses uint64, rate float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return c.hits, c.misses, rate
}

// Clear drops every entry, leaving hit statistics intact.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry, c.capacity)
}

// copyResponse clones resp so cached state can never alias caller state in
// either direction.
func copyResponse(resp *llm.Response) *llm.Response {
	out := *resp
	if resp.FunctionCall != nil {
		fc := *resp.FunctionCall
		out.FunctionCall = &fc
	}
	return &out
}
