// SPDX-License-Identifier: Apache-2.0

// Package stats tracks invocation counts, cache hit rate, an estimated
// token-savings figure, and per-tool usage, exposed through get_stats.
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
)

// avgToolSchemaTokens is a rough estimate of the context tokens a full tool
// schema would cost the client if loaded up front, used to approximate
// tokens saved by on-demand discovery instead of schema preloading.
const avgToolSchemaTokens = 150

// Recorder is the interface get_stats and the dispatcher depend on. Store is
// the default in-memory implementation; SQLiteStore is an optional durable
// alternative behind the same interface.
type Recorder interface {
	RecordInvocation(server, tool string)
	RecordCacheHit()
	RecordCacheMiss()
	RecordFailure()
	Snapshot() Snapshot
}

// Store accumulates process-lifetime invocation counters. All counters are
// lock-free atomics on the hot path; only the per-tool breakdown needs a
// mutex, and it is read far less often than it is written.
type Store struct {
	invocations int64
	cacheHits   int64
	cacheMisses int64
	failures    int64

	mu      sync.Mutex
	perTool map[string]int64 // "server/tool" -> invocation count
}

// New creates an empty Store.
func New() *Store {
	return &Store{perTool: make(map[string]int64)}
}

// RecordInvocation increments the invocation counter and the named tool's
// per-tool count, regardless of outcome.
func (s *Store) RecordInvocation(server, tool string) {
	atomic.AddInt64(&s.invocations, 1)
	key := server + "/" + tool
	s.mu.Lock()
	s.perTool[key]++
	s.mu.Unlock()
}

// RecordCacheHit marks an invocation as served from the response cache.
func (s *Store) RecordCacheHit() {
	atomic.AddInt64(&s.cacheHits, 1)
}

// RecordCacheMiss marks an invocation that reached the transport.
func (s *Store) RecordCacheMiss() {
	atomic.AddInt64(&s.cacheMisses, 1)
}

// RecordFailure increments the failure counter.
func (s *Store) RecordFailure() {
	atomic.AddInt64(&s.failures, 1)
}

// TopTool is one entry of the top-tools leaderboard.
type TopTool struct {
	Server string `json:"server"`
	Tool   string `json:"tool"`
	Count  int64  `json:"count"`
}

// Snapshot is the get_stats result shape (spec §6).
type Snapshot struct {
	Invocations   int64     `json:"invocations"`
	CacheHits     int64     `json:"cache_hits"`
	CacheMisses   int64     `json:"cache_misses"`
	CacheHitRate  float64   `json:"cache_hit_rate"`
	Failures      int64     `json:"failures"`
	TokensSaved   int64     `json:"tokens_saved"`
	TopTools      []TopTool `json:"top_tools"`
}

// Snapshot returns a consistent point-in-time view of all counters. Cache
// hit rate is hits / (hits + misses), zero when no cache lookups occurred.
func (s *Store) Snapshot() Snapshot {
	hits := atomic.LoadInt64(&s.cacheHits)
	misses := atomic.LoadInt64(&s.cacheMisses)

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}

	s.mu.Lock()
	top := make([]TopTool, 0, len(s.perTool))
	for key, count := range s.perTool {
		server, tool := splitToolKey(key)
		top = append(top, TopTool{Server: server, Tool: tool, Count: count})
	}
	s.mu.Unlock()

	sort.SliceStable(top, func(i, j int) bool {
		if top[i].Count != top[j].Count {
			return top[i].Count > top[j].Count
		}
		return top[i].Tool < top[j].Tool
	})
	if len(top) > 10 {
		top = top[:10]
	}

	return Snapshot{
		Invocations:  atomic.LoadInt64(&s.invocations),
		CacheHits:    hits,
		CacheMisses:  misses,
		CacheHitRate: rate,
		Failures:     atomic.LoadInt64(&s.failures),
		// Every cache hit is a transport round-trip (and the schema the
		// client would otherwise have had to keep in context) avoided.
		TokensSaved: hits * avgToolSchemaTokens,
		TopTools:    top,
	}
}

func splitToolKey(key string) (server, tool string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:]
		}
	}
	return "", key
}
