// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// SQLiteStore is a durable Recorder for operators who want stats to survive
// restarts without running a separate metrics pipeline. It trades the
// lock-free atomics of Store for a single-writer SQLite connection; callers
// that don't need cross-restart durability should use Store instead.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) a counters table at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	const schema = `
CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS tool_counts (
	server TEXT NOT NULL,
	tool TEXT NOT NULL,
	count INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (server, tool)
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create stats schema: %w", err)
	}
	for _, name := range []string{"invocations", "cache_hits", "cache_misses", "failures"} {
		if _, err := db.Exec(`INSERT OR IGNORE INTO counters(name, value) VALUES (?, 0)`, name); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed counter %s: %w", name, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) bump(name string) {
	_, _ = s.db.Exec(`UPDATE counters SET value = value + 1 WHERE name = ?`, name)
}

// RecordInvocation increments the invocation counter and the named tool's
// per-tool row.
func (s *SQLiteStore) RecordInvocation(server, tool string) {
	s.bump("invocations")
	_, _ = s.db.Exec(`
INSERT INTO tool_counts(server, tool, count) VALUES (?, ?, 1)
ON CONFLICT(server, tool) DO UPDATE SET count = count + 1`, server, tool)
}

// RecordCacheHit increments the cache-hit counter.
func (s *SQLiteStore) RecordCacheHit() { s.bump("cache_hits") }

// RecordCacheMiss increments the cache-miss counter.
func (s *SQLiteStore) RecordCacheMiss() { s.bump("cache_misses") }

// RecordFailure increments the failure counter.
func (s *SQLiteStore) RecordFailure() { s.bump("failures") }

// Snapshot reads the current counters back from SQLite.
func (s *SQLiteStore) Snapshot() Snapshot {
	var snap Snapshot
	rows, err := s.db.Query(`SELECT name, value FROM counters`)
	if err == nil {
		for rows.Next() {
			var name string
			var value int64
			if rows.Scan(&name, &value) != nil {
				continue
			}
			switch name {
			case "invocations":
				snap.Invocations = value
			case "cache_hits":
				snap.CacheHits = value
			case "cache_misses":
				snap.CacheMisses = value
			case "failures":
				snap.Failures = value
			}
		}
		rows.Close()
	}

	if total := snap.CacheHits + snap.CacheMisses; total > 0 {
		snap.CacheHitRate = float64(snap.CacheHits) / float64(total)
	}
	snap.TokensSaved = snap.CacheHits * avgToolSchemaTokens

	toolRows, err := s.db.Query(`SELECT server, tool, count FROM tool_counts ORDER BY count DESC, tool ASC LIMIT 10`)
	if err == nil {
		for toolRows.Next() {
			var t TopTool
			if toolRows.Scan(&t.Server, &t.Tool, &t.Count) != nil {
				continue
			}
			snap.TopTools = append(snap.TopTools, t)
		}
		toolRows.Close()
	}
	sort.SliceStable(snap.TopTools, func(i, j int) bool {
		if snap.TopTools[i].Count != snap.TopTools[j].Count {
			return snap.TopTools[i].Count > snap.TopTools[j].Count
		}
		return snap.TopTools[i].Tool < snap.TopTools[j].Tool
	})
	return snap
}
