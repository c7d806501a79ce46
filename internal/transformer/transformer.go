// Package transformer turns decoded rows into the per-combination values the
// audience API ingests.
//
// For each row:
//
//  1. every mapped column is normalized (trimmed, lowercased),
//  2. the normalized values fill a typed match.IdentifierSet,
//  3. each applicable combination composes its key,
//  4. keys are SHA-256 hashed (hex) when hashing is on for the run and the
//     combination requires it.
//
// The Transformer holds per-run state (the resolved schema, counters and the
// optional de-duplication set) and is not safe for concurrent use; the
// pipeline drives it from the parser goroutine.
package transformer

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"audiencesync/internal/match"
)

// Record is one transformed row: one value per applicable combination, in
// schema order.
type Record []string

// Normalize is the documented input rule for both composition and hashing:
// surrounding whitespace trimmed, lowercased, nothing else.
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Hash returns the lowercase hex SHA-256 digest of Normalize(s).
func Hash(s string) string {
	sum := sha256.Sum256([]byte(Normalize(s)))
	return hex.EncodeToString(sum[:])
}

// Options configure a Transformer.
type Options struct {
	// Hashing enables hashing for combinations that require it.
	Hashing bool

	// Dedupe drops records identical to one already produced in this run.
	Dedupe bool
}

// Stats are the counters a Transformer accumulates over a run.
type Stats struct {
	Rows       int64 // rows seen
	Records    int64 // records produced
	Duplicates int64 // records dropped by Dedupe
}

// Transformer applies a resolved schema to rows.
type Transformer struct {
	schema *match.Schema
	opts   Options
	set    match.IdentifierSet
	seen   *dedupSet
	stats  Stats
}

// New returns a Transformer for schema.
func New(schema *match.Schema, opts Options) *Transformer {
	t := &Transformer{schema: schema, opts: opts}
	if opts.Dedupe {
		t.seen = newDedupSet()
	}
	return t
}

// Transform converts row. ok is false when the row yields no record: the
// schema has no applicable combination, or the record is a duplicate.
func (t *Transformer) Transform(row *Row) (rec Record, ok bool) {
	t.stats.Rows++
	if len(t.schema.Applicable) == 0 {
		return nil, false
	}

	t.set.Reset()
	for _, m := range t.schema.Mappings {
		v, found := row.Lookup(m.Column)
		if !found || !v.Valid {
			// A later column for the same identifier still wins, even when null.
			t.set.Clear(m.Identifier)
			continue
		}
		t.set.Set(m.Identifier, Normalize(v.S))
	}

	rec = make(Record, len(t.schema.Applicable))
	for i, c := range t.schema.Applicable {
		key := c.Compose(&t.set)
		switch {
		case !isComposed(key):
			key = ""
		case t.opts.Hashing && t.schema.Hashed[i]:
			key = Hash(key)
		}
		rec[i] = key
	}

	if t.seen != nil && !t.seen.add(rec) {
		t.stats.Duplicates++
		return nil, false
	}
	t.stats.Records++
	return rec, true
}

// Stats returns the counters so far.
func (t *Transformer) Stats() Stats { return t.stats }

// isComposed reports whether key carries any data; keys made only of empty
// segments are sent as "" and never hashed.
func isComposed(key string) bool {
	return strings.Trim(key, match.Separator) != ""
}
