// Package trigram implements a lossy per-chunk trigram membership filter: a
// 64-bit bitset fed by two independent hash functions, used to shortlist
// candidate chunks for a grep-style search before fetching their content.
// False positives are expected and cheap to reject downstream; false
// negatives would silently hide real matches and must never happen.
package trigram

import (
	"github.com/cespare/xxhash/v2"
)

// Filter is a 64-bit bitset recording which of 64 hash buckets have seen at
// least one trigram from a chunk's content.
type Filter uint64

// bit returns the two bit positions a trigram sets, from two independent
// hashes of the same 3-byte window (a plain seed-salted second hash, not a
// second algorithm, but independent enough that collisions in one rarely
// coincide with collisions in the other).
func bit(trigram string) (uint, uint) {
	h1 := xxhash.Sum64String(trigram)
	h2 := xxhash.Sum64String(trigram + "\x00mnemosyne-trigram-salt")
	return uint(h1 % 64), uint(h2 % 64)
}

// Add folds one trigram into the filter.
func (f Filter) Add(trigram string) Filter {
	b1, b2 := bit(trigram)
	return f | (1 << b1) | (1 << b2)
}

// MayContain reports whether trigram could be present. false is a
// certain negative; true only means "maybe, check the real content".
func (f Filter) MayContain(trigram string) bool {
	b1, b2 := bit(trigram)
	mask := Filter(1<<b1) | Filter(1<<b2)
	return f&mask == mask
}

// Build computes the filter for the full bytes of one chunk.
func Build(content []byte) Filter {
	var f Filter
	for _, tg := range Extract(content) {
		f = f.Add(tg)
	}
	return f
}

// MayContainAll reports whether every trigram in query could be present in
// a chunk whose filter is f. Used to shortlist candidates for a search term:
// any chunk for which this is false cannot contain the literal query text.
func MayContainAll(f Filter, query string) bool {
	tgs := Extract([]byte(query))
	if len(tgs) == 0 {
		return true // queries shorter than 3 bytes can't be filtered
	}
	for _, tg := range tgs {
		if !f.MayContain(tg) {
			return false
		}
	}
	return true
}

// Extract returns every distinct contiguous 3-byte window of content, in
// first-seen order. Byte-oriented rather than rune-aware: consistent and
// fast across all supported source languages, at the cost of occasionally
// splitting a multi-byte UTF-8 rune across two windows (harmless here, since
// both the index and the query go through the same extraction).
func Extract(content []byte) []string {
	if len(content) < 3 {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for i := 0; i+3 <= len(content); i++ {
		tg := string(content[i : i+3])
		if !seen[tg] {
			seen[tg] = true
			out = append(out, tg)
		}
	}
	return out
}
