// Package freq holds the frequency table produced by the counting engine and
// the pure functions that combine and order it.
//
// A Map is owned by exactly one goroutine while it is being filled. Workers
// hand their maps to Merge once they are done; nothing in this package locks.
package freq

import (
	"encoding/binary"
	"slices"
	"unicode/utf8"

	"github.com/zeebo/xxh3"
)

// Map counts occurrences per token. A token is one decoded character.
type Map map[rune]int64

// Entry is a single token/count pair.
type Entry struct {
	Token rune
	Count int64
}

// New returns an empty Map with room for hint tokens.
func New(hint int) Map {
	return make(Map, hint)
}

// Add increments token by n. Non-positive n is ignored so a Map never holds a
// zero or negative count.
func (m Map) Add(token rune, n int64) {
	if n <= 0 {
		return
	}
	m[token] += n
}

// Total returns the sum of all counts.
func (m Map) Total() int64 {
	var t int64
	for _, c := range m {
		t += c
	}
	return t
}

// Merge sums every input map into a fresh Map. Inputs are not modified and
// nil inputs are skipped. The operation is commutative and associative, so
// the order in which worker results arrive does not matter.
func Merge(maps ...Map) Map {
	hint := 0
	for _, m := range maps {
		if len(m) > hint {
			hint = len(m)
		}
	}
	out := New(hint)
	for _, m := range maps {
		for tok, c := range m {
			out.Add(tok, c)
		}
	}
	return out
}

// Equal reports whether a and b hold the same tokens with the same counts.
// A nil map equals an empty one.
func Equal(a, b Map) bool {
	if len(a) != len(b) {
		return false
	}
	for tok, c := range a {
		if bc, ok := b[tok]; !ok || bc != c {
			return false
		}
	}
	return true
}

// Entries returns the map contents ordered by count descending. Equal counts
// are ordered by ascending code point so output is stable across runs.
func (m Map) Entries() []Entry {
	out := make([]Entry, 0, len(m))
	for tok, c := range m {
		out = append(out, Entry{Token: tok, Count: c})
	}
	slices.SortFunc(out, func(a, b Entry) int {
		switch {
		case a.Count > b.Count:
			return -1
		case a.Count < b.Count:
			return 1
		case a.Token < b.Token:
			return -1
		case a.Token > b.Token:
			return 1
		}
		return 0
	})
	return out
}

// Fingerprint returns an order-independent digest of m: the wrapping sum of
// xxh3(token bytes || big-endian count) over all entries. Two equal maps
// always share a fingerprint; an empty map yields 0.
func Fingerprint(m Map) uint64 {
	var (
		sum uint64
		buf [utf8.UTFMax + 8]byte
	)
	for tok, c := range m {
		n := utf8.EncodeRune(buf[:], tok)
		binary.BigEndian.PutUint64(buf[n:], uint64(c))
		sum += xxh3.Hash(buf[:n+8])
	}
	return sum
}
