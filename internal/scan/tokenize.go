// Package scan turns file bytes into token counts. It holds the worker side
// of the counting engine: reading a partition line by line, decoding each
// line, dropping whitespace, and counting every remaining character.
package scan

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"charfreq/internal/charset"
	"charfreq/internal/freq"
)

// Normalization selects an optional Unicode normal form applied to each line
// before counting.
type Normalization string

const (
	NormNone Normalization = ""
	NormNFC  Normalization = "nfc"
	NormNFD  Normalization = "nfd"
	NormNFKC Normalization = "nfkc"
	NormNFKD Normalization = "nfkd"
)

// ParseNormalization validates a user-supplied normal form name.
func ParseNormalization(s string) (Normalization, error) {
	switch n := Normalization(strings.ToLower(strings.TrimSpace(s))); n {
	case NormNone, NormNFC, NormNFD, NormNFKC, NormNFKD:
		return n, nil
	}
	return NormNone, fmt.Errorf("scan: unknown normalization %q (want nfc, nfd, nfkc or nfkd)", s)
}

func (n Normalization) form() (norm.Form, bool) {
	switch n {
	case NormNFC:
		return norm.NFC, true
	case NormNFD:
		return norm.NFD, true
	case NormNFKC:
		return norm.NFKC, true
	case NormNFKD:
		return norm.NFKD, true
	}
	return 0, false
}

// IsSpace reports whether r is dropped before counting: Unicode white space
// plus the ASCII information separators U+001C..U+001F.
func IsSpace(r rune) bool {
	if r >= 0x1c && r <= 0x1f {
		return true
	}
	return unicode.IsSpace(r)
}

// Tokenizer decodes lines and accumulates their token counts into a map it
// owns. A Tokenizer is used by a single goroutine.
type Tokenizer struct {
	dec    *charset.Decoder
	form   norm.Form
	doNorm bool
	nbuf   []byte

	ascii  [utf8.RuneSelf]int64
	counts freq.Map
}

// NewTokenizer returns a Tokenizer for codec with the given normalization.
func NewTokenizer(codec *charset.Codec, n Normalization) *Tokenizer {
	t := &Tokenizer{
		dec:    codec.NewDecoder(),
		counts: freq.New(64),
	}
	t.form, t.doNorm = n.form()
	return t
}

// Line counts the tokens of one line. offset is the absolute file offset of
// the line's first byte and is folded into any *charset.DecodeError.
func (t *Tokenizer) Line(line []byte, offset int64) error {
	text, err := t.dec.DecodeAt(line, offset)
	if err != nil {
		var de *charset.DecodeError
		if errors.As(err, &de) {
			de.Offset += offset
			return de
		}
		return err
	}
	if t.doNorm && !t.form.IsNormal(text) {
		t.nbuf = t.form.Append(t.nbuf[:0], text...)
		text = t.nbuf
	}
	for i := 0; i < len(text); {
		if c := text[i]; c < utf8.RuneSelf {
			t.ascii[c]++
			i++
			continue
		}
		r, size := utf8.DecodeRune(text[i:])
		i += size
		if !IsSpace(r) {
			t.counts[r]++
		}
	}
	return nil
}

// Counts folds pending ASCII tallies into the map and returns it. The
// Tokenizer keeps ownership until its caller stops using it.
func (t *Tokenizer) Counts() freq.Map {
	for c, n := range t.ascii {
		if n == 0 {
			continue
		}
		if r := rune(c); !IsSpace(r) {
			t.counts.Add(r, n)
		}
		t.ascii[c] = 0
	}
	return t.counts
}
