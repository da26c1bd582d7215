// Package charset resolves encoding names to codecs and turns raw line bytes
// into UTF-8 text.
//
// A Codec is immutable once returned by Lookup and may be shared by any
// number of goroutines. Decoding state lives in a Decoder, which each worker
// creates for itself with Codec.NewDecoder.
//
// Line framing in the counting engine is byte oriented: a line ends at the
// byte 0x0A. Lookup therefore rejects encodings that do not encode '\n' as
// that single byte (UTF-16 and UTF-32), returning ErrNotLineFramed.
package charset

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// SampleSize is the number of leading bytes handed to a Detector.
const SampleSize = 1000

var (
	// ErrUnknownEncoding is returned by Lookup for names no index knows.
	ErrUnknownEncoding = errors.New("charset: unknown encoding")

	// ErrNotLineFramed is returned by Lookup for encodings in which '\n' is
	// not the single byte 0x0A.
	ErrNotLineFramed = errors.New("charset: encoding does not frame lines with a single newline byte")

	// ErrUndetermined is returned by a Detector that cannot name an encoding.
	ErrUndetermined = errors.New("charset: could not determine encoding")

	errInvalidSequence = errors.New("invalid byte sequence")
	errNonASCII        = errors.New("byte outside the ASCII range")
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

type kind int

const (
	kindUTF8 kind = iota
	kindUTF8BOM
	kindASCII
	kindTable
)

// Codec decodes and encodes text in one named encoding.
type Codec struct {
	name string
	kind kind
	enc  encoding.Encoding // only for kindTable
}

// Name returns the canonical lower-case name of the encoding.
func (c *Codec) Name() string { return c.name }

// String implements fmt.Stringer.
func (c *Codec) String() string { return c.name }

// UTF8 returns the UTF-8 codec.
func UTF8() *Codec { return &Codec{name: "utf-8", kind: kindUTF8} }

// Lookup resolves an encoding name such as "utf-8", "GBK", "GB-18030",
// "Shift_JIS" or "latin1" to a Codec. Names are matched case-insensitively
// against the WHATWG index first and the IANA registry second.
func Lookup(name string) (*Codec, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", "-")
	switch n {
	case "":
		return nil, fmt.Errorf("%w: empty name", ErrUnknownEncoding)
	case "utf-8", "utf8":
		return UTF8(), nil
	case "utf-8-sig", "utf8-sig", "utf-8-bom":
		return &Codec{name: "utf-8-sig", kind: kindUTF8BOM}, nil
	case "ascii", "us-ascii", "646":
		return &Codec{name: "ascii", kind: kindASCII}, nil
	}

	enc, err := resolve(n)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
	if enc == unicode.UTF8 {
		return UTF8(), nil
	}

	nl, err := enc.NewEncoder().Bytes([]byte{'\n'})
	if err != nil || !bytes.Equal(nl, []byte{'\n'}) {
		return nil, fmt.Errorf("%w: %q", ErrNotLineFramed, name)
	}

	canonical := n
	if hn, err := htmlindex.Name(enc); err == nil {
		canonical = hn
	}
	return &Codec{name: canonical, kind: kindTable, enc: enc}, nil
}

// resolve tries the WHATWG index, the IANA registry, and finally both again
// with hyphens removed ("gb-18030" -> "gb18030").
func resolve(n string) (encoding.Encoding, error) {
	candidates := []string{n}
	if stripped := strings.ReplaceAll(n, "-", ""); stripped != n {
		candidates = append(candidates, stripped)
	}
	for _, c := range candidates {
		if enc, err := htmlindex.Get(c); err == nil && enc != nil {
			return enc, nil
		}
		if enc, err := ianaindex.IANA.Encoding(c); err == nil && enc != nil {
			return enc, nil
		}
	}
	return nil, ErrUnknownEncoding
}

// Encode converts UTF-8 text to the codec's encoding. Characters the
// encoding cannot represent are an error.
func (c *Codec) Encode(text string) ([]byte, error) {
	switch c.kind {
	case kindUTF8:
		return []byte(text), nil
	case kindUTF8BOM:
		out := make([]byte, 0, len(utf8BOM)+len(text))
		out = append(out, utf8BOM...)
		return append(out, text...), nil
	case kindASCII:
		for i := 0; i < len(text); i++ {
			if text[i] >= utf8.RuneSelf {
				r, _ := utf8.DecodeRuneInString(text[i:])
				return nil, fmt.Errorf("charset: encode ascii: %q at byte %d: %w", r, i, errNonASCII)
			}
		}
		return []byte(text), nil
	}
	out, err := c.enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("charset: encode %s: %w", c.name, err)
	}
	return out, nil
}

// DecodeError reports bytes that are not valid in the resolved encoding.
//
// Offset is an absolute file offset once the error has passed through the
// scanner. For UTF-8 and ASCII it points at the offending byte; for table
// encodings it points at the first byte of the line holding it.
type DecodeError struct {
	Encoding string
	Offset   int64
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at offset %d: %v", e.Encoding, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder converts line bytes to UTF-8 using reusable scratch space. A
// Decoder is not safe for concurrent use.
type Decoder struct {
	c   *Codec
	dec *encoding.Decoder
	buf []byte
}

// NewDecoder returns a Decoder bound to c.
func (c *Codec) NewDecoder() *Decoder {
	d := &Decoder{c: c}
	if c.kind == kindTable {
		d.dec = c.enc.NewDecoder()
	}
	return d
}

// Decode decodes line as the first line of a file. See DecodeAt.
func (d *Decoder) Decode(line []byte) ([]byte, error) {
	return d.DecodeAt(line, 0)
}

// DecodeAt returns the UTF-8 form of line, which starts at file offset
// offset. The result may alias line or the decoder's scratch buffer and is
// only valid until the next call. Invalid input yields a *DecodeError whose
// Offset is relative to the start of line.
//
// A utf-8-sig BOM is only a signature at offset 0; anywhere else U+FEFF is
// text.
func (d *Decoder) DecodeAt(line []byte, offset int64) ([]byte, error) {
	switch d.c.kind {
	case kindUTF8:
		if i := invalidUTF8(line); i >= 0 {
			return nil, &DecodeError{Encoding: d.c.name, Offset: int64(i), Err: errInvalidSequence}
		}
		return line, nil
	case kindUTF8BOM:
		body := line
		if offset == 0 {
			body = bytes.TrimPrefix(line, utf8BOM)
		}
		if i := invalidUTF8(body); i >= 0 {
			return nil, &DecodeError{Encoding: d.c.name, Offset: int64(i + len(line) - len(body)), Err: errInvalidSequence}
		}
		return body, nil
	case kindASCII:
		for i, b := range line {
			if b >= utf8.RuneSelf {
				return nil, &DecodeError{Encoding: d.c.name, Offset: int64(i), Err: errNonASCII}
			}
		}
		return line, nil
	}

	out, err := d.transform(line)
	if err != nil {
		return nil, &DecodeError{Encoding: d.c.name, Err: err}
	}
	// x/text table decoders substitute U+FFFD for invalid input instead of
	// failing. A replacement rune only counts as genuine text when the line
	// round-trips through the encoder unchanged.
	if bytes.ContainsRune(out, utf8.RuneError) {
		back, err := d.c.enc.NewEncoder().Bytes(out)
		if err != nil || !bytes.Equal(back, line) {
			return nil, &DecodeError{Encoding: d.c.name, Err: errInvalidSequence}
		}
	}
	return out, nil
}

func (d *Decoder) transform(src []byte) ([]byte, error) {
	d.dec.Reset()
	if need := 3*len(src) + utf8.UTFMax; cap(d.buf) < need {
		d.buf = make([]byte, need)
	}
	dst := d.buf[:cap(d.buf)]
	nDst := 0
	for {
		n, nSrc, err := d.dec.Transform(dst[nDst:], src, true)
		nDst += n
		src = src[nSrc:]
		if err == transform.ErrShortDst {
			grown := make([]byte, 2*len(dst)+utf8.UTFMax)
			copy(grown, dst[:nDst])
			dst = grown
			continue
		}
		d.buf = dst
		if err != nil {
			return nil, err
		}
		return dst[:nDst], nil
	}
}

// invalidUTF8 returns the index of the first byte that does not start a
// valid UTF-8 sequence, or -1.
func invalidUTF8(b []byte) int {
	if utf8.Valid(b) {
		return -1
	}
	for i := 0; i < len(b); {
		if b[i] < utf8.RuneSelf {
			i++
			continue
		}
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return -1
}
