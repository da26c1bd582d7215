// Package report renders a frequency table and writes it out.
package report

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"charfreq/internal/charset"
	"charfreq/internal/freq"
)

// Render formats m as "<token>: <count>" lines, highest count first, ties
// broken by ascending code point. Lines are joined by "\n" with no trailing
// newline; an empty map renders as "".
func Render(m freq.Map) string {
	entries := m.Entries()
	var b strings.Builder
	b.Grow(len(entries) * 12)
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteRune(e.Token)
		b.WriteString(": ")
		b.WriteString(strconv.FormatInt(e.Count, 10))
	}
	return b.String()
}

// Write delivers text. With a path it creates or truncates the file and
// writes text encoded with codec; a character the encoding cannot represent
// fails the write. Without a path it prints text and a newline to stdout as
// UTF-8.
func Write(text, path string, codec *charset.Codec, stdout io.Writer) error {
	if path == "" {
		if stdout == nil {
			stdout = os.Stdout
		}
		if _, err := io.WriteString(stdout, text+"\n"); err != nil {
			return fmt.Errorf("report: write stdout: %w", err)
		}
		return nil
	}

	if codec == nil {
		codec = charset.UTF8()
	}
	data, err := codec.Encode(text)
	if err != nil {
		return fmt.Errorf("report: %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return nil
}
