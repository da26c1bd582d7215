package scan

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"charfreq/internal/charset"
	"charfreq/internal/freq"
	"charfreq/internal/partition"
)

func mustCodec(t testing.TB, name string) *charset.Codec {
	t.Helper()
	c, err := charset.Lookup(name)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", name, err)
	}
	return c
}

func TestIsSpace(t *testing.T) {
	t.Parallel()

	tests := []struct {
		r    rune
		want bool
	}{
		{' ', true},
		{'\t', true},
		{'\n', true},
		{'\r', true},
		{'\v', true},
		{'\f', true},
		{0x1c, true},
		{0x1d, true},
		{0x1e, true},
		{0x1f, true},
		{0x85, true},
		{0xa0, true},
		{0x3000, true},
		{0x2028, true},
		{'a', false},
		{'你', false},
		{0x1b, false},
		{0x200b, false},
	}
	for _, tt := range tests {
		if got := IsSpace(tt.r); got != tt.want {
			t.Errorf("IsSpace(%U) = %v, want %v", tt.r, got, tt.want)
		}
	}
}

func TestTokenizer_Line(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		norm Normalization
		want freq.Map
	}{
		{name: "ascii", in: "a b\tc a\n", want: freq.Map{'a': 2, 'b': 1, 'c': 1}},
		{name: "cjk with ideographic space", in: "你　我 你\r\n", want: freq.Map{'你': 2, '我': 1}},
		{name: "separators dropped", in: "x\x1cy\x1fz", want: freq.Map{'x': 1, 'y': 1, 'z': 1}},
		{name: "only whitespace", in: " \t\n", want: freq.Map{}},
		{name: "combining kept apart", in: "e\u0301", want: freq.Map{'e': 1, 0x301: 1}},
		{name: "nfc composes", in: "e\u0301", norm: NormNFC, want: freq.Map{'\u00e9': 1}},
		{name: "nfkc folds width", in: "ＡＡ", norm: NormNFKC, want: freq.Map{'A': 2}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tok := NewTokenizer(charset.UTF8(), tt.norm)
			if err := tok.Line([]byte(tt.in), 0); err != nil {
				t.Fatalf("Line() error = %v", err)
			}
			if got := tok.Counts(); !freq.Equal(got, tt.want) {
				t.Fatalf("Counts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTokenizer_CountsIdempotent(t *testing.T) {
	tok := NewTokenizer(charset.UTF8(), NormNone)
	_ = tok.Line([]byte("aab"), 0)
	first := freq.Merge(tok.Counts())
	if got := tok.Counts(); !freq.Equal(got, first) {
		t.Fatalf("second Counts() = %v, want %v", got, first)
	}
}

func TestTokenizer_DecodeErrorOffset(t *testing.T) {
	tok := NewTokenizer(charset.UTF8(), NormNone)
	err := tok.Line([]byte("ab\xffc\n"), 100)

	var de *charset.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Line() error = %v, want *charset.DecodeError", err)
	}
	if de.Offset != 102 {
		t.Fatalf("Offset = %d, want 102", de.Offset)
	}
}

func TestParseNormalization(t *testing.T) {
	for in, want := range map[string]Normalization{"": NormNone, "NFC": NormNFC, " nfkd ": NormNFKD} {
		got, err := ParseNormalization(in)
		if err != nil || got != want {
			t.Fatalf("ParseNormalization(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseNormalization("nfx"); err == nil {
		t.Fatal("expected error for unknown form")
	}
}

func TestLineReader(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("x", 100)
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{name: "empty", in: "", want: nil},
		{name: "no trailing newline", in: "a\nb", want: []string{"a\n", "b"}},
		{name: "blank lines", in: "\n\n", want: []string{"\n", "\n"}},
		{name: "line longer than buffer", in: long + "\n" + long, want: []string{long + "\n", long}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			lr := newLineReader(strings.NewReader(tt.in), 16)
			var got []string
			for {
				line, err := lr.next()
				if err == io.EOF {
					break
				}
				if err != nil {
					t.Fatal(err)
				}
				got = append(got, string(line))
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Fatalf("lines = %q, want %q", got, tt.want)
			}
		})
	}
}

func sampleText() []byte {
	var b bytes.Buffer
	lines := []string{"你好 世界", "", "hello world", "她她她", "a", strings.Repeat("长", 40), "tab\tsep", "末"}
	for i := 0; i < 50; i++ {
		b.WriteString(lines[i%len(lines)])
		b.WriteByte('\n')
	}
	b.WriteString("no newline at end 它")
	return b.Bytes()
}

// TestCountRange_PartitionsSumToWhole is the worker-count invariance check at
// the scan level: merging every partition's counts must equal a single pass.
func TestCountRange_PartitionsSumToWhole(t *testing.T) {
	data := sampleText()
	size := int64(len(data))
	want, err := CountBytes(data, charset.UTF8(), Options{})
	if err != nil {
		t.Fatal(err)
	}

	for _, n := range []int{1, 2, 3, 7, 16, 64, len(data), len(data) + 5} {
		for _, bufSize := range []int{16, 0} {
			var parts []freq.Map
			for _, p := range partition.Split(size, n) {
				m, err := CountRange(context.Background(), bytes.NewReader(data), size, p, charset.UTF8(), Options{BufSize: bufSize})
				if err != nil {
					t.Fatalf("n=%d %s: %v", n, p, err)
				}
				parts = append(parts, m)
			}
			if got := freq.Merge(parts...); !freq.Equal(got, want) {
				t.Fatalf("n=%d buf=%d: merged %v, want %v", n, bufSize, got, want)
			}
		}
	}
}

func TestCountRange_TableEncoding(t *testing.T) {
	gbk := mustCodec(t, "gbk")
	text := "你我他\n她它\n你你\n"
	data, err := gbk.Encode(text)
	if err != nil {
		t.Fatal(err)
	}
	size := int64(len(data))

	var parts []freq.Map
	for _, p := range partition.Split(size, 4) {
		m, err := CountRange(context.Background(), bytes.NewReader(data), size, p, gbk, Options{})
		if err != nil {
			t.Fatal(err)
		}
		parts = append(parts, m)
	}
	want := freq.Map{'你': 3, '我': 1, '他': 1, '她': 1, '它': 1}
	if got := freq.Merge(parts...); !freq.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCountRange_DecodeErrorIsAbsolute(t *testing.T) {
	data := []byte("ok\nfine\nbad\xfe!\n")
	size := int64(len(data))
	p := partition.Partition{Index: 1, Start: 4, End: size}

	_, err := CountRange(context.Background(), bytes.NewReader(data), size, p, charset.UTF8(), Options{})
	var de *charset.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("error = %v, want *charset.DecodeError", err)
	}
	if de.Offset != 11 {
		t.Fatalf("Offset = %d, want 11", de.Offset)
	}
}

type recordingReporter struct {
	updates []int64
	done    bool
}

func (r *recordingReporter) Update(n int64) { r.updates = append(r.updates, n) }
func (r *recordingReporter) Finish()        { r.done = true }

func TestCountReader_ProgressAndTotals(t *testing.T) {
	data := bytes.Repeat([]byte("ab\n"), 3000)
	rep := &recordingReporter{}

	got, err := CountReader(context.Background(), bytes.NewReader(data), int64(len(data)), charset.UTF8(), Options{Progress: rep})
	if err != nil {
		t.Fatal(err)
	}
	if want := (freq.Map{'a': 3000, 'b': 3000}); !freq.Equal(got, want) {
		t.Fatalf("counts = %v, want %v", got, want)
	}
	if len(rep.updates) < 2 {
		t.Fatalf("expected periodic updates, got %v", rep.updates)
	}
	if last := rep.updates[len(rep.updates)-1]; last != int64(len(data)) {
		t.Fatalf("last update = %d, want %d", last, len(data))
	}
}

func TestCountReader_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	data := bytes.Repeat([]byte("x\n"), 2*checkEvery)

	_, err := CountReader(ctx, bytes.NewReader(data), int64(len(data)), charset.UTF8(), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

func TestCountReader_ReadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := CountReader(context.Background(), errReader{boom}, 10, charset.UTF8(), Options{})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want %v", err, boom)
	}
}

func TestCountFile(t *testing.T) {
	data := sampleText()
	path := filepath.Join(t.TempDir(), "in.txt")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	size := int64(len(data))
	want, _ := CountBytes(data, charset.UTF8(), Options{})

	var parts []freq.Map
	for _, p := range partition.Split(size, 5) {
		m, err := CountFile(context.Background(), path, size, p, charset.UTF8(), Options{})
		if err != nil {
			t.Fatal(err)
		}
		parts = append(parts, m)
	}
	if got := freq.Merge(parts...); !freq.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCountFile_EmptyPartitionSkipsOpen(t *testing.T) {
	m, err := CountFile(context.Background(), "/does/not/exist", 10, partition.Partition{Start: 5, End: 5}, charset.UTF8(), Options{})
	if err != nil || len(m) != 0 {
		t.Fatalf("CountFile(empty) = %v, %v", m, err)
	}
}

func BenchmarkCountBytes(b *testing.B) {
	data := bytes.Repeat(sampleText(), 200)
	b.SetBytes(int64(len(data)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := CountBytes(data, charset.UTF8(), Options{}); err != nil {
			b.Fatal(err)
		}
	}
}
