package counter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"charfreq/internal/charset"
	"charfreq/internal/freq"
	"charfreq/internal/partition"
	"charfreq/internal/scan"
)

func writeTemp(t *testing.T, data []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

// quiet returns options that write nothing to the test output.
func quiet(path string, workers int) (Options, *bytes.Buffer) {
	var out bytes.Buffer
	return Options{
		Source:  path,
		Workers: workers,
		Logger:  log.New(io.Discard, "", 0),
		Stdout:  &out,
	}, &out
}

func run(t *testing.T, opts Options) *Result {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	res, err := c.Run(context.Background())
	require.NoError(t, err)
	return res
}

// fiveChars builds a shuffled text holding 她×50000, 你×20000, 他×6666,
// 我×3000 and 它×1, broken into lines and sprinkled with whitespace.
func fiveChars() []byte {
	var runes []rune
	for _, tc := range []struct {
		r rune
		n int
	}{{'她', 50000}, {'你', 20000}, {'他', 6666}, {'我', 3000}, {'它', 1}} {
		for i := 0; i < tc.n; i++ {
			runes = append(runes, tc.r)
		}
	}
	rng := rand.New(rand.NewPCG(1, 2))
	rng.Shuffle(len(runes), func(i, j int) { runes[i], runes[j] = runes[j], runes[i] })

	var b strings.Builder
	for i, r := range runes {
		b.WriteRune(r)
		switch {
		case i%53 == 52:
			b.WriteString("\r\n")
		case i%11 == 10:
			b.WriteString("　")
		case i%7 == 6:
			b.WriteByte(' ')
		}
	}
	return []byte(b.String())
}

func TestRun_FiveCharacterScenario(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, fiveChars())
	const want = "她: 50000\n你: 20000\n他: 6666\n我: 3000\n它: 1"

	for _, workers := range []int{0, 1, 2, 8, 33} {
		workers := workers
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()
			opts, out := quiet(path, workers)
			res := run(t, opts)

			require.Equal(t, want, res.Text)
			require.Equal(t, want+"\n", out.String())
			require.Equal(t, int64(79667), res.Counts.Total())
			require.Equal(t, ModeFor(workers), res.Mode)
			require.Equal(t, "utf-8", res.Encoding)
		})
	}
}

// fiveCharLines builds the five-character file line by line: each character
// followed by '\n', repeated count times, with the groups joined by "\n".
func fiveCharLines() []byte {
	groups := []string{
		strings.Repeat("你\n", 20000),
		strings.Repeat("我\n", 3000),
		strings.Repeat("它\n", 1),
		strings.Repeat("她\n", 50000),
		strings.Repeat("他\n", 6666),
	}
	return []byte(strings.Join(groups, "\n"))
}

func TestRun_FiveCharacterLines(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, fiveCharLines())
	const want = "她: 50000\n你: 20000\n他: 6666\n我: 3000\n它: 1"

	for _, workers := range []int{0, 1, 7} {
		workers := workers
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			t.Parallel()
			opts, _ := quiet(path, workers)
			opts.Encoding = "utf-8"
			res := run(t, opts)

			require.Equal(t, want, res.Text)
			require.Equal(t, int64(79667), res.Counts.Total())
		})
	}
}

func mixedText() []byte {
	var b bytes.Buffer
	lines := []string{
		"The quick brown fox 跳过 the lazy dog.",
		"",
		"混合 text\twith tabs",
		"   leading spaces",
		"emoji 😀😀 and more",
		strings.Repeat("长行", 300),
		"\x1c\x1d\x1e\x1f separators",
		"last",
	}
	for i := 0; i < 400; i++ {
		b.WriteString(lines[i%len(lines)])
		b.WriteByte('\n')
	}
	b.WriteString("trailing line without newline")
	return b.Bytes()
}

func TestRun_WorkerCountInvariance(t *testing.T) {
	t.Parallel()

	data := mixedText()
	path := writeTemp(t, data)

	opts, _ := quiet(path, 0)
	base := run(t, opts)
	require.NotEmpty(t, base.Counts)
	require.NotContains(t, base.Counts, ' ')
	require.NotContains(t, base.Counts, '\n')
	require.NotContains(t, base.Counts, rune(0x1c))

	for _, workers := range []int{1, 2, 3, 8, 64} {
		opts, _ := quiet(path, workers)
		res := run(t, opts)
		require.Truef(t, freq.Equal(base.Counts, res.Counts), "workers=%d: counts differ", workers)
		require.Equal(t, base.Fingerprint, res.Fingerprint, "workers=%d", workers)
		require.Equal(t, base.Text, res.Text, "workers=%d", workers)
	}
}

func TestRun_WorkerCountInvariance_UTF8Sig(t *testing.T) {
	t.Parallel()

	bom := "\xef\xbb\xbf"
	data := []byte(bom + "ab\n" + bom + "cd\n" + "e" + bom + "f\n" + bom + "\n")
	path := writeTemp(t, data)
	want := freq.Map{'a': 1, 'b': 1, 'c': 1, 'd': 1, 'e': 1, 'f': 1, '\ufeff': 3}

	for _, workers := range []int{0, 1, 2, 3, len(data) + 2} {
		opts, _ := quiet(path, workers)
		opts.Encoding = "utf-8-sig"
		res := run(t, opts)
		require.Truef(t, freq.Equal(want, res.Counts), "workers=%d: got %v, want %v", workers, res.Counts, want)
	}
}

func TestRun_MoreWorkersThanBytes(t *testing.T) {
	t.Parallel()

	data := []byte("ab\ncd\n\n你f\ng")
	path := writeTemp(t, data)

	opts, _ := quiet(path, 0)
	base := run(t, opts)
	opts, _ = quiet(path, len(data)+5)
	res := run(t, opts)
	require.True(t, freq.Equal(base.Counts, res.Counts), "got %v, want %v", res.Counts, base.Counts)
}

func TestRun_TotalConservation(t *testing.T) {
	t.Parallel()

	data := mixedText()
	path := writeTemp(t, data)

	var nonSpace int64
	for _, r := range string(data) {
		if !scan.IsSpace(r) {
			nonSpace++
		}
	}
	opts, _ := quiet(path, 4)
	require.Equal(t, nonSpace, run(t, opts).Counts.Total())
}

func TestRun_EmptyFile(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, nil)
	for _, workers := range []int{0, 1, 4} {
		opts, out := quiet(path, workers)
		opts.Detector = charset.DetectorFunc(func([]byte) (string, error) {
			return "", errors.New("detector must not run for an empty file")
		})
		res := run(t, opts)
		require.Empty(t, res.Counts)
		require.Equal(t, "", res.Text)
		require.Equal(t, "\n", out.String())
		require.Equal(t, "utf-8", res.Encoding)
	}
}

func TestNew_NotFound(t *testing.T) {
	t.Parallel()

	detector := charset.DetectorFunc(func([]byte) (string, error) {
		t.Error("detector called for a missing source")
		return "", nil
	})
	for _, path := range []string{
		filepath.Join(t.TempDir(), "missing.txt"),
		t.TempDir(),
		"",
	} {
		for _, workers := range []int{0, 1, 8} {
			_, err := New(Options{Source: path, Workers: workers, Detector: detector, Encoding: ""})
			require.ErrorIs(t, err, ErrNotFound, "path=%q workers=%d", path, workers)
		}
	}
}

func TestRun_DecodeErrorPropagates(t *testing.T) {
	t.Parallel()

	data := append(bytes.Repeat([]byte("good line 好\n"), 200), []byte("bad \xff byte\n")...)
	data = append(data, bytes.Repeat([]byte("more 行\n"), 200)...)
	bad := int64(bytes.IndexByte(data, 0xff))
	path := writeTemp(t, data)

	for _, workers := range []int{0, 1, 2, 7} {
		opts, out := quiet(path, workers)
		opts.Encoding = "utf-8"
		c, err := New(opts)
		require.NoError(t, err)

		res, err := c.Run(context.Background())
		require.Nil(t, res)
		require.Empty(t, out.String(), "nothing is written on failure")

		var de *charset.DecodeError
		require.ErrorAs(t, err, &de, "workers=%d", workers)
		require.Equal(t, bad, de.Offset, "workers=%d", workers)

		var we *WorkerError
		require.ErrorAs(t, err, &we)
		require.Equal(t, ModeFor(workers), we.Mode)
	}
}

func TestRun_OutputFileUsesSourceEncoding(t *testing.T) {
	t.Parallel()

	gbk, err := charset.Lookup("gbk")
	require.NoError(t, err)
	data, err := gbk.Encode(strings.Repeat("你我你\n", 10) + "他")
	require.NoError(t, err)
	path := writeTemp(t, data)
	outPath := filepath.Join(t.TempDir(), "result.txt")

	opts, stdout := quiet(path, 3)
	opts.Output = outPath
	opts.Detector = charset.DetectorFunc(func(sample []byte) (string, error) {
		if !bytes.HasPrefix(data, sample) || len(sample) > charset.SampleSize {
			return "", fmt.Errorf("unexpected sample of %d bytes", len(sample))
		}
		return "GBK", nil
	})
	res := run(t, opts)

	require.Equal(t, "你: 20\n我: 10\n他: 1", res.Text)
	require.Equal(t, "gbk", res.Encoding)
	require.Empty(t, stdout.String())

	got, err := os.ReadFile(outPath)
	require.NoError(t, err)
	want, err := gbk.Encode(res.Text)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestNew_EncodingErrors(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, []byte("abc\n"))

	_, err := New(Options{Source: path, Encoding: "no-such-charset"})
	require.ErrorIs(t, err, charset.ErrUnknownEncoding)

	_, err = New(Options{Source: path, Encoding: "utf-16le"})
	require.ErrorIs(t, err, charset.ErrNotLineFramed)

	_, err = New(Options{Source: path, Detector: charset.DetectorFunc(func([]byte) (string, error) {
		return "", charset.ErrUndetermined
	})})
	require.ErrorIs(t, err, charset.ErrUndetermined)

	_, err = New(Options{Source: path, Normalize: "nfx"})
	require.Error(t, err)
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, []byte("abc\n"))
	c, err := New(Options{Source: path, Workers: -1, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)
	require.Equal(t, DefaultWorkers(), c.Workers())
	require.Equal(t, ModeParallel, c.Mode())
	require.Equal(t, "utf-8", c.Encoding())
	require.Equal(t, int64(4), c.Size())
}

func TestRun_SummaryLine(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, []byte("hello\nworld\n"))
	var logs bytes.Buffer
	opts, _ := quiet(path, 2)
	opts.Logger = log.New(&logs, "", 0)

	run(t, opts)
	re := regexp.MustCompile(`^File size: 12 B\. Workers: 2\. Cost time: \d+\.\d seconds\n$`)
	require.Regexp(t, re, logs.String())
}

func TestRun_Normalization(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, []byte("e\u0301\n\u00e9\n"))
	opts, _ := quiet(path, 2)
	opts.Normalize = "nfc"
	res := run(t, opts)
	require.Equal(t, "\u00e9: 2", res.Text)
}

// The tests below swap countPartition and must not run in parallel.

func TestRun_PanicBecomesWorkerError(t *testing.T) {
	orig := countPartition
	defer func() { countPartition = orig }()
	countPartition = func(ctx context.Context, path string, size int64, p partition.Partition, codec *charset.Codec, opts scan.Options) (freq.Map, error) {
		if p.Index == 1 {
			panic("boom")
		}
		return orig(ctx, path, size, p, codec, opts)
	}

	path := writeTemp(t, mixedText())
	opts, _ := quiet(path, 4)
	c, err := New(opts)
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	var we *WorkerError
	require.ErrorAs(t, err, &we)
	require.Equal(t, 1, we.Partition.Index)
	require.Contains(t, err.Error(), "panic: boom")
}

func TestRun_FirstFailureCancelsOthers(t *testing.T) {
	orig := countPartition
	defer func() { countPartition = orig }()

	boom := errors.New("disk gone")
	var canceled atomic.Int32
	countPartition = func(ctx context.Context, _ string, _ int64, p partition.Partition, _ *charset.Codec, _ scan.Options) (freq.Map, error) {
		if p.Index == 0 {
			return nil, boom
		}
		select {
		case <-ctx.Done():
			canceled.Add(1)
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return freq.New(0), nil
		}
	}

	path := writeTemp(t, mixedText())
	opts, out := quiet(path, 4)
	c, err := New(opts)
	require.NoError(t, err)

	res, err := c.Run(context.Background())
	require.Nil(t, res)
	require.ErrorIs(t, err, boom)
	require.Equal(t, int32(3), canceled.Load())
	require.Empty(t, out.String())
}

func TestRun_MaxOpenCapsConcurrentPartitions(t *testing.T) {
	orig := countPartition
	defer func() { countPartition = orig }()

	var active, peak, calls atomic.Int32
	countPartition = func(ctx context.Context, path string, size int64, p partition.Partition, codec *charset.Codec, opts scan.Options) (freq.Map, error) {
		calls.Add(1)
		n := active.Add(1)
		defer active.Add(-1)
		for {
			cur := peak.Load()
			if n <= cur || peak.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		return orig(ctx, path, size, p, codec, opts)
	}

	data := mixedText()
	path := writeTemp(t, data)
	opts, _ := quiet(path, 0)
	base := run(t, opts)

	opts, _ = quiet(path, 40)
	opts.MaxOpen = 3
	res := run(t, opts)

	require.True(t, freq.Equal(base.Counts, res.Counts))
	require.Equal(t, int32(40), calls.Load())
	require.LessOrEqual(t, peak.Load(), int32(3))
}

func TestRun_NotStartedPartitionsSkipAfterFailure(t *testing.T) {
	orig := countPartition
	defer func() { countPartition = orig }()

	boom := errors.New("disk gone")
	var calls atomic.Int32
	countPartition = func(ctx context.Context, _ string, _ int64, p partition.Partition, _ *charset.Codec, _ scan.Options) (freq.Map, error) {
		calls.Add(1)
		if p.Index == 0 {
			return nil, boom
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	path := writeTemp(t, mixedText())
	opts, _ := quiet(path, 50)
	opts.MaxOpen = 2
	c, err := New(opts)
	require.NoError(t, err)

	_, err = c.Run(context.Background())
	require.ErrorIs(t, err, boom)
	require.LessOrEqual(t, calls.Load(), int32(2))
}

func TestModeFor(t *testing.T) {
	require.Equal(t, ModeDirect, ModeFor(0))
	require.Equal(t, ModeSingle, ModeFor(1))
	require.Equal(t, ModeParallel, ModeFor(2))
	require.Equal(t, "parallel", ModeParallel.String())
	require.Equal(t, "Mode(9)", Mode(9).String())
}

func TestFormatCost(t *testing.T) {
	cases := map[time.Duration]string{
		0:                         "0.0 seconds",
		1500 * time.Millisecond:   "1.5 seconds",
		59 * time.Second:          "59.0 seconds",
		125*time.Second + 400e6:   "2m5s",
		3*time.Hour + time.Second: "3h0m1s",
	}
	for d, want := range cases {
		require.Equal(t, want, FormatCost(d), "FormatCost(%s)", d)
	}
}

func BenchmarkRunParallel(b *testing.B) {
	data := bytes.Repeat(mixedText(), 20)
	p := filepath.Join(b.TempDir(), "bench.txt")
	if err := os.WriteFile(p, data, 0o644); err != nil {
		b.Fatal(err)
	}
	b.SetBytes(int64(len(data)))
	for i := 0; i < b.N; i++ {
		c, err := New(Options{Source: p, Workers: 8, Encoding: "utf-8", Logger: log.New(io.Discard, "", 0), Stdout: io.Discard})
		if err != nil {
			b.Fatal(err)
		}
		if _, err := c.Run(context.Background()); err != nil {
			b.Fatal(err)
		}
	}
}
