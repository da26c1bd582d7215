package scan

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"charfreq/internal/charset"
	"charfreq/internal/freq"
	"charfreq/internal/partition"
	"charfreq/internal/progress"
)

const (
	// defaultBufSize is the per-worker read buffer.
	defaultBufSize = 256 << 10 // 256 KiB

	// checkEvery is how many lines a worker processes between context checks
	// and progress updates.
	checkEvery = 1024
)

// Options tunes a scan. The zero value is usable.
type Options struct {
	Normalize Normalization
	// Progress receives byte counts relative to the scanned range. nil
	// disables reporting.
	Progress progress.Reporter
	BufSize  int
}

func (o Options) bufSize() int {
	if o.BufSize > 0 {
		return o.BufSize
	}
	return defaultBufSize
}

func (o Options) reporter() progress.Reporter {
	if o.Progress == nil {
		return progress.Nop
	}
	return o.Progress
}

// lineReader yields lines including their '\n' terminator. The final line of
// the input may lack one. Lines longer than the bufio buffer are stitched
// together in carry.
type lineReader struct {
	br    *bufio.Reader
	carry []byte
}

func newLineReader(r io.Reader, size int) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, size)}
}

// next returns the next line or io.EOF once no bytes remain. The slice is
// only valid until the following call.
func (lr *lineReader) next() ([]byte, error) {
	lr.carry = lr.carry[:0]
	for {
		chunk, err := lr.br.ReadSlice('\n')
		switch err {
		case nil:
			if len(lr.carry) == 0 {
				return chunk, nil
			}
			lr.carry = append(lr.carry, chunk...)
			return lr.carry, nil
		case bufio.ErrBufferFull:
			lr.carry = append(lr.carry, chunk...)
		case io.EOF:
			if len(lr.carry) == 0 {
				if len(chunk) == 0 {
					return nil, io.EOF
				}
				return chunk, nil
			}
			lr.carry = append(lr.carry, chunk...)
			return lr.carry, nil
		default:
			return nil, err
		}
	}
}

// CountRange counts the lines of r owned by partition p: it aligns p's start
// to a line boundary, then reads whole lines while the read position is
// below p.End. The last line read may extend past p.End.
func CountRange(
	ctx context.Context,
	r io.ReaderAt,
	size int64,
	p partition.Partition,
	codec *charset.Codec,
	opts Options,
) (freq.Map, error) {
	ap, err := partition.Align(r, size, p)
	if err != nil {
		return nil, err
	}
	tok := NewTokenizer(codec, opts.Normalize)
	if ap.Empty() {
		return tok.Counts(), nil
	}

	rep := opts.reporter()
	lr := newLineReader(io.NewSectionReader(r, ap.Start, size-ap.Start), opts.bufSize())
	pos := ap.Start
	for lines := 1; pos < ap.End; lines++ {
		line, err := lr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s at offset %d: %w", p, pos, err)
		}
		if err := tok.Line(line, pos); err != nil {
			return nil, err
		}
		pos += int64(len(line))

		if lines%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rep.Update(pos - p.Start)
		}
	}
	rep.Update(p.Len())
	return tok.Counts(), nil
}

// CountFile opens path with its own read-only handle and runs CountRange
// over it. Every parallel worker goes through here, so no file offset is
// ever shared.
func CountFile(
	ctx context.Context,
	path string,
	size int64,
	p partition.Partition,
	codec *charset.Codec,
	opts Options,
) (freq.Map, error) {
	if p.Empty() {
		return freq.New(0), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	adviseSequential(f, p.Start, p.Len())
	return CountRange(ctx, f, size, p, codec, opts)
}

// CountReader counts every line of r sequentially. total is only used for
// progress reporting.
func CountReader(ctx context.Context, r io.Reader, total int64, codec *charset.Codec, opts Options) (freq.Map, error) {
	tok := NewTokenizer(codec, opts.Normalize)
	rep := opts.reporter()
	lr := newLineReader(r, opts.bufSize())

	var pos int64
	for lines := 1; ; lines++ {
		line, err := lr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read at offset %d: %w", pos, err)
		}
		if err := tok.Line(line, pos); err != nil {
			return nil, err
		}
		pos += int64(len(line))

		if lines%checkEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rep.Update(pos)
		}
	}
	rep.Update(total)
	return tok.Counts(), nil
}

// CountBytes counts data in one pass with no line splitting.
func CountBytes(data []byte, codec *charset.Codec, opts Options) (freq.Map, error) {
	tok := NewTokenizer(codec, opts.Normalize)
	if err := tok.Line(data, 0); err != nil {
		return nil, err
	}
	return tok.Counts(), nil
}
