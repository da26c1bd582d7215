// Package partition splits a file into contiguous byte ranges, one per
// worker, and moves each range's start to a line boundary.
//
// Ownership rule: after alignment a partition owns exactly the lines whose
// first byte lies in [Start, End). A line may run past End; the next
// partition's aligned start skips it. Every line of the file is therefore
// owned by exactly one partition, whatever the worker count.
package partition

import (
	"bytes"
	"fmt"
	"io"
)

// scanBufSize is the read size used while looking for the next newline.
const scanBufSize = 32 << 10 // 32 KiB

// Partition is a half-open byte interval [Start, End) assigned to one worker.
type Partition struct {
	Index int
	Start int64
	End   int64
	// First marks the partition beginning at byte 0. Only it reports
	// progress.
	First bool
}

// Len returns the number of bytes in the partition.
func (p Partition) Len() int64 {
	if p.End <= p.Start {
		return 0
	}
	return p.End - p.Start
}

// Empty reports whether the partition owns no bytes.
func (p Partition) Empty() bool { return p.Start >= p.End }

func (p Partition) String() string {
	return fmt.Sprintf("partition %d [%d,%d)", p.Index, p.Start, p.End)
}

// Split divides [0, size) into n nearly equal ranges using floor division:
// start = size*i/n, end = size*(i+1)/n. Boundaries never decrease and the
// last End equals size. n <= 0 is treated as 1. When n exceeds size some
// ranges are empty; they are still returned so the result always has n
// entries.
func Split(size int64, n int) []Partition {
	if n <= 0 {
		n = 1
	}
	if size < 0 {
		size = 0
	}
	parts := make([]Partition, n)
	nn := int64(n)
	for i := 0; i < n; i++ {
		ii := int64(i)
		parts[i] = Partition{
			Index: i,
			Start: mulDiv(size, ii, nn),
			End:   mulDiv(size, ii+1, nn),
			First: i == 0,
		}
	}
	return parts
}

// mulDiv returns size*i/n without overflowing for files near the int64
// limit.
func mulDiv(size, i, n int64) int64 {
	q, r := size/n, size%n
	return q*i + r*i/n
}

// Align returns p with Start moved to the byte after the first '\n' found at
// or after p.Start-1. The first partition (Start == 0) is returned as is, as
// is an empty partition.
//
// The scan is bounded by size. When no newline exists between p.Start-1 and
// the end of the file the remainder belongs to a line started by an earlier
// partition, so the aligned Start becomes size and the partition owns
// nothing.
func Align(r io.ReaderAt, size int64, p Partition) (Partition, error) {
	if p.Start <= 0 || p.Empty() {
		return p, nil
	}
	start, err := nextLineStart(r, size, p.Start-1)
	if err != nil {
		return p, fmt.Errorf("align %s: %w", p, err)
	}
	p.Start = start
	return p, nil
}

// nextLineStart returns the offset right after the first '\n' at or after
// pos, or size when there is none.
func nextLineStart(r io.ReaderAt, size, pos int64) (int64, error) {
	buf := make([]byte, scanBufSize)
	for pos < size {
		want := int64(len(buf))
		if rem := size - pos; rem < want {
			want = rem
		}
		n, err := r.ReadAt(buf[:want], pos)
		if i := bytes.IndexByte(buf[:n], '\n'); i >= 0 {
			return pos + int64(i) + 1, nil
		}
		pos += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, io.ErrNoProgress
		}
	}
	return size, nil
}
