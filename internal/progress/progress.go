// Package progress renders a single-line progress indicator for long scans.
//
// Counting code only sees the Reporter interface; whether anything is drawn
// is decided by the caller that builds the Factory.
package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Reporter receives the number of bytes processed so far.
type Reporter interface {
	Update(done int64)
	Finish()
}

// Factory creates a Reporter for a scan of total bytes.
type Factory func(label string, total int64) Reporter

type nop struct{}

func (nop) Update(int64) {}
func (nop) Finish()      {}

// Nop is a Reporter that does nothing.
var Nop Reporter = nop{}

// NopFactory always returns Nop.
func NopFactory(string, int64) Reporter { return Nop }

const (
	barWidth     = 30
	redrawPeriod = 100 * time.Millisecond

	hideCursor = "\033[?25l"
	showCursor = "\033[?25h"
)

// Bar draws "label [#####     ]  42.0%  1.2 MB/2.9 MB  3.1s" on one line,
// redrawing in place with a carriage return.
type Bar struct {
	mu      sync.Mutex
	w       io.Writer
	label   string
	total   int64
	start   time.Time
	last    time.Time
	nowFn   func() time.Time
	started bool
	done    bool
}

// NewBar returns a Bar writing to w.
func NewBar(w io.Writer, label string, total int64) *Bar {
	return &Bar{w: w, label: label, total: total, nowFn: time.Now}
}

// BarFactory returns a Factory that draws Bars on w.
func BarFactory(w io.Writer) Factory {
	return func(label string, total int64) Reporter {
		return NewBar(w, label, total)
	}
}

// Update redraws the bar at most once per redraw period. A value reaching
// the total always draws.
func (b *Bar) Update(done int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	now := b.nowFn()
	if !b.started {
		b.started = true
		b.start = now
		fmt.Fprint(b.w, hideCursor)
	} else if now.Sub(b.last) < redrawPeriod && done < b.total {
		return
	}
	b.last = now
	b.draw(done, now)
}

// Finish draws the final state and restores the cursor.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return
	}
	b.done = true
	now := b.nowFn()
	if !b.started {
		b.start = now
	}
	b.draw(b.total, now)
	fmt.Fprint(b.w, "\n"+showCursor)
}

func (b *Bar) draw(done int64, now time.Time) {
	fmt.Fprint(b.w, "\r"+Line(b.label, done, b.total, now.Sub(b.start)))
}

// Line formats one progress line without control characters.
func Line(label string, done, total int64, elapsed time.Duration) string {
	if done > total {
		done = total
	}
	pct := 100.0
	if total > 0 {
		pct = float64(done) * 100 / float64(total)
	}
	filled := int(pct / 100 * barWidth)
	bar := strings.Repeat("#", filled) + strings.Repeat(" ", barWidth-filled)
	return fmt.Sprintf("%s [%s] %5.1f%%  %s/%s  %.1fs",
		label, bar, pct,
		humanize.Bytes(uint64(done)), humanize.Bytes(uint64(total)),
		elapsed.Seconds())
}
