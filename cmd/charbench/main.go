// Command charbench times charfreq over generated large files for a range of
// worker counts and appends the result table to a log file.
//
//	charbench -seed 100lines.txt -repeat 2000,10000 -workers 1,2,4,8,16,32
package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"charfreq/internal/counter"
)

const colWidth = 10

func main() {
	var (
		seedPath   string
		varDir     string
		repeatsFlg string
		workersFlg string
		resultPath string
		outputPath string
		verbose    bool
	)
	flag.StringVar(&seedPath, "seed", "100lines.txt", "file repeated to build the benchmark inputs")
	flag.StringVar(&varDir, "var", "var", "directory for generated inputs (reused if present)")
	flag.StringVar(&repeatsFlg, "repeat", "2000,10000", "comma-separated repeat counts of the seed file")
	flag.StringVar(&workersFlg, "workers", "1,2,4,8,16,32", "comma-separated worker counts")
	flag.StringVar(&resultPath, "result", "test_result.txt", "append the table to this file")
	flag.StringVar(&outputPath, "output", "", "write each count result here (default: discard)")
	flag.BoolVar(&verbose, "v", false, "enable verbose logs")
	flag.Parse()

	repeats, err := parseInts(repeatsFlg)
	if err != nil {
		log.Fatalf("-repeat: %v", err)
	}
	workers, err := parseInts(workersFlg)
	if err != nil {
		log.Fatalf("-workers: %v", err)
	}
	seed, err := os.ReadFile(seedPath)
	if err != nil {
		log.Fatalf("read seed: %v", err)
	}

	files, err := generate(varDir, filepath.Base(seedPath), seed, repeats)
	if err != nil {
		log.Fatalf("%v", err)
	}

	logger := log.New(io.Discard, "", 0)
	if verbose {
		logger = log.Default()
	}
	rows, err := measure(context.Background(), files, workers, counter.Options{
		Output: outputPath,
		Logger: logger,
		Stdout: io.Discard,
	})
	if err != nil {
		log.Fatalf("%v", err)
	}

	report := header(time.Now()) + table(workers, rows)
	fmt.Print(report)

	f, err := os.OpenFile(resultPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Fatalf("open %s: %v", resultPath, err)
	}
	defer f.Close()
	if _, err := io.WriteString(f, report); err != nil {
		log.Fatalf("write %s: %v", resultPath, err)
	}
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", part)
		}
		if n < 0 {
			return nil, fmt.Errorf("negative number %d", n)
		}
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty list")
	}
	return out, nil
}

// generate writes seed repeated k times to dir for each k, skipping files
// that already exist, and returns their paths in the order of repeats.
func generate(dir, name string, seed []byte, repeats []int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	paths := make([]string, 0, len(repeats))
	for _, k := range repeats {
		p := filepath.Join(dir, fmt.Sprintf("%s_x%d.txt", stem, k))
		paths = append(paths, p)
		if _, err := os.Stat(p); err == nil {
			continue
		}
		if err := os.WriteFile(p, bytes.Repeat(seed, k), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", p, err)
		}
	}
	return paths, nil
}

// row is one input file and its run time per worker count.
type row struct {
	size  int64
	costs []time.Duration
}

func measure(ctx context.Context, files []string, workers []int, base counter.Options) ([]row, error) {
	rows := make([]row, 0, len(files))
	for _, path := range files {
		r := row{costs: make([]time.Duration, 0, len(workers))}
		for _, w := range workers {
			opts := base
			opts.Source = path
			opts.Workers = w
			c, err := counter.New(opts)
			if err != nil {
				return nil, fmt.Errorf("bench %s: %w", path, err)
			}
			res, err := c.Run(ctx)
			if err != nil {
				return nil, fmt.Errorf("bench %s workers=%d: %w", path, w, err)
			}
			r.size = res.Size
			r.costs = append(r.costs, res.Elapsed)
		}
		rows = append(rows, r)
	}
	return rows, nil
}

func header(now time.Time) string {
	return fmt.Sprintf("%s\ncpu_count = %d, now = %s\n",
		runtime.Version(), runtime.NumCPU(), now.Format("2006-01-02 15:04:05"))
}

// table renders "size 1ps 2ps ..." followed by one line of costs in seconds
// per input file.
func table(workers []int, rows []row) string {
	var b strings.Builder
	b.WriteString(pad("size"))
	for _, w := range workers {
		b.WriteString(pad(fmt.Sprintf("%dps", w)))
	}
	b.WriteByte('\n')
	for _, r := range rows {
		b.WriteString(pad(humanize.Bytes(uint64(r.size))))
		for _, c := range r.costs {
			b.WriteString(pad(fmt.Sprintf("%.2f", c.Seconds())))
		}
		b.WriteByte('\n')
	}
	b.WriteString(strings.Repeat("-", 75))
	b.WriteByte('\n')
	return b.String()
}

func pad(s string) string {
	return fmt.Sprintf("%-*s", colWidth, s)
}
