package charset

import (
	"fmt"
	"unicode/utf8"

	"github.com/saintfish/chardet"
)

// Detector names the encoding of a byte sample. Implementations return
// ErrUndetermined (possibly wrapped) when they cannot decide.
type Detector interface {
	Detect(sample []byte) (string, error)
}

// DetectorFunc adapts a plain function to the Detector interface.
type DetectorFunc func(sample []byte) (string, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(sample []byte) (string, error) { return f(sample) }

// minConfidence is the lowest chardet confidence accepted as an answer.
const minConfidence = 10

// ChardetDetector is the default Detector. Samples that are valid UTF-8 are
// reported as "utf-8" without consulting chardet; everything else goes to
// chardet's text detector.
type ChardetDetector struct {
	d *chardet.Detector
}

// NewDetector returns a ChardetDetector.
func NewDetector() *ChardetDetector {
	return &ChardetDetector{d: chardet.NewTextDetector()}
}

// Detect implements Detector.
func (c *ChardetDetector) Detect(sample []byte) (string, error) {
	if len(sample) == 0 {
		return "", fmt.Errorf("%w: empty sample", ErrUndetermined)
	}
	if utf8.Valid(trimPartialRune(sample)) {
		return "utf-8", nil
	}
	res, err := c.d.DetectBest(sample)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUndetermined, err)
	}
	if res == nil || res.Charset == "" || res.Confidence < minConfidence {
		return "", ErrUndetermined
	}
	return res.Charset, nil
}

// trimPartialRune drops an incomplete UTF-8 sequence cut off at the end of a
// fixed-size sample.
func trimPartialRune(b []byte) []byte {
	for i := 1; i < utf8.UTFMax && i <= len(b); i++ {
		c := b[len(b)-i]
		if c < utf8.RuneSelf {
			return b
		}
		if utf8.RuneStart(c) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}
			return b
		}
	}
	return b
}
