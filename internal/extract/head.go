package extract

import (
	"bytes"
	"errors"
	"fmt"
)

const (
	headOpen  = "<head"
	headClose = "</head>"
)

// ErrHeadTooLarge is returned when the buffered page exceeds the scanner limit
// before the head closes.
var ErrHeadTooLarge = errors.New("head exceeds byte limit")

// HeadScanner accumulates streamed page bytes until a complete </head> tag is
// buffered. Matching is ASCII case-insensitive.
type HeadScanner struct {
	buf   []byte
	lower []byte
	limit int
	end   int
}

// NewHeadScanner creates a scanner. A limit <= 0 disables the byte cap.
func NewHeadScanner(limit int) *HeadScanner {
	return &HeadScanner{limit: limit, end: -1}
}

// Append adds the next chunk and reports whether the head is now complete.
// Chunks appended after completion are ignored.
func (s *HeadScanner) Append(chunk []byte) (bool, error) {
	if s.end >= 0 {
		return true, nil
	}
	// Re-scan the tail of the previous buffer so a tag split across chunks is found.
	from := len(s.lower) - len(headClose) + 1
	if from < 0 {
		from = 0
	}
	s.buf = append(s.buf, chunk...)
	s.lower = append(s.lower, asciiLower(chunk)...)
	if idx := indexFrom(s.lower, headClose, from); idx >= 0 {
		s.end = idx + len(headClose)
		return true, nil
	}
	if s.limit > 0 && len(s.buf) > s.limit {
		return false, fmt.Errorf("%w: %d bytes buffered", ErrHeadTooLarge, len(s.buf))
	}
	return false, nil
}

// Done reports whether a complete head has been buffered.
func (s *HeadScanner) Done() bool {
	return s.end >= 0
}

// Buffered returns the number of bytes consumed so far.
func (s *HeadScanner) Buffered() int {
	return len(s.buf)
}

// Fragment returns the head fragment, from the <head> open tag (or the start
// of the buffer when there is none) through the first </head>.
func (s *HeadScanner) Fragment() string {
	if s.end < 0 {
		return ""
	}
	start := headStart(s.lower[:s.end])
	return string(s.buf[start:s.end])
}

// HeadFragment is the one-shot form of HeadScanner for an already buffered page.
func HeadFragment(page string) (string, bool) {
	s := NewHeadScanner(0)
	if done, _ := s.Append([]byte(page)); !done {
		return "", false
	}
	return s.Fragment(), true
}

// headStart finds "<head" followed by '>', '/', or whitespace, so <header> is not matched.
func headStart(lower []byte) int {
	from := 0
	for {
		idx := indexFrom(lower, headOpen, from)
		if idx < 0 {
			return 0
		}
		next := idx + len(headOpen)
		if next < len(lower) {
			switch lower[next] {
			case '>', '/', ' ', '\t', '\n', '\r', '\f':
				return idx
			}
		}
		from = next
	}
}

func indexFrom(b []byte, sub string, from int) int {
	if from >= len(b) {
		return -1
	}
	idx := bytes.Index(b[from:], []byte(sub))
	if idx < 0 {
		return -1
	}
	return from + idx
}

func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
