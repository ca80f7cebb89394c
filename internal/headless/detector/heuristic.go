// Package detector decides when a streamed <head> should be re-read from a
// browser-rendered page.
package detector

import (
	"strings"
)

// Heuristic flags heads that look like client-rendered shells.
type Heuristic struct {
	HeadLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 1024
	}
	return &Heuristic{HeadLengthThreshold: threshold}
}

// Attributes written by libraries that manage <head> tags from JavaScript.
var headManagerMarkers = []string{
	"data-react-helmet",
	"data-rh=",
	"data-n-head",
	"data-vue-meta",
	"ng-version",
	"__next",
	"data-svelte",
}

// ShouldRender reports whether head likely gains icon links once scripts run.
func (h *Heuristic) ShouldRender(head string) bool {
	lower := strings.ToLower(head)
	if strings.TrimSpace(lower) == "" {
		return false
	}
	for _, marker := range headManagerMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return len(lower) < h.HeadLengthThreshold && scriptDensityHigh(lower)
}

// scriptDensityHigh reports whether script elements cover at least a quarter
// of the lowercased markup.
func scriptDensityHigh(lower string) bool {
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		next := total
		if end := strings.Index(lower[contentStart:], closeTag); end != -1 {
			next = contentStart + end + len(closeTag)
		}
		coverage += next - start
		pos = next
	}
	return coverage*100/total >= 25
}
