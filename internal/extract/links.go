// Package extract scans HTML head fragments for icon and manifest links.
package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"

	"github.com/JakeFAU/favicon-edge/internal/favicon"
)

var linkPrefix = []byte("<link")

// touchIconRels are rel tokens accepted as icons in addition to "icon" itself.
var touchIconRels = map[string]struct{}{
	"apple-touch-icon":             {},
	"apple-touch-icon-precomposed": {},
}

// Links classifies every <link> tag in fragment into icon candidates and the
// first manifest reference. Tags the tokenizer cannot complete, and tags
// without rel or href, are skipped.
func Links(fragment string) favicon.LinkSet {
	var (
		set  favicon.LinkSet
		base string
	)
	z := html.NewTokenizer(strings.NewReader(fragment))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return set
		case html.StartTagToken, html.SelfClosingTagToken:
		default:
			continue
		}

		// TagName lower-cases the tokenizer buffer in place, so the raw tag
		// prefix is checked first.
		exactLink := bytes.HasPrefix(z.Raw(), linkPrefix)
		name, hasAttr := z.TagName()
		if !hasAttr {
			continue
		}
		switch string(name) {
		case "base":
			if href := attributes(z)["href"]; base == "" && href != "" {
				base = href
			}
		case "link":
			if !exactLink {
				continue
			}
			if candidate, ok := classify(attributes(z), base); ok {
				add(&set, candidate)
			}
		}
	}
}

func add(set *favicon.LinkSet, candidate favicon.IconCandidate) {
	switch candidate.Rel {
	case favicon.RelIcon:
		set.Icons = append(set.Icons, candidate)
	case favicon.RelManifest:
		if set.Manifest == nil {
			set.Manifest = &candidate
		}
	}
}

func classify(attrs map[string]string, base string) (favicon.IconCandidate, bool) {
	rel, ok := attrs["rel"]
	if !ok {
		return favicon.IconCandidate{}, false
	}
	href := strings.TrimSpace(attrs["href"])
	if href == "" {
		return favicon.IconCandidate{}, false
	}
	candidate := favicon.IconCandidate{
		Href:  href,
		Base:  base,
		Attrs: attrs,
	}
	switch {
	case IsManifestRel(rel):
		candidate.Rel = favicon.RelManifest
	case IsIconRel(rel):
		candidate.Rel = favicon.RelIcon
	default:
		return favicon.IconCandidate{}, false
	}
	return candidate, true
}

// IsIconRel reports whether a rel attribute value names an icon. Matching is a
// case-sensitive, permissive substring test: "icon", anything containing
// " icon", and the apple touch icon tokens are accepted.
func IsIconRel(rel string) bool {
	rel = strings.TrimSpace(rel)
	if rel == "icon" || strings.Contains(rel, " icon") {
		return true
	}
	for _, token := range strings.Fields(rel) {
		if _, ok := touchIconRels[token]; ok {
			return true
		}
	}
	return false
}

// IsManifestRel reports whether rel is exactly "manifest".
func IsManifestRel(rel string) bool {
	return strings.TrimSpace(rel) == "manifest"
}

// attributes drains the tokenizer's attributes for the current tag. Keys are
// already lower-cased by the tokenizer; the first occurrence of a key wins.
func attributes(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		k := string(key)
		if _, seen := attrs[k]; !seen && k != "" {
			attrs[k] = string(val)
		}
		if !more {
			return attrs
		}
	}
}
