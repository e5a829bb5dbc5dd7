package models

import (
	"sort"
	"strings"
	"unicode"
)

const untagged = "#untagged"

// NormalizeTag converts free text into a single hashtag: one leading '#',
// lower case, words joined by '-', only [a-z0-9-] kept. Applying it twice
// yields the same result.
func NormalizeTag(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if dash && b.Len() > 0 {
				b.WriteByte('-')
			}
			dash = false
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '#' || r == '/' || r == '.' || unicode.IsSpace(r):
			dash = true
		}
	}
	if b.Len() == 0 {
		return untagged
	}
	return "#" + b.String()
}

// NormalizeTags normalizes, de-duplicates and sorts tags.
func NormalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		n := NormalizeTag(t)
		if n == untagged {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// TagCount is the number of analyses of one kind carrying a tag.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// CountTags tallies the normalized tags of the analyses of kind, most
// frequent first and then alphabetically.
func CountTags(analyses []*AiAnalysis, kind Kind) []TagCount {
	counts := make(map[string]int)
	for _, a := range analyses {
		if a.OwnerKind != kind {
			continue
		}
		for _, t := range NormalizeTags(a.Tags) {
			counts[t]++
		}
	}
	out := make([]TagCount, 0, len(counts))
	for t, n := range counts {
		out = append(out, TagCount{Tag: t, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out
}
