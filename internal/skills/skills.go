// Package skills holds the tag set used to describe what a bot can do and
// what a job needs.
package skills

import (
	"sort"
	"strings"
	"sync"
)

var interned sync.Map // map[string]string

// Intern returns the canonical lowercase form of tag, shared across callers.
func Intern(tag string) string {
	norm := strings.ToLower(strings.TrimSpace(tag))
	if norm == "" {
		return ""
	}
	if v, ok := interned.Load(norm); ok {
		return v.(string)
	}
	v, _ := interned.LoadOrStore(norm, norm)
	return v.(string)
}

// Set is an immutable, sorted, de-duplicated set of skill tags.
type Set struct {
	tags []string
}

// Parse builds a Set from raw tags. Comma separated values are split.
func Parse(raw ...string) Set {
	seen := make(map[string]struct{})
	var tags []string
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			tag := Intern(part)
			if tag == "" {
				continue
			}
			if _, ok := seen[tag]; ok {
				continue
			}
			seen[tag] = struct{}{}
			tags = append(tags, tag)
		}
	}
	sort.Strings(tags)
	return Set{tags: tags}
}

// Tags returns a copy of the tags.
func (s Set) Tags() []string {
	out := make([]string, len(s.tags))
	copy(out, s.tags)
	return out
}

func (s Set) Len() int { return len(s.tags) }

func (s Set) String() string { return strings.Join(s.tags, ",") }

// Match reports whether any tag equals or contains query, or is contained by it,
// ignoring case.
func (s Set) Match(query string) bool {
	q := Intern(query)
	if q == "" {
		return false
	}
	for _, tag := range s.tags {
		if tag == q || strings.Contains(tag, q) || strings.Contains(q, tag) {
			return true
		}
	}
	return false
}

// Overlap counts how many of required's tags this set matches.
func (s Set) Overlap(required Set) int {
	n := 0
	for _, tag := range required.tags {
		if s.Match(tag) {
			n++
		}
	}
	return n
}
