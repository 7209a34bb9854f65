// Package discovery holds helpers shared by the Discoverer implementations.
package discovery

import (
	"iter"
	"net/url"
	"strings"

	"github.com/JakeFAU/imgharvest/internal/harvest"
)

// TermPlaceholder is replaced by the query-escaped term in URL templates.
const TermPlaceholder = "{term}"

// ExpandURL substitutes term into tmpl. Templates without a placeholder get the
// term appended as the q query parameter.
func ExpandURL(tmpl, term string) string {
	if strings.Contains(tmpl, TermPlaceholder) {
		return strings.ReplaceAll(tmpl, TermPlaceholder, url.QueryEscape(term))
	}
	u, err := url.Parse(tmpl)
	if err != nil {
		return tmpl
	}
	q := u.Query()
	q.Set("q", term)
	u.RawQuery = q.Encode()
	return u.String()
}

// Resolve returns ref as an absolute URL relative to base. Blank references
// yield "".
func Resolve(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

// Dedupe drops blank and repeated URLs while preserving order. When limit is
// positive at most limit URLs are returned.
func Dedupe(urls []string, limit int) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Candidates pairs every URL with a freshly generated identifier. IDs are drawn
// lazily as the sequence is consumed; a generator failure leaves ProposedID
// empty so the consumer can substitute its own.
func Candidates(urls []string, ids harvest.IDGenerator) iter.Seq[harvest.Candidate] {
	return func(yield func(harvest.Candidate) bool) {
		for _, u := range urls {
			c := harvest.Candidate{SourceURL: u}
			if ids != nil {
				if id, err := ids.NewID(); err == nil {
					c.ProposedID = id
				}
			}
			if !yield(c) {
				return
			}
		}
	}
}
