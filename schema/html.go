package schema

import (
	"html"
	"sort"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

// DefaultAllowedTags is the html allow-list of rich text items.
var DefaultAllowedTags = []string{
	"h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "p", "a", "ul", "ol",
	"li", "b", "i", "strong", "em", "strike", "code", "hr", "br", "div",
	"table", "thead", "caption", "tbody", "tr", "th", "td", "pre", "img",
	"span", "u", "s", "sub", "sup", "figure", "figcaption",
}

// DefaultAllowedAttributes is keyed by tag; "*" applies to every tag.
var DefaultAllowedAttributes = map[string][]string{
	"a":   {"href", "name", "target"},
	"img": {"src", "alt", "width", "height"},
	"*":   {"class"},
}

var (
	stripPolicy = bluemonday.StrictPolicy()

	policyMu    sync.Mutex
	policyCache = map[string]*bluemonday.Policy{}
)

// stripHTML removes every tag and returns the remaining text unescaped.
func stripHTML(s string) string {
	return html.UnescapeString(stripPolicy.Sanitize(s))
}

// sanitizeHTML applies the allow-list of opts.
func sanitizeHTML(s string, opts HTMLOptions) string {
	return htmlPolicy(opts).Sanitize(s)
}

// sameMarkup compares two html fragments after entity decoding, so escaping
// differences alone do not count as changes.
func sameMarkup(a, b string) bool {
	return html.UnescapeString(a) == html.UnescapeString(b)
}

// htmlPolicy builds or reuses the policy for an allow-list. Policies are safe
// for concurrent use once built.
func htmlPolicy(opts HTMLOptions) *bluemonday.Policy {
	key := policyKey(opts)

	policyMu.Lock()
	defer policyMu.Unlock()
	if p, ok := policyCache[key]; ok {
		return p
	}

	p := bluemonday.NewPolicy()
	p.AllowStandardURLs()
	if len(opts.AllowedTags) > 0 {
		p.AllowElements(opts.AllowedTags...)
	}
	for tag, attrs := range opts.AllowedAttributes {
		if len(attrs) == 0 {
			continue
		}
		if tag == "*" {
			p.AllowAttrs(attrs...).Globally()
			continue
		}
		p.AllowAttrs(attrs...).OnElements(tag)
	}
	policyCache[key] = p
	return p
}

func policyKey(opts HTMLOptions) string {
	tags := append([]string(nil), opts.AllowedTags...)
	sort.Strings(tags)

	attrTags := make([]string, 0, len(opts.AllowedAttributes))
	for tag := range opts.AllowedAttributes {
		attrTags = append(attrTags, tag)
	}
	sort.Strings(attrTags)

	var b strings.Builder
	b.WriteString(strings.Join(tags, ","))
	for _, tag := range attrTags {
		attrs := append([]string(nil), opts.AllowedAttributes[tag]...)
		sort.Strings(attrs)
		b.WriteString("|" + tag + "=" + strings.Join(attrs, ","))
	}
	return b.String()
}
