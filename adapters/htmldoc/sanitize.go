package htmldoc

import (
	"bytes"
	"fmt"
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	policyOnce sync.Once
	policy     *bluemonday.Policy
)

// pagePolicy keeps page structure and styling but drops scripts and
// event handler attributes.
func pagePolicy() *bluemonday.Policy {
	policyOnce.Do(func() {
		p := bluemonday.UGCPolicy()
		p.AllowElements("html", "head", "body", "title", "meta", "link", "style", "header", "footer", "section", "main")
		p.AllowAttrs("id", "class", "style", "lang", "dir").Globally()
		p.AllowAttrs("charset", "name", "content").OnElements("meta")
		p.AllowAttrs("rel", "href", "media").OnElements("link")
		p.AllowDataAttributes()
		p.AllowImages()
		p.AllowDataURIImages()
		p.AllowTables()
		p.AllowUnsafe(true)
		policy = p
	})
	return policy
}

// Sanitize strips active content from an uploaded page.
func Sanitize(source []byte) []byte {
	return pagePolicy().SanitizeBytes(source)
}

// InjectBaseURL inserts a <base> element so relative assets resolve
// against baseURL. Pages that already carry one are returned unchanged.
func InjectBaseURL(source []byte, baseURL string) []byte {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return source
	}

	lower := asciiLower(source)
	if bytes.Contains(lower, []byte("<base")) {
		return source
	}

	baseTag := fmt.Sprintf(`<base href="%s">`, html.EscapeString(baseURL))
	if headIdx := bytes.Index(lower, []byte("<head")); headIdx >= 0 {
		if end := bytes.IndexByte(lower[headIdx:], '>'); end >= 0 {
			return insertAt(source, headIdx+end+1, baseTag)
		}
	}
	if htmlIdx := bytes.Index(lower, []byte("<html")); htmlIdx >= 0 {
		if end := bytes.IndexByte(lower[htmlIdx:], '>'); end >= 0 {
			return insertAt(source, htmlIdx+end+1, "<head>"+baseTag+"</head>")
		}
	}
	return append([]byte(baseTag), source...)
}

// asciiLower folds A-Z only, so offsets stay valid in pages that are not
// UTF-8.
func asciiLower(source []byte) []byte {
	out := make([]byte, len(source))
	for i, b := range source {
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		out[i] = b
	}
	return out
}

func insertAt(source []byte, pos int, fragment string) []byte {
	out := make([]byte, 0, len(source)+len(fragment))
	out = append(out, source[:pos]...)
	out = append(out, fragment...)
	return append(out, source[pos:]...)
}
