// Package htmldoc implements snapshot.Document over golang.org/x/net/html.
package htmldoc

import (
	"bytes"
	"io"
	"strings"

	"github.com/goliatone/go-cotizaciones/snapshot"
	"golang.org/x/net/html"
)

// DefaultMaxBytes guards in-memory buffering of page sources.
const DefaultMaxBytes int64 = 8 * 1024 * 1024

// Document is a parsed HTML page.
type Document struct {
	root   *html.Node
	source []byte
	ids    map[string]*html.Node
}

// Parse reads and parses an HTML page from r.
func Parse(r io.Reader) (*Document, error) {
	limited := io.LimitReader(r, DefaultMaxBytes+1)
	source, err := io.ReadAll(limited)
	if err != nil {
		return nil, snapshot.NewError(snapshot.KindInternal, "read html failed", err)
	}
	if int64(len(source)) > DefaultMaxBytes {
		return nil, snapshot.NewError(snapshot.KindValidation, "html document exceeds max bytes", nil)
	}
	return ParseBytes(source)
}

// ParseBytes parses an HTML page held in memory.
func ParseBytes(source []byte) (*Document, error) {
	root, err := html.Parse(bytes.NewReader(source))
	if err != nil {
		return nil, snapshot.NewError(snapshot.KindValidation, "parse html failed", err)
	}
	doc := &Document{
		root:   root,
		source: append([]byte(nil), source...),
		ids:    make(map[string]*html.Node),
	}
	doc.index(root)
	return doc, nil
}

// index records the first element carrying each id, in document order.
func (d *Document) index(n *html.Node) {
	if n.Type == html.ElementNode {
		if id, ok := attr(n, "id"); ok && id != "" {
			if _, seen := d.ids[id]; !seen {
				d.ids[id] = n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		d.index(c)
	}
}

// ElementByID returns the first element with the given id.
func (d *Document) ElementByID(id string) (snapshot.Element, bool) {
	if d == nil {
		return nil, false
	}
	n, ok := d.ids[id]
	if !ok {
		return nil, false
	}
	return &Element{node: n}, true
}

// HTML returns the original page source.
func (d *Document) HTML() []byte {
	if d == nil {
		return nil
	}
	return d.source
}

// Element wraps an html element node.
type Element struct {
	node *html.Node
}

// ID returns the element id.
func (e *Element) ID() string {
	id, _ := attr(e.node, "id")
	return id
}

// Attr returns an attribute value and whether it is present.
func (e *Element) Attr(name string) (string, bool) {
	return attr(e.node, name)
}

// Tag returns the element tag name.
func (e *Element) Tag() string {
	return e.node.Data
}

// Text returns the element's text content with whitespace collapsed.
func (e *Element) Text() string {
	var b strings.Builder
	collectText(e.node, &b)
	return strings.Join(strings.Fields(b.String()), " ")
}

// OuterHTML renders the element subtree.
func (e *Element) OuterHTML() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, e.node); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func collectText(n *html.Node, b *strings.Builder) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, b)
	}
}

func attr(n *html.Node, name string) (string, bool) {
	if n == nil {
		return "", false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}
