// Package htmldoc parses HTML into a standards compliant DOM tree, from a
// reader, a local file or a URL.
package htmldoc

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// MaxDocumentSize limits how much of a fetched document is read.
const MaxDocumentSize = 32 << 20

// DefaultTimeout applies to Fetch when no timeout is given.
const DefaultTimeout = 30 * time.Second

// Document is a parsed HTML document.
type Document struct {
	Root *html.Node

	// Base resolves relative references. It honours a <base href> element.
	Base *url.URL

	Title string
}

// Parse reads an HTML document from r. base may be nil.
func Parse(r io.Reader, base *url.URL) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := &Document{Root: root, Base: base}
	if head := Find(root, atom.Head); head != nil {
		if t := Find(head, atom.Title); t != nil {
			doc.Title = strings.TrimSpace(Text(t))
		}
		if b := Find(head, atom.Base); b != nil {
			if href, ok := Attr(b, "href"); ok {
				doc.Base = doc.Resolve(href)
			}
		}
	}
	return doc, nil
}

// ParseFile parses the HTML file at path, using its directory as base.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	base := &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}

	r, err := charset.NewReader(f, "")
	if err != nil {
		return nil, fmt.Errorf("detect charset of %s: %w", path, err)
	}
	return Parse(r, base)
}

// Fetch parses the document at rawURL. file URLs and plain paths are read
// from disk, http and https URLs are fetched within timeout.
func Fetch(ctx context.Context, rawURL string, timeout time.Duration) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	switch u.Scheme {
	case "", "file":
		path := u.Path
		if u.Scheme == "" {
			path = rawURL
		}
		return ParseFile(path)
	case "http", "https":
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", u.Redacted(), resp.Status)
	}

	r, err := charset.NewReader(io.LimitReader(resp.Body, MaxDocumentSize), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("detect charset of %s: %w", u.Redacted(), err)
	}
	return Parse(r, resp.Request.URL)
}

// Resolve returns ref resolved against the document base. Unparsable
// references resolve to nil.
func (d *Document) Resolve(ref string) *url.URL {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil
	}
	if d.Base == nil {
		return u
	}
	return d.Base.ResolveReference(u)
}

// Body returns the body element.
func (d *Document) Body() *html.Node {
	return Find(d.Root, atom.Body)
}

// Find returns the first element below n, depth first, with the given atom.
func Find(n *html.Node, a atom.Atom) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == a {
			return c
		}
		if found := Find(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Attr returns the value of the attribute key of n.
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

// Text returns the concatenated text below n.
func Text(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
