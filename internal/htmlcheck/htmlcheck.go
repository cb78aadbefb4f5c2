// Package htmlcheck keeps generated reply bodies down to plain presentational
// HTML. Drafts come back from a language model, so script content, embedded
// frames, and inline event handlers are stripped before a draft is surfaced
// to a caller.
package htmlcheck

import (
	"strings"

	"golang.org/x/net/html"
)

var droppedElements = map[string]bool{
	"script": true,
	"style":  true,
	"iframe": true,
	"object": true,
	"embed":  true,
	"form":   true,
}

// Sanitize parses body as an HTML fragment, removes unsafe elements and
// attributes, and re-serializes it. modified reports whether anything was
// removed. The input is returned unchanged when it parses clean.
func Sanitize(body string) (clean string, modified bool, err error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return "", false, err
	}

	modified = scrub(doc)
	if !modified {
		return body, false, nil
	}

	var sb strings.Builder
	if b := findBody(doc); b != nil {
		for c := b.FirstChild; c != nil; c = c.NextSibling {
			if err := html.Render(&sb, c); err != nil {
				return "", false, err
			}
		}
	}
	return sb.String(), true, nil
}

// scrub removes unsafe nodes and attributes in place, reporting whether
// anything changed.
func scrub(n *html.Node) bool {
	changed := false

	var c *html.Node
	for c = n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && droppedElements[c.Data] {
			n.RemoveChild(c)
			changed = true
		} else {
			if scrub(c) {
				changed = true
			}
		}
		c = next
	}

	if n.Type == html.ElementNode {
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if unsafeAttr(a) {
				changed = true
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
	}
	return changed
}

func unsafeAttr(a html.Attribute) bool {
	key := strings.ToLower(a.Key)
	if strings.HasPrefix(key, "on") {
		return true
	}
	if key == "href" || key == "src" {
		return strings.HasPrefix(strings.TrimSpace(strings.ToLower(a.Val)), "javascript:")
	}
	return false
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}
