package descriptor

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// node is a reduced DOM element: Live sets keep nearly everything in
// attributes, so character data is only kept trimmed.
type node struct {
	name     string
	attrs    map[string]string
	text     string
	parent   *node
	children []*node
}

func parseTree(doc []byte) (*node, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		if strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "us-ascii") {
			return input, nil
		}
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}

	root := &node{}
	cur := root
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &node{name: t.Name.Local, parent: cur}
			if len(t.Attr) > 0 {
				n.attrs = make(map[string]string, len(t.Attr))
				for _, a := range t.Attr {
					n.attrs[a.Name.Local] = a.Value
				}
			}
			cur.children = append(cur.children, n)
			cur = n
		case xml.EndElement:
			cur = cur.parent
		case xml.CharData:
			if s := strings.TrimSpace(string(t)); s != "" && cur != root {
				cur.text += s
			}
		}
	}
	if len(root.children) == 0 {
		return nil, errors.New("document has no root element")
	}
	return root, nil
}

func (n *node) attr(name string) string {
	if n == nil {
		return ""
	}
	return n.attrs[name]
}

// value returns the Value attribute, falling back to character data.
func (n *node) value() string {
	if n == nil {
		return ""
	}
	if v, ok := n.attrs["Value"]; ok {
		return v
	}
	return n.text
}

// matches reports whether n closes the child-combinator chain sel, i.e.
// n is sel[len-1], its parent is sel[len-2], and so on.
func (n *node) matches(sel []string) bool {
	cur := n
	for i := len(sel) - 1; i >= 0; i-- {
		if cur == nil || cur.name != sel[i] {
			return false
		}
		cur = cur.parent
	}
	return true
}

// walk visits descendants of n in document order until fn returns false.
func (n *node) walk(fn func(*node) bool) bool {
	for _, c := range n.children {
		if !fn(c) || !c.walk(fn) {
			return false
		}
	}
	return true
}

// find returns the first descendant matching sel, where sel is a chain of
// element names each a direct child of the previous ("Tempo", "Manual").
// Ancestors above n may satisfy the leading part of the chain.
func (n *node) find(sel ...string) *node {
	if n == nil {
		return nil
	}
	var found *node
	n.walk(func(c *node) bool {
		if c.matches(sel) {
			found = c
			return false
		}
		return true
	})
	return found
}

func (n *node) findAll(sel ...string) []*node {
	if n == nil {
		return nil
	}
	var out []*node
	n.walk(func(c *node) bool {
		if c.matches(sel) {
			out = append(out, c)
		}
		return true
	})
	return out
}

// findAny returns every descendant whose name is in names, in document order.
func (n *node) findAny(names ...string) []*node {
	if n == nil {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	var out []*node
	n.walk(func(c *node) bool {
		if set[c.name] {
			out = append(out, c)
		}
		return true
	})
	return out
}
