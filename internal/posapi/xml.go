package posapi

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// xmlNode is a minimal element tree. The POS API nests elements with reused
// tag names (an employee's <code> vs. the <code> of its embedded role), so
// record fields must come from direct children only, never from a recursive
// descent.
type xmlNode struct {
	name     string
	text     string
	children []*xmlNode
}

func parseXMLTree(data []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	var root *xmlNode
	var stack []*xmlNode
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			n := &xmlNode{name: t.Name.Local}
			if len(stack) == 0 {
				root = n
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, n)
			}
			stack = append(stack, n)
		case xml.EndElement:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text += string(t)
			}
		}
	}
	if root == nil {
		return nil, fmt.Errorf("parse xml: empty document")
	}
	return root, nil
}

// childText returns the trimmed text of the first direct child with the given
// tag, or "" when absent.
func (n *xmlNode) childText(name string) string {
	for _, c := range n.children {
		if c.name == name {
			return strings.TrimSpace(c.text)
		}
	}
	return ""
}

// childAll returns every direct child with the given tag.
func (n *xmlNode) childAll(name string) []*xmlNode {
	var out []*xmlNode
	for _, c := range n.children {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// descendants collects every element with the given tag anywhere under n,
// in document order. Used for the corporation endpoints, where item DTOs
// appear at varying nesting depths.
func (n *xmlNode) descendants(name string) []*xmlNode {
	var out []*xmlNode
	var walk func(*xmlNode)
	walk = func(e *xmlNode) {
		for _, c := range e.children {
			if c.name == name {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// leafFields flattens a record element into a map of its leaf direct
// children: children that themselves have children (nested structures) are
// skipped. This is what keeps a nested role's <code> out of the employee's
// own "code".
func (n *xmlNode) leafFields() map[string]string {
	out := make(map[string]string, len(n.children))
	for _, c := range n.children {
		if len(c.children) > 0 {
			continue
		}
		if _, dup := out[c.name]; dup {
			continue // first occurrence wins
		}
		out[c.name] = strings.TrimSpace(c.text)
	}
	return out
}

// parseXMLRecords parses a list document and returns one field map per
// record element (e.g. recordTag "employee" under root "employees").
func parseXMLRecords(data []byte, recordTag string) ([]map[string]string, error) {
	root, err := parseXMLTree(data)
	if err != nil {
		return nil, err
	}
	items := root.childAll(recordTag)
	out := make([]map[string]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.leafFields())
	}
	return out, nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
