package observer

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Op is the kind of change reported by the page.
type Op string

const (
	OpInsert Op = "insert" // node added (HTML carries the serialised subtree)
	OpRemove Op = "remove" // node removed (HTML carries the serialised subtree)
	OpText   Op = "text"   // character data changed
	OpReset  Op = "reset"  // observer (re)installed, e.g. after a navigation
)

// Record is one change reported by the injected MutationObserver.
type Record struct {
	Op      Op     `json:"op"`
	Tag     string `json:"tag,omitempty"`
	InBlock bool   `json:"in_block"` // target is, or is inside, a block container
	HTML    string `json:"html,omitempty"`
}

// ownClass marks elements codedrop renders itself.
const ownClass = "codedrop-output"

// Selector is the simple CSS selector subset used for block containers:
// a tag name, one or more classes, or both ("pre", ".code", "div.code.block").
type Selector struct {
	Tag     string
	Classes []string
}

// ParseSelector parses a simple selector. Combinators, ids and attribute
// selectors are rejected.
func ParseSelector(s string) (Selector, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Selector{}, fmt.Errorf("observer: empty selector")
	}
	if strings.ContainsAny(s, " >+~#[]:,*()\"'") {
		return Selector{}, fmt.Errorf("observer: unsupported selector %q", s)
	}

	parts := strings.Split(s, ".")
	sel := Selector{Tag: strings.ToLower(parts[0])}
	for _, c := range parts[1:] {
		if c == "" {
			return Selector{}, fmt.Errorf("observer: empty class in selector %q", s)
		}
		sel.Classes = append(sel.Classes, c)
	}
	return sel, nil
}

// String renders the selector back to CSS.
func (s Selector) String() string {
	var b strings.Builder
	b.WriteString(s.Tag)
	for _, c := range s.Classes {
		b.WriteByte('.')
		b.WriteString(c)
	}
	return b.String()
}

// Match reports whether n is an element matching s.
func (s Selector) Match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.Tag != "" && n.Data != s.Tag {
		return false
	}
	if len(s.Classes) == 0 {
		return true
	}
	have := strings.Fields(attr(n, "class"))
	for _, want := range s.Classes {
		found := false
		for _, c := range have {
			if c == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Relevance decides which changes can affect a block container.
type Relevance struct {
	container Selector
}

// NewRelevance creates a filter for the given container selector.
func NewRelevance(container string) (*Relevance, error) {
	sel, err := ParseSelector(container)
	if err != nil {
		return nil, err
	}
	return &Relevance{container: sel}, nil
}

// Relevant reports whether rec may change the set or the text of block
// containers. Changes inside a container always are; structural changes
// elsewhere are when the added or removed subtree holds a container.
func (r *Relevance) Relevant(rec Record) bool {
	switch rec.Op {
	case OpReset:
		return true
	case OpText:
		return rec.InBlock
	case OpInsert, OpRemove:
		return rec.InBlock || r.holdsContainer(rec.HTML)
	}
	return false
}

func (r *Relevance) holdsContainer(fragment string) bool {
	if fragment == "" || !strings.Contains(fragment, "<") {
		return false
	}
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), ctx)
	if err != nil {
		return false
	}
	for _, n := range nodes {
		if r.find(n) {
			return true
		}
	}
	return false
}

func (r *Relevance) find(n *html.Node) bool {
	if n.Type == html.ElementNode {
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == ownClass {
				return false
			}
		}
		if r.container.Match(n) {
			return true
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if r.find(c) {
			return true
		}
	}
	return false
}
