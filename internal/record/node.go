package record

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// NodeKind identifies what a Node holds.
type NodeKind int

// Node kinds.
const (
	DocumentNode NodeKind = iota
	ElementNode
	TextNode
	CommentNode
	ProcInstNode
	DirectiveNode
)

// xmlNamespace is the namespace bound to the reserved "xml" prefix.
const xmlNamespace = "http://www.w3.org/XML/1998/namespace"

// Node is one node of a parsed XML document.
//
// Element names keep the prefix they were written with so a document can be
// re-encoded without rewriting its namespace declarations. Space holds the
// resolved namespace URI used for matching.
type Node struct {
	Kind NodeKind

	// Prefix, Local and Space are set for elements.
	Prefix string
	Local  string
	Space  string

	// Attrs are the raw attributes, with Name.Space holding the prefix.
	Attrs []xml.Attr

	// Data holds the content of text, comment, procinst and directive nodes.
	// For procinst nodes Target holds the instruction target.
	Data   string
	Target string

	Children []*Node
	parent   *Node
}

// ErrEmptyDocument is returned when parsing input that holds no element.
var ErrEmptyDocument = errors.New("document has no root element")

// ParseDocument decodes data into a document node.
func ParseDocument(data []byte) (*Node, error) {
	return ParseDocumentReader(bytes.NewReader(data))
}

// ParseDocumentReader decodes r into a document node. Namespace prefixes are
// resolved while decoding but retained on the nodes.
func ParseDocumentReader(r io.Reader) (*Node, error) {
	dec := xml.NewDecoder(r)
	doc := &Node{Kind: DocumentNode}
	cur := doc
	scopes := []map[string]string{{"xml": xmlNamespace}}

	for {
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decoding xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			scope := declaredScope(scopes[len(scopes)-1], t.Attr)
			scopes = append(scopes, scope)
			el := &Node{
				Kind:   ElementNode,
				Prefix: t.Name.Space,
				Local:  t.Name.Local,
				Space:  scope[t.Name.Space],
				Attrs:  copyAttrs(t.Attr),
			}
			cur.appendChild(el)
			cur = el
		case xml.EndElement:
			if cur == doc || cur.Local != t.Name.Local || cur.Prefix != t.Name.Space {
				return nil, fmt.Errorf("decoding xml: unexpected end element </%s>", qualified(t.Name.Space, t.Name.Local))
			}
			scopes = scopes[:len(scopes)-1]
			cur = cur.parent
		case xml.CharData:
			if cur == doc {
				// Whitespace between prolog and root carries no content.
				continue
			}
			cur.appendChild(&Node{Kind: TextNode, Data: string(t)})
		case xml.Comment:
			cur.appendChild(&Node{Kind: CommentNode, Data: string(t)})
		case xml.ProcInst:
			cur.appendChild(&Node{Kind: ProcInstNode, Target: t.Target, Data: string(t.Inst)})
		case xml.Directive:
			cur.appendChild(&Node{Kind: DirectiveNode, Data: string(t)})
		}
	}

	if cur != doc {
		return nil, fmt.Errorf("decoding xml: unclosed element <%s>", qualified(cur.Prefix, cur.Local))
	}
	if doc.Root() == nil {
		return nil, ErrEmptyDocument
	}
	return doc, nil
}

// declaredScope returns the prefix table in effect for an element carrying attrs.
func declaredScope(parent map[string]string, attrs []xml.Attr) map[string]string {
	var scope map[string]string
	for _, a := range attrs {
		var prefix string
		switch {
		case a.Name.Space == "" && a.Name.Local == "xmlns":
			prefix = ""
		case a.Name.Space == "xmlns":
			prefix = a.Name.Local
		default:
			continue
		}
		if scope == nil {
			scope = make(map[string]string, len(parent)+1)
			for k, v := range parent {
				scope[k] = v
			}
		}
		scope[prefix] = a.Value
	}
	if scope == nil {
		return parent
	}
	return scope
}

func copyAttrs(attrs []xml.Attr) []xml.Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]xml.Attr, len(attrs))
	copy(out, attrs)
	return out
}

func qualified(prefix, local string) string {
	if prefix == "" {
		return local
	}
	return prefix + ":" + local
}

// NewElement creates a detached element node. space is the resolved
// namespace URI and prefix the prefix it will be written with.
func NewElement(prefix, space, local, text string) *Node {
	el := &Node{Kind: ElementNode, Prefix: prefix, Space: space, Local: local}
	if text != "" {
		el.appendChild(&Node{Kind: TextNode, Data: text})
	}
	return el
}

// Parent returns the node's parent, or nil for a document or detached node.
func (n *Node) Parent() *Node { return n.parent }

// Name returns the qualified element name as written in the source.
func (n *Node) Name() string { return qualified(n.Prefix, n.Local) }

// Root returns the first element child of a document node.
func (n *Node) Root() *Node {
	for _, c := range n.Children {
		if c.Kind == ElementNode {
			return c
		}
	}
	return nil
}

// Is reports whether n is an element with the given namespace and local name.
// An empty space matches any namespace.
func (n *Node) Is(space, local string) bool {
	if n.Kind != ElementNode || n.Local != local {
		return false
	}
	return space == "" || n.Space == space
}

// Child returns the first direct element child matching space and local.
func (n *Node) Child(space, local string) *Node {
	for _, c := range n.Children {
		if c.Is(space, local) {
			return c
		}
	}
	return nil
}

// Elements returns the direct element children of n in document order.
func (n *Node) Elements() []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Kind == ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// Find returns every descendant element matching space and local, in
// document order. n itself is not included.
func (n *Node) Find(space, local string) []*Node {
	var out []*Node
	var walk func(*Node)
	walk = func(p *Node) {
		for _, c := range p.Children {
			if c.Kind != ElementNode {
				continue
			}
			if c.Is(space, local) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

// Text returns the concatenated character data beneath n.
func (n *Node) Text() string {
	if n.Kind == TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*Node)
	walk = func(p *Node) {
		for _, c := range p.Children {
			switch c.Kind {
			case TextNode:
				b.WriteString(c.Data)
			case ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

// SetText replaces all children of n with a single text node.
func (n *Node) SetText(s string) {
	for _, c := range n.Children {
		c.parent = nil
	}
	n.Children = nil
	if s != "" {
		n.appendChild(&Node{Kind: TextNode, Data: s})
	}
}

// AppendChild attaches c as the last child of n.
func (n *Node) AppendChild(c *Node) {
	if c.parent != nil {
		c.parent.RemoveChild(c)
	}
	n.appendChild(c)
}

func (n *Node) appendChild(c *Node) {
	c.parent = n
	n.Children = append(n.Children, c)
}

// InsertAfter attaches c directly after ref. If ref is not a child of n,
// c is appended.
func (n *Node) InsertAfter(ref, c *Node) {
	if c.parent != nil {
		c.parent.RemoveChild(c)
	}
	for i, child := range n.Children {
		if child == ref {
			c.parent = n
			n.Children = append(n.Children[:i+1], append([]*Node{c}, n.Children[i+1:]...)...)
			return
		}
	}
	n.appendChild(c)
}

// RemoveChild detaches c from n. It reports whether c was a child of n.
// Whitespace immediately preceding c is removed with it so repeated edits do
// not accumulate blank lines.
func (n *Node) RemoveChild(c *Node) bool {
	for i, child := range n.Children {
		if child != c {
			continue
		}
		start := i
		if i > 0 {
			if prev := n.Children[i-1]; prev.Kind == TextNode && strings.TrimSpace(prev.Data) == "" {
				start = i - 1
				prev.parent = nil
			}
		}
		n.Children = append(n.Children[:start], n.Children[i+1:]...)
		c.parent = nil
		return true
	}
	return false
}

// LookupPrefix returns a prefix bound to space in the scope of n.
func (n *Node) LookupPrefix(space string) (string, bool) {
	for p := n; p != nil; p = p.parent {
		if p.Kind != ElementNode {
			continue
		}
		for _, a := range p.Attrs {
			if a.Value != space {
				continue
			}
			if a.Name.Space == "xmlns" {
				return a.Name.Local, true
			}
			if a.Name.Space == "" && a.Name.Local == "xmlns" {
				return "", true
			}
		}
	}
	return "", false
}

// Marshal encodes n and its descendants.
func (n *Node) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes n and its descendants to w, keeping the original prefixes.
func (n *Node) Encode(w io.Writer) error {
	ew := &errWriter{w: w}
	n.encode(ew)
	return ew.err
}

func (n *Node) encode(w *errWriter) {
	switch n.Kind {
	case DocumentNode:
		for i, c := range n.Children {
			if i > 0 {
				w.writeString("\n")
			}
			c.encode(w)
		}
	case ElementNode:
		w.writeString("<" + n.Name())
		for _, a := range n.Attrs {
			w.writeString(" " + qualified(a.Name.Space, a.Name.Local) + `="`)
			w.writeString(attrEscaper.Replace(a.Value))
			w.writeString(`"`)
		}
		if len(n.Children) == 0 {
			w.writeString("/>")
			return
		}
		w.writeString(">")
		for _, c := range n.Children {
			c.encode(w)
		}
		w.writeString("</" + n.Name() + ">")
	case TextNode:
		w.writeString(textEscaper.Replace(n.Data))
	case CommentNode:
		w.writeString("<!--" + n.Data + "-->")
	case ProcInstNode:
		if n.Data == "" {
			w.writeString("<?" + n.Target + "?>")
			return
		}
		w.writeString("<?" + n.Target + " " + n.Data + "?>")
	case DirectiveNode:
		w.writeString("<!" + n.Data + ">")
	}
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) writeString(s string) {
	if e.err != nil {
		return
	}
	_, e.err = io.WriteString(e.w, s)
}

// textEscaper leaves line breaks alone so re-encoded documents stay diffable.
var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

var attrEscaper = strings.NewReplacer(
	"&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;",
	"\n", "&#xA;", "\r", "&#xD;", "\t", "&#x9;",
)

func xmlnsAttr(prefix, space string) xml.Attr {
	if prefix == "" {
		return xml.Attr{Name: xml.Name{Local: "xmlns"}, Value: space}
	}
	return xml.Attr{Name: xml.Name{Space: "xmlns", Local: prefix}, Value: space}
}
