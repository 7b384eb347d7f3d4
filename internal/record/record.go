// Package record models the structured documents held by the catalog.
//
// A Record wraps one Alma bib document. Bib-level fields (mms_id, title) are
// direct children of the bib element; descriptive metadata lives in a
// Dublin Core sub-document embedded under anies/anie, either as escaped text
// or as an inline element. The embedded document is parsed at most once per
// Record and re-embedded on Marshal after an edit.
package record

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Record errors.
var (
	// ErrMalformed reports an embedded metadata document that does not parse.
	ErrMalformed = errors.New("malformed embedded metadata")

	// ErrNoMetadata is returned by edits on a record without embedded metadata.
	ErrNoMetadata = errors.New("record has no embedded metadata")

	// ErrNotBib is returned when a document's root element is not a bib.
	ErrNotBib = errors.New("document root is not a bib element")
)

// Record is one catalog record keyed by its identifier.
//
// A Record is not safe for concurrent use.
type Record struct {
	// ID is the identifier the record was requested under.
	ID string

	doc *Node

	metaParsed bool
	metaErr    error
	metaDoc    *Node // document node of escaped metadata
	metaRoot   *Node // root element of the metadata
	holder     *Node // element carrying escaped text; nil when inline
	dirty      bool
}

// Parse decodes a bib document. If id is empty the mms_id field is used.
func Parse(id string, data []byte) (*Record, error) {
	doc, err := ParseDocument(data)
	if err != nil {
		return nil, err
	}
	return FromDocument(id, doc)
}

// FromDocument wraps an already decoded bib document.
func FromDocument(id string, doc *Node) (*Record, error) {
	root := doc.Root()
	if root == nil || root.Local != "bib" {
		return nil, ErrNotBib
	}
	r := &Record{ID: id, doc: doc}
	if r.ID == "" {
		r.ID = r.MMSID()
	}
	return r, nil
}

// FromElement detaches a bib element, typically one child of a bibs
// response, and wraps it in its own document.
func FromElement(el *Node) (*Record, error) {
	if el.Kind != ElementNode || el.Local != "bib" {
		return nil, ErrNotBib
	}
	if p := el.Parent(); p != nil {
		inheritScope(el, p)
		p.RemoveChild(el)
	}
	doc := &Node{Kind: DocumentNode}
	doc.AppendChild(el)
	return FromDocument("", doc)
}

// inheritScope copies namespace declarations in effect at parent onto el so
// the detached element re-encodes with the same bindings.
func inheritScope(el, parent *Node) {
	declared := make(map[string]bool)
	for _, a := range el.Attrs {
		if a.Name.Space == "xmlns" {
			declared[a.Name.Local] = true
		}
		if a.Name.Space == "" && a.Name.Local == "xmlns" {
			declared[""] = true
		}
	}
	for p := parent; p != nil; p = p.Parent() {
		for _, a := range p.Attrs {
			var prefix string
			switch {
			case a.Name.Space == "xmlns":
				prefix = a.Name.Local
			case a.Name.Space == "" && a.Name.Local == "xmlns":
				prefix = ""
			default:
				continue
			}
			if declared[prefix] {
				continue
			}
			declared[prefix] = true
			el.Attrs = append(el.Attrs, a)
		}
	}
}

// Document returns the underlying bib document node.
func (r *Record) Document() *Node { return r.doc }

// Bib returns the bib root element.
func (r *Record) Bib() *Node { return r.doc.Root() }

// MMSID returns the record's mms_id field.
func (r *Record) MMSID() string { return r.bibField("mms_id") }

// Title returns the record's bib-level title.
func (r *Record) Title() string { return r.bibField("title") }

func (r *Record) bibField(name string) string {
	if n := r.Bib().Child("", name); n != nil {
		return strings.TrimSpace(n.Text())
	}
	return ""
}

// Metadata returns the root element of the embedded metadata document.
// It returns nil and no error when the record carries no metadata, and an
// error wrapping ErrMalformed when the embedded text does not parse. The
// result is memoized.
func (r *Record) Metadata() (*Node, error) {
	if r.metaParsed {
		return r.metaRoot, r.metaErr
	}
	r.metaParsed = true
	r.metaRoot, r.metaErr = r.loadMetadata()
	return r.metaRoot, r.metaErr
}

func (r *Record) loadMetadata() (*Node, error) {
	anies := r.Bib().Child("", "anies")
	if anies == nil {
		return nil, nil //nolint:nilnil // a record without anies has no metadata
	}
	container := anies
	if anie := anies.Child("", "anie"); anie != nil {
		container = anie
	}

	if els := container.Elements(); len(els) > 0 {
		return els[0], nil
	}

	text := strings.TrimLeftFunc(container.Text(), unicode.IsSpace)
	if text == "" {
		return nil, nil //nolint:nilnil // empty anie carries no metadata
	}
	if !strings.HasPrefix(text, "<") {
		return nil, fmt.Errorf("%w: record %s: anie does not hold xml", ErrMalformed, r.ID)
	}
	doc, err := ParseDocument([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("%w: record %s: %w", ErrMalformed, r.ID, err)
	}
	r.metaDoc = doc
	r.holder = container
	return doc.Root(), nil
}

// Occurrences returns every element matching sel in document order.
func (r *Record) Occurrences(sel Selector) ([]*Node, error) {
	if sel.IsBib() {
		var out []*Node
		for _, c := range r.Bib().Elements() {
			if c.Local == sel.Name {
				out = append(out, c)
			}
		}
		return out, nil
	}

	root, err := r.Metadata()
	if err != nil || root == nil {
		return nil, err
	}
	return root.Find(sel.Namespace, sel.Name), nil
}

// Remove detaches an occurrence previously returned by Occurrences.
func (r *Record) Remove(n *Node) bool {
	p := n.Parent()
	if p == nil {
		return false
	}
	r.dirty = true
	return p.RemoveChild(n)
}

// SetValue replaces the text of an occurrence.
func (r *Record) SetValue(n *Node, value string) {
	r.dirty = true
	n.SetText(value)
}

// Add appends a new occurrence of sel holding value. The element is placed
// after the last existing occurrence, or at the end of the metadata root.
func (r *Record) Add(sel Selector, value string) (*Node, error) {
	if sel.IsBib() {
		el := NewElement("", "", sel.Name, value)
		r.Bib().AppendChild(el)
		r.dirty = true
		return el, nil
	}

	root, err := r.Metadata()
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("%w: record %s", ErrNoMetadata, r.ID)
	}

	prefix, ok := root.LookupPrefix(sel.Namespace)
	if !ok {
		prefix = sel.PreferredPrefix()
		root.Attrs = append(root.Attrs, xmlnsAttr(prefix, sel.Namespace))
	}
	el := NewElement(prefix, sel.Namespace, sel.Name, value)

	existing := root.Find(sel.Namespace, sel.Name)
	if len(existing) == 0 {
		root.AppendChild(el)
		r.dirty = true
		return el, nil
	}

	last := existing[len(existing)-1]
	parent := last.Parent()
	if ws := leadingWhitespace(last); ws != "" {
		gap := &Node{Kind: TextNode, Data: ws}
		parent.InsertAfter(last, gap)
		parent.InsertAfter(gap, el)
	} else {
		parent.InsertAfter(last, el)
	}
	r.dirty = true
	return el, nil
}

// leadingWhitespace returns the whitespace text node preceding n, if any.
func leadingWhitespace(n *Node) string {
	p := n.Parent()
	for i, c := range p.Children {
		if c != n || i == 0 {
			continue
		}
		prev := p.Children[i-1]
		if prev.Kind == TextNode && strings.TrimSpace(prev.Data) == "" {
			return prev.Data
		}
	}
	return ""
}

// Dirty reports whether the record was edited since it was parsed or last
// marshaled.
func (r *Record) Dirty() bool { return r.dirty }

// Marshal encodes the bib document, re-embedding edited metadata.
func (r *Record) Marshal() ([]byte, error) {
	if r.dirty && r.holder != nil {
		embedded, err := r.metaDoc.Marshal()
		if err != nil {
			return nil, fmt.Errorf("encoding embedded metadata: %w", err)
		}
		r.holder.SetText(string(embedded))
	}
	out, err := r.doc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("encoding record %s: %w", r.ID, err)
	}
	r.dirty = false
	return out, nil
}
