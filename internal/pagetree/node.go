// Package pagetree owns the docs directory and its meta.json page index.
package pagetree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// lastModifiedLayout matches the millisecond ISO-8601 timestamps written by
// the authoring UI.
const lastModifiedLayout = "2006-01-02T15:04:05.000Z07:00"

// Node is one entry of meta.json. Fields the API does not know about are
// kept in extra and written back untouched.
type Node struct {
	ID           string
	Title        string
	Slug         string
	Path         string
	SortOrder    int
	IsPublic     bool
	Deleted      bool
	LastModified string
	Children     []*Node

	extra    map[string]json.RawMessage
	order    []string
	present  map[string]bool
	idNumber bool
}

var knownKeys = []string{"id", "title", "slug", "path", "sortOrder", "isPublic", "deleted", "lastModified", "children"}

type member struct {
	key   string
	value json.RawMessage
}

// decodeObject splits a JSON object into its members in document order. A
// repeated key keeps its first position and its last value.
func decodeObject(data []byte) ([]member, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var members []member
	at := make(map[string]int)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("expected object key, got %v", tok)
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		if i, seen := at[key]; seen {
			members[i].value = value
			continue
		}
		at[key] = len(members)
		members = append(members, member{key: key, value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return members, nil
}

// encodeObject writes members in order without escaping HTML characters.
func encodeObject(members []member) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := marshal(m.key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(m.value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func isKnown(key string) bool {
	for _, k := range knownKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (n *Node) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}
	members, err := decodeObject(data)
	if err != nil {
		return err
	}
	*n = Node{present: make(map[string]bool, len(knownKeys))}

	for _, m := range members {
		n.order = append(n.order, m.key)
		if !isKnown(m.key) {
			if n.extra == nil {
				n.extra = make(map[string]json.RawMessage)
			}
			n.extra[m.key] = m.value
			continue
		}
		if string(m.value) == "null" {
			continue
		}
		var err error
		switch m.key {
		case "id":
			n.ID, n.idNumber, err = decodeID(m.value)
		case "title":
			err = json.Unmarshal(m.value, &n.Title)
		case "slug":
			err = json.Unmarshal(m.value, &n.Slug)
		case "path":
			err = json.Unmarshal(m.value, &n.Path)
		case "sortOrder":
			err = json.Unmarshal(m.value, &n.SortOrder)
		case "isPublic":
			err = json.Unmarshal(m.value, &n.IsPublic)
		case "deleted":
			err = json.Unmarshal(m.value, &n.Deleted)
		case "lastModified":
			err = json.Unmarshal(m.value, &n.LastModified)
		case "children":
			err = json.Unmarshal(m.value, &n.Children)
		}
		if err != nil {
			return fmt.Errorf("field %q: %w", m.key, err)
		}
		n.present[m.key] = true
	}
	return nil
}

// decodeID accepts both string and numeric ids and reports which it saw.
func decodeID(value json.RawMessage) (string, bool, error) {
	var s string
	if err := json.Unmarshal(value, &s); err == nil {
		return s, false, nil
	}
	var num json.Number
	if err := json.Unmarshal(value, &num); err != nil {
		return "", false, err
	}
	return num.String(), true, nil
}

// field returns the value written for a known key, or false when the key is
// omitted.
func (n *Node) field(key string) (any, bool) {
	switch key {
	case "id":
		switch {
		case n.idNumber:
			return json.Number(n.ID), true
		case n.ID != "" || n.present["id"]:
			return n.ID, true
		}
	case "title":
		return n.Title, true
	case "slug":
		return n.Slug, n.Slug != "" || n.present["slug"]
	case "path":
		return n.Path, true
	case "sortOrder":
		return n.SortOrder, n.SortOrder != 0 || n.present["sortOrder"]
	case "isPublic":
		return n.IsPublic, n.IsPublic || n.present["isPublic"]
	case "deleted":
		return true, n.Deleted
	case "lastModified":
		return n.LastModified, n.LastModified != ""
	case "children":
		if n.Children == nil && !n.present["children"] {
			return nil, false
		}
		if n.Children == nil {
			return []*Node{}, true
		}
		return n.Children, true
	}
	return nil, false
}

// MarshalJSON writes keys in the order they were read. Known fields that
// were absent follow in their usual order.
func (n *Node) MarshalJSON() ([]byte, error) {
	members := make([]member, 0, len(n.order)+len(knownKeys))
	written := make(map[string]bool, len(n.order)+len(knownKeys))
	add := func(key string) error {
		written[key] = true
		if raw, ok := n.extra[key]; ok {
			members = append(members, member{key: key, value: raw})
			return nil
		}
		v, ok := n.field(key)
		if !ok {
			return nil
		}
		raw, err := marshal(v)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		members = append(members, member{key: key, value: raw})
		return nil
	}
	for _, key := range n.order {
		if err := add(key); err != nil {
			return nil, err
		}
	}
	for _, key := range knownKeys {
		if !written[key] {
			if err := add(key); err != nil {
				return nil, err
			}
		}
	}
	return encodeObject(members)
}

// Clone returns a deep copy that shares no state with n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.extra != nil {
		c.extra = make(map[string]json.RawMessage, len(n.extra))
		for k, v := range n.extra {
			c.extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	c.order = append([]string(nil), n.order...)
	if n.present != nil {
		c.present = make(map[string]bool, len(n.present))
		for k, v := range n.present {
			c.present[k] = v
		}
	}
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	return &c
}

// Document is the whole meta.json file.
type Document struct {
	Pages []*Node

	members []member
}

func (d *Document) UnmarshalJSON(data []byte) error {
	members, err := decodeObject(data)
	if err != nil {
		return err
	}
	*d = Document{}
	for _, m := range members {
		if m.key == "pages" {
			if err := json.Unmarshal(m.value, &d.Pages); err != nil {
				return fmt.Errorf("pages: %w", err)
			}
			m.value = nil
		}
		d.members = append(d.members, m)
	}
	return nil
}

func (d *Document) MarshalJSON() ([]byte, error) {
	pages := d.Pages
	if pages == nil {
		pages = []*Node{}
	}
	encoded, err := marshal(pages)
	if err != nil {
		return nil, fmt.Errorf("pages: %w", err)
	}
	members := make([]member, 0, len(d.members)+1)
	placed := false
	for _, m := range d.members {
		if m.key == "pages" {
			m.value = encoded
			placed = true
		}
		members = append(members, m)
	}
	if !placed {
		members = append(members, member{key: "pages", value: encoded})
	}
	return encodeObject(members)
}

func (d *Document) clone() *Document {
	c := &Document{members: d.members}
	c.Pages = make([]*Node, len(d.Pages))
	for i, page := range d.Pages {
		c.Pages[i] = page.Clone()
	}
	return c
}

// encode renders the document the way the authoring UI writes it: two-space
// indentation, unescaped text and a trailing newline.
func encode(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Slugify lowercases name, trims it and collapses whitespace runs into "-".
func Slugify(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), "-")
}

func timestamp(t time.Time) string {
	return t.UTC().Format(lastModifiedLayout)
}
