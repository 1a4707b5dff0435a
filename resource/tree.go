// Package resource models the resource directory of an executable as a tree of
// type → name → language, with leaf data kept in a flat arena.
package resource

import (
	"sort"

	"github.com/maja42/exeup/errdefs"
)

// Entry is a single resource leaf.
type Entry struct {
	Type     Identifier
	Name     Identifier
	Lang     uint16
	CodePage uint32
	Data     []byte
}

// dirMeta holds the directory table fields that are carried over unchanged.
type dirMeta struct {
	Characteristics uint32
	TimeDateStamp   uint32
	MajorVersion    uint16
	MinorVersion    uint16
}

type directory struct {
	meta     dirMeta
	children []*node
}

type node struct {
	id   Identifier
	dir  *directory // set for type and name levels
	leaf *leaf      // set for the language level
}

type leaf struct {
	off, size int
	codePage  uint32
	reserved  uint32
}

// source is a parsed resource section, reproduced while the tree is unmodified.
type source struct {
	data    []byte
	rva     uint32
	entries []uint32 // offsets of the data entries within data
}

// Tree is an in-memory resource directory.
type Tree struct {
	root  *directory
	arena []byte
	src   *source
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{root: &directory{}}
}

func (d *directory) child(id Identifier) *node {
	for _, c := range d.children {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (d *directory) remove(id Identifier) {
	for i, c := range d.children {
		if c.id == id {
			d.children = append(d.children[:i], d.children[i+1:]...)
			return
		}
	}
}

func (d *directory) sorted() []*node {
	s := append([]*node(nil), d.children...)
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].id.less(s[j].id)
	})
	return s
}

func (t *Tree) lookup(typ, name Identifier, lang uint16) *leaf {
	tn := t.root.child(typ)
	if tn == nil {
		return nil
	}
	nn := tn.dir.child(name)
	if nn == nil {
		return nil
	}
	ln := nn.dir.child(ID(lang))
	if ln == nil {
		return nil
	}
	return ln.leaf
}

func (t *Tree) data(l *leaf) []byte {
	return append([]byte(nil), t.arena[l.off:l.off+l.size]...)
}

// Get returns a copy of the data stored for the given triple.
func (t *Tree) Get(typ, name Identifier, lang uint16) ([]byte, error) {
	l := t.lookup(typ, name, lang)
	if l == nil {
		return nil, errdefs.New(errdefs.ErrResourceNotFound, "resource %s/%s/%d not found", typ, name, lang)
	}
	return t.data(l), nil
}

// Has reports whether the given triple exists.
func (t *Tree) Has(typ, name Identifier, lang uint16) bool {
	return t.lookup(typ, name, lang) != nil
}

// Put inserts or replaces a resource.
// Replacing data of the same size reuses its arena slot.
func (t *Tree) Put(typ, name Identifier, lang uint16, data []byte) {
	t.src = nil
	if l := t.lookup(typ, name, lang); l != nil {
		if l.size == len(data) {
			copy(t.arena[l.off:], data)
			return
		}
		l.off, l.size = t.store(data)
		return
	}

	tn := t.root.child(typ)
	if tn == nil {
		tn = &node{id: typ, dir: &directory{}}
		t.root.children = append(t.root.children, tn)
	}
	nn := tn.dir.child(name)
	if nn == nil {
		nn = &node{id: name, dir: &directory{}}
		tn.dir.children = append(tn.dir.children, nn)
	}
	l := &leaf{}
	l.off, l.size = t.store(data)
	nn.dir.children = append(nn.dir.children, &node{id: ID(lang), leaf: l})
}

func (t *Tree) store(data []byte) (int, int) {
	off := len(t.arena)
	t.arena = append(t.arena, data...)
	return off, len(data)
}

// Delete removes a resource and prunes directories left empty.
// Returns false if the triple did not exist.
func (t *Tree) Delete(typ, name Identifier, lang uint16) bool {
	if t.lookup(typ, name, lang) == nil {
		return false
	}
	t.src = nil
	tn := t.root.child(typ)
	nn := tn.dir.child(name)
	nn.dir.remove(ID(lang))
	if len(nn.dir.children) == 0 {
		tn.dir.remove(name)
	}
	if len(tn.dir.children) == 0 {
		t.root.remove(typ)
	}
	return true
}

// Len returns the number of resources.
func (t *Tree) Len() int {
	n := 0
	for _, tn := range t.root.children {
		for _, nn := range tn.dir.children {
			n += len(nn.dir.children)
		}
	}
	return n
}

// Entries returns all resources in directory order.
func (t *Tree) Entries() []Entry {
	var entries []Entry
	for _, tn := range t.root.sorted() {
		for _, nn := range tn.dir.sorted() {
			for _, ln := range nn.dir.sorted() {
				entries = append(entries, Entry{
					Type:     tn.id,
					Name:     nn.id,
					Lang:     ln.id.ID,
					CodePage: ln.leaf.codePage,
					Data:     t.data(ln.leaf),
				})
			}
		}
	}
	return entries
}

// Types returns the resource types in directory order.
func (t *Tree) Types() []Identifier {
	var ids []Identifier
	for _, tn := range t.root.sorted() {
		ids = append(ids, tn.id)
	}
	return ids
}

// Names returns the resource names of a type in directory order.
func (t *Tree) Names(typ Identifier) []Identifier {
	tn := t.root.child(typ)
	if tn == nil {
		return nil
	}
	var ids []Identifier
	for _, nn := range tn.dir.sorted() {
		ids = append(ids, nn.id)
	}
	return ids
}

// Languages returns the languages of a resource in directory order.
func (t *Tree) Languages(typ, name Identifier) []uint16 {
	tn := t.root.child(typ)
	if tn == nil {
		return nil
	}
	nn := tn.dir.child(name)
	if nn == nil {
		return nil
	}
	var langs []uint16
	for _, ln := range nn.dir.sorted() {
		langs = append(langs, ln.id.ID)
	}
	return langs
}

// First returns the first name and language of a resource type.
// ok is false if the type does not exist.
func (t *Tree) First(typ Identifier) (name Identifier, lang uint16, ok bool) {
	names := t.Names(typ)
	if len(names) == 0 {
		return Identifier{}, 0, false
	}
	langs := t.Languages(typ, names[0])
	return names[0], langs[0], true
}
