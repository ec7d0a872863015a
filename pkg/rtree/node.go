package rtree

// Entry is a node slot: in a leaf it references an external data object,
// in an internal node it references a child node whose MBR it carries.
type Entry struct {
	ID   int32
	Rect Rectangle
}

// Copy returns an independent deep copy of the entry
func (e Entry) Copy() Entry {
	return Entry{ID: e.ID, Rect: e.Rect.Copy()}
}

// Node is one R-tree node. Level 0 is a leaf. Nodes handed out by a
// storage manager are defensive copies: mutations take effect only when
// the node is stored again.
type Node struct {
	ID      int32
	Level   int16
	Entries []Entry
}

// NewNode creates an empty node with capacity for one transient overflow
// entry beyond maxEntries
func NewNode(id int32, level int16, maxEntries int) *Node {
	return &Node{
		ID:      id,
		Level:   level,
		Entries: make([]Entry, 0, maxEntries+1),
	}
}

// IsLeaf reports whether the node is at leaf level
func (n *Node) IsLeaf() bool {
	return n.Level == 0
}

// EntryCount returns the number of live entries
func (n *Node) EntryCount() int {
	return len(n.Entries)
}

// AddEntry appends a deep copy of the entry
func (n *Node) AddEntry(e Entry) {
	n.Entries = append(n.Entries, e.Copy())
}

// RemoveEntryAt deletes the entry at index i, preserving order
func (n *Node) RemoveEntryAt(i int) {
	n.Entries = append(n.Entries[:i], n.Entries[i+1:]...)
}

// FindEntry returns the index of the entry referencing id, or -1
func (n *Node) FindEntry(id int32) int {
	for i := range n.Entries {
		if n.Entries[i].ID == id {
			return i
		}
	}
	return -1
}

// MBR returns the minimum bounding rectangle of all entries. It must not
// be called on an empty node.
func (n *Node) MBR() Rectangle {
	mbr := n.Entries[0].Rect.Copy()
	for _, e := range n.Entries[1:] {
		mbr.Add(e.Rect)
	}
	return mbr
}

// Copy returns an independent deep copy of the node
func (n *Node) Copy() *Node {
	c := &Node{
		ID:      n.ID,
		Level:   n.Level,
		Entries: make([]Entry, 0, cap(n.Entries)),
	}
	for _, e := range n.Entries {
		c.Entries = append(c.Entries, e.Copy())
	}
	return c
}
