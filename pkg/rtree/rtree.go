package rtree

import (
	"container/heap"
	"fmt"

	"github.com/TectonDB/tecton/pkg/config"
	"github.com/TectonDB/tecton/pkg/stats"
)

// RTree is a Guttman R-tree over a pluggable storage manager. The tree
// holds no node state of its own beyond the root ID and entry count;
// everything else lives in the storage manager, so a disk-backed tree
// survives reopen through its persisted header.
//
// Mutating operations must be externally synchronized.
type RTree struct {
	sm         StorageManager
	dims       int
	maxEntries int
	minEntries int
	strategy   SplitStrategy
	rootID     int32
	size       int64
	collector  stats.Collector
	closed     bool
}

// Option configures an RTree
type Option func(*RTree)

// WithTreeStats attaches a statistics sink to the tree
func WithTreeStats(collector stats.Collector) Option {
	return func(t *RTree) {
		t.collector = collector
	}
}

// New opens an R-tree over the given storage manager. When the manager
// already carries a tree header, the existing tree is adopted and its
// geometry validated against the configuration; otherwise an empty tree
// with a single leaf root is created.
func New(sm StorageManager, cfg *config.Config, opts ...Option) (*RTree, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strategy, err := strategyByName(cfg.SplitStrategy)
	if err != nil {
		return nil, err
	}

	t := &RTree{
		sm:         sm,
		dims:       cfg.Dimensions,
		maxEntries: cfg.MaxNodeEntries,
		minEntries: cfg.MinNodeEntries,
		strategy:   strategy,
	}
	for _, opt := range opts {
		opt(t)
	}

	meta, present, err := sm.Meta()
	if err != nil {
		return nil, err
	}
	if present {
		if int(meta.Dimensions) != t.dims || int(meta.MaxEntries) != t.maxEntries || int(meta.MinEntries) != t.minEntries {
			return nil, fmt.Errorf("stored tree geometry %d/%d/%d does not match configured %d/%d/%d",
				meta.Dimensions, meta.MaxEntries, meta.MinEntries, t.dims, t.maxEntries, t.minEntries)
		}
		t.rootID = meta.RootID
		t.size = meta.Size
		return t, nil
	}

	rootID, err := sm.NextID()
	if err != nil {
		return nil, err
	}
	root := NewNode(rootID, 0, t.maxEntries)
	if err := sm.Store(root); err != nil {
		return nil, err
	}
	t.rootID = rootID
	if err := t.putMeta(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *RTree) putMeta() error {
	return t.sm.PutMeta(TreeMeta{
		RootID:     t.rootID,
		Size:       t.size,
		Dimensions: uint16(t.dims),
		MaxEntries: uint16(t.maxEntries),
		MinEntries: uint16(t.minEntries),
	})
}

// Size returns the number of data entries in the tree
func (t *RTree) Size() int64 {
	return t.size
}

// Dimensions returns the dimensionality the tree was built with
func (t *RTree) Dimensions() int {
	return t.dims
}

// Info describes the tree and its storage
func (t *RTree) Info() string {
	return fmt.Sprintf("r-tree: %d entries, %d dims, %d-%d entries per node, %s split, %s",
		t.size, t.dims, t.minEntries, t.maxEntries, t.strategy.Name(), t.sm.Info())
}

// Close persists the tree header and closes the storage manager
func (t *RTree) Close() error {
	if t.closed {
		return ErrClosed
	}
	t.closed = true
	if err := t.putMeta(); err != nil {
		t.sm.Close()
		return err
	}
	return t.sm.Close()
}

func (t *RTree) checkRect(rect Rectangle) error {
	if rect.Dimensions() != t.dims {
		return fmt.Errorf("rectangle has %d dimensions, tree has %d", rect.Dimensions(), t.dims)
	}
	return nil
}

// Insert adds a data entry identified by id and bounded by rect
func (t *RTree) Insert(id int32, rect Rectangle) error {
	if t.closed {
		return ErrClosed
	}
	if err := t.checkRect(rect); err != nil {
		return err
	}

	if err := t.insertAtLevel(Entry{ID: id, Rect: rect}, 0); err != nil {
		return err
	}
	t.size++
	if t.collector != nil {
		t.collector.TrackOperation(stats.OpInsert)
	}
	return t.putMeta()
}

// insertAtLevel places an entry into a node at the given level, splitting
// and propagating upward as needed. Level 0 is ordinary leaf insertion;
// higher levels occur when condense-tree reinserts orphaned subtrees.
func (t *RTree) insertAtLevel(e Entry, level int16) error {
	path, node, err := t.chooseNode(e.Rect, level)
	if err != nil {
		return err
	}

	node.AddEntry(e)
	return t.propagate(path, node)
}

// chooseNode descends by minimum enlargement to the node at the target
// level, returning the IDs of its ancestors (root first) and the node.
func (t *RTree) chooseNode(rect Rectangle, level int16) ([]int32, *Node, error) {
	var path []int32
	node, err := t.sm.Node(t.rootID)
	if err != nil {
		return nil, nil, err
	}

	for node.Level > level {
		best, err := t.chooseSubtree(node, rect)
		if err != nil {
			return nil, nil, err
		}
		path = append(path, node.ID)
		node, err = t.sm.Node(node.Entries[best].ID)
		if err != nil {
			return nil, nil, err
		}
	}
	return path, node, nil
}

// chooseSubtree picks the child entry needing the least enlargement to
// cover rect, breaking ties by smaller area and then by fewer entries in
// the child node
func (t *RTree) chooseSubtree(node *Node, rect Rectangle) (int, error) {
	best := 0
	bestEnlargement := node.Entries[0].Rect.Enlargement(rect)
	bestArea := node.Entries[0].Rect.Area()
	tied := false

	for i := 1; i < len(node.Entries); i++ {
		enlargement := node.Entries[i].Rect.Enlargement(rect)
		if enlargement > bestEnlargement {
			continue
		}
		area := node.Entries[i].Rect.Area()
		if enlargement < bestEnlargement || area < bestArea {
			best, bestEnlargement, bestArea = i, enlargement, area
			tied = false
		} else if area == bestArea {
			tied = true
		}
	}
	if !tied {
		return best, nil
	}

	// Full tie on enlargement and area: prefer the emptier child
	bestCount := -1
	for i := range node.Entries {
		if node.Entries[i].Rect.Enlargement(rect) != bestEnlargement ||
			node.Entries[i].Rect.Area() != bestArea {
			continue
		}
		child, err := t.sm.Node(node.Entries[i].ID)
		if err != nil {
			return 0, err
		}
		if bestCount == -1 || child.EntryCount() < bestCount {
			best, bestCount = i, child.EntryCount()
		}
	}
	return best, nil
}

// propagate stores the modified node and walks the ancestor path upward,
// adjusting MBRs and splitting overflowing nodes until the change is
// absorbed or the root splits
func (t *RTree) propagate(path []int32, node *Node) error {
	var splitOff *Node

	if node.EntryCount() > t.maxEntries {
		var err error
		if splitOff, err = t.splitNode(node); err != nil {
			return err
		}
	}
	if err := t.sm.Store(node); err != nil {
		return err
	}

	for i := len(path) - 1; i >= 0; i-- {
		parent, err := t.sm.Node(path[i])
		if err != nil {
			return err
		}
		idx := parent.FindEntry(node.ID)
		if idx < 0 {
			return fmt.Errorf("node %d missing from parent %d", node.ID, parent.ID)
		}
		parent.Entries[idx].Rect.Set(node.MBR())
		if splitOff != nil {
			parent.AddEntry(Entry{ID: splitOff.ID, Rect: splitOff.MBR()})
		}

		splitOff = nil
		if parent.EntryCount() > t.maxEntries {
			if splitOff, err = t.splitNode(parent); err != nil {
				return err
			}
		}
		if err := t.sm.Store(parent); err != nil {
			return err
		}
		node = parent
	}

	if splitOff != nil {
		return t.growRoot(node, splitOff)
	}
	return nil
}

// splitNode divides an overflowing node in place, returning the newly
// created sibling (already stored)
func (t *RTree) splitNode(node *Node) (*Node, error) {
	groupA, groupB := splitEntries(node.Entries, t.strategy, t.minEntries)

	siblingID, err := t.sm.NextID()
	if err != nil {
		return nil, err
	}
	sibling := NewNode(siblingID, node.Level, t.maxEntries)
	sibling.Entries = append(sibling.Entries, groupB...)

	node.Entries = node.Entries[:0]
	node.Entries = append(node.Entries, groupA...)

	if err := t.sm.Store(sibling); err != nil {
		return nil, err
	}
	if t.collector != nil {
		t.collector.TrackOperation(stats.OpNodeSplit)
	}
	return sibling, nil
}

// growRoot replaces a split root with a new root one level up
func (t *RTree) growRoot(oldRoot, sibling *Node) error {
	rootID, err := t.sm.NextID()
	if err != nil {
		return err
	}
	root := NewNode(rootID, oldRoot.Level+1, t.maxEntries)
	root.AddEntry(Entry{ID: oldRoot.ID, Rect: oldRoot.MBR()})
	root.AddEntry(Entry{ID: sibling.ID, Rect: sibling.MBR()})
	if err := t.sm.Store(root); err != nil {
		return err
	}
	t.rootID = rootID
	return nil
}

// SearchFunc calls fn for every data entry whose rectangle intersects
// query. Returning false from fn stops the search.
func (t *RTree) SearchFunc(query Rectangle, fn func(id int32, rect Rectangle) bool) error {
	if t.closed {
		return ErrClosed
	}
	if err := t.checkRect(query); err != nil {
		return err
	}
	if t.collector != nil {
		t.collector.TrackOperation(stats.OpSearch)
	}
	_, err := t.search(t.rootID, query, fn)
	return err
}

func (t *RTree) search(id int32, query Rectangle, fn func(int32, Rectangle) bool) (bool, error) {
	node, err := t.sm.Node(id)
	if err != nil {
		return false, err
	}
	for _, e := range node.Entries {
		if !e.Rect.Intersects(query) {
			continue
		}
		if node.IsLeaf() {
			if !fn(e.ID, e.Rect) {
				return false, nil
			}
			continue
		}
		keepGoing, err := t.search(e.ID, query, fn)
		if err != nil || !keepGoing {
			return keepGoing, err
		}
	}
	return true, nil
}

// Search returns the IDs of all data entries intersecting query
func (t *RTree) Search(query Rectangle) ([]int32, error) {
	var ids []int32
	err := t.SearchFunc(query, func(id int32, _ Rectangle) bool {
		ids = append(ids, id)
		return true
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete removes the data entry with the given id and exact rectangle.
// It reports whether an entry was removed.
func (t *RTree) Delete(id int32, rect Rectangle) (bool, error) {
	if t.closed {
		return false, ErrClosed
	}
	if err := t.checkRect(rect); err != nil {
		return false, err
	}

	path, leaf, idx, err := t.findLeaf(t.rootID, nil, id, rect)
	if err != nil {
		return false, err
	}
	if leaf == nil {
		return false, nil
	}

	leaf.RemoveEntryAt(idx)
	if err := t.condense(path, leaf); err != nil {
		return false, err
	}
	t.size--
	if t.collector != nil {
		t.collector.TrackOperation(stats.OpDelete)
	}
	return true, t.putMeta()
}

// findLeaf locates the leaf holding the (id, rect) entry, descending into
// every subtree whose MBR contains rect. Returns a nil leaf when no such
// entry exists.
func (t *RTree) findLeaf(nodeID int32, path []int32, id int32, rect Rectangle) ([]int32, *Node, int, error) {
	node, err := t.sm.Node(nodeID)
	if err != nil {
		return nil, nil, 0, err
	}

	if node.IsLeaf() {
		for i, e := range node.Entries {
			if e.ID == id && e.Rect.Equal(rect) {
				return path, node, i, nil
			}
		}
		return nil, nil, 0, nil
	}

	for _, e := range node.Entries {
		if !e.Rect.Contains(rect) {
			continue
		}
		foundPath, leaf, idx, err := t.findLeaf(e.ID, append(path, nodeID), id, rect)
		if err != nil {
			return nil, nil, 0, err
		}
		if leaf != nil {
			return foundPath, leaf, idx, nil
		}
	}
	return nil, nil, 0, nil
}

// condense walks the ancestor path upward after a leaf deletion. Nodes
// that underflow are removed from their parents and their surviving
// entries reinserted at their original level; surviving nodes get their
// MBRs tightened. Finally an internal root with a single entry is
// replaced by its only child.
func (t *RTree) condense(path []int32, node *Node) error {
	type orphan struct {
		entry Entry
		level int16
	}
	var orphans []orphan

	for i := len(path) - 1; i >= 0; i-- {
		parent, err := t.sm.Node(path[i])
		if err != nil {
			return err
		}
		idx := parent.FindEntry(node.ID)
		if idx < 0 {
			return fmt.Errorf("node %d missing from parent %d", node.ID, parent.ID)
		}

		if node.EntryCount() < t.minEntries {
			parent.RemoveEntryAt(idx)
			for _, e := range node.Entries {
				orphans = append(orphans, orphan{entry: e.Copy(), level: node.Level})
			}
			if err := t.sm.Free(node.ID); err != nil {
				return err
			}
		} else {
			parent.Entries[idx].Rect.Set(node.MBR())
			if err := t.sm.Store(node); err != nil {
				return err
			}
		}
		node = parent
	}

	// node is now the root
	if err := t.sm.Store(node); err != nil {
		return err
	}

	for _, o := range orphans {
		if err := t.insertAtLevel(o.entry, o.level); err != nil {
			return err
		}
	}

	return t.shrinkRoot()
}

// shrinkRoot collapses an internal root holding a single entry into its
// only child, repeating until the root is a leaf or has multiple entries
func (t *RTree) shrinkRoot() error {
	for {
		root, err := t.sm.Node(t.rootID)
		if err != nil {
			return err
		}
		if root.IsLeaf() || root.EntryCount() != 1 {
			return nil
		}
		childID := root.Entries[0].ID
		if err := t.sm.Free(root.ID); err != nil {
			return err
		}
		t.rootID = childID
	}
}

// Neighbor is one nearest-neighbor result
type Neighbor struct {
	ID       int32
	Rect     Rectangle
	Distance float64
}

// nearestItem sits on the traversal heap: either a node awaiting
// expansion or a data entry awaiting emission
type nearestItem struct {
	distance float64
	isEntry  bool
	id       int32
	rect     Rectangle
}

type nearestQueue []nearestItem

func (q nearestQueue) Len() int            { return len(q) }
func (q nearestQueue) Less(i, j int) bool  { return q[i].distance < q[j].distance }
func (q nearestQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *nearestQueue) Push(x interface{}) { *q = append(*q, x.(nearestItem)) }
func (q *nearestQueue) Pop() interface{} {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// Nearest returns up to k data entries closest to the given point, in
// ascending distance order. Traversal is best-first on minimum distance,
// so nodes further than the k-th result are never expanded.
func (t *RTree) Nearest(point []float64, k int) ([]Neighbor, error) {
	if t.closed {
		return nil, ErrClosed
	}
	if len(point) != t.dims {
		return nil, fmt.Errorf("point has %d dimensions, tree has %d", len(point), t.dims)
	}
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if t.collector != nil {
		t.collector.TrackOperation(stats.OpNearest)
	}

	queue := &nearestQueue{{id: t.rootID}}
	var results []Neighbor

	for queue.Len() > 0 && len(results) < k {
		item := heap.Pop(queue).(nearestItem)
		if item.isEntry {
			results = append(results, Neighbor{ID: item.id, Rect: item.rect, Distance: item.distance})
			continue
		}

		node, err := t.sm.Node(item.id)
		if err != nil {
			return nil, err
		}
		for _, e := range node.Entries {
			heap.Push(queue, nearestItem{
				distance: e.Rect.Distance(point),
				isEntry:  node.IsLeaf(),
				id:       e.ID,
				rect:     e.Rect,
			})
		}
	}
	return results, nil
}
