package rtree

import (
	"fmt"
)

// MemoryStorageManager keeps all nodes in an in-process map. Close drops
// everything; nothing is persisted.
type MemoryStorageManager struct {
	nodes   map[int32]*Node
	freeIDs []int32
	nextID  int32
	meta    *TreeMeta
	closed  bool
}

// NewMemoryStorageManager creates an empty in-memory storage manager
func NewMemoryStorageManager() *MemoryStorageManager {
	return &MemoryStorageManager{
		nodes: make(map[int32]*Node),
	}
}

// NextID allocates a fresh node ID, preferring previously freed IDs
func (m *MemoryStorageManager) NextID() (int32, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if n := len(m.freeIDs); n > 0 {
		id := m.freeIDs[n-1]
		m.freeIDs = m.freeIDs[:n-1]
		return id, nil
	}
	m.nextID++
	return m.nextID, nil
}

// Store persists a copy of the node
func (m *MemoryStorageManager) Store(n *Node) error {
	if m.closed {
		return ErrClosed
	}
	m.nodes[n.ID] = n.Copy()
	return nil
}

// Node retrieves a copy of the node stored under id
func (m *MemoryStorageManager) Node(id int32) (*Node, error) {
	if m.closed {
		return nil, ErrClosed
	}
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	return n.Copy(), nil
}

// Free releases a node ID for reuse
func (m *MemoryStorageManager) Free(id int32) error {
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.nodes[id]; !ok {
		return fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}
	delete(m.nodes, id)
	m.freeIDs = append(m.freeIDs, id)
	return nil
}

// PutMeta records the tree header
func (m *MemoryStorageManager) PutMeta(meta TreeMeta) error {
	if m.closed {
		return ErrClosed
	}
	m.meta = &meta
	return nil
}

// Meta returns the tree header, if one was recorded
func (m *MemoryStorageManager) Meta() (TreeMeta, bool, error) {
	if m.closed {
		return TreeMeta{}, false, ErrClosed
	}
	if m.meta == nil {
		return TreeMeta{}, false, nil
	}
	return *m.meta, true, nil
}

// Close drops all nodes
func (m *MemoryStorageManager) Close() error {
	if m.closed {
		return ErrClosed
	}
	m.closed = true
	m.nodes = nil
	return nil
}

// Info describes the manager
func (m *MemoryStorageManager) Info() string {
	return fmt.Sprintf("memory storage: %d nodes", len(m.nodes))
}

var _ StorageManager = (*MemoryStorageManager)(nil)
