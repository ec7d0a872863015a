package rtree

import (
	"container/list"
	"fmt"
)

// nodeBuffer is a capacity-bounded write-back cache sitting between the
// disk storage manager and its block file. It holds the single canonical
// in-flight copy of each buffered node; callers only ever see copies, so
// buffered state cannot be corrupted without an explicit re-store.
//
// Writes are deferred until eviction or flush: Close on the owning manager
// must flush, or buffered mutations are lost.
type nodeBuffer struct {
	capacity int
	elements map[int32]*list.Element
	order    *list.List // front = most recently used
	fetch    func(id int32) (*Node, error)
	write    func(n *Node) error
}

type bufferedNode struct {
	node  *Node
	dirty bool
}

func newNodeBuffer(capacity int, fetch func(int32) (*Node, error), write func(*Node) error) *nodeBuffer {
	return &nodeBuffer{
		capacity: capacity,
		elements: make(map[int32]*list.Element),
		order:    list.New(),
		fetch:    fetch,
		write:    write,
	}
}

// get returns a copy of the node, loading it through fetch on a miss
func (b *nodeBuffer) get(id int32) (*Node, error) {
	if elem, ok := b.elements[id]; ok {
		b.order.MoveToFront(elem)
		return elem.Value.(*bufferedNode).node.Copy(), nil
	}

	n, err := b.fetch(id)
	if err != nil {
		return nil, err
	}
	if err := b.insert(&bufferedNode{node: n}); err != nil {
		return nil, err
	}
	return n.Copy(), nil
}

// put buffers a copy of the node as dirty, deferring the physical write
func (b *nodeBuffer) put(n *Node) error {
	if elem, ok := b.elements[n.ID]; ok {
		buffered := elem.Value.(*bufferedNode)
		buffered.node = n.Copy()
		buffered.dirty = true
		b.order.MoveToFront(elem)
		return nil
	}
	return b.insert(&bufferedNode{node: n.Copy(), dirty: true})
}

// insert adds a buffered node and evicts down to capacity
func (b *nodeBuffer) insert(buffered *bufferedNode) error {
	b.elements[buffered.node.ID] = b.order.PushFront(buffered)

	for b.order.Len() > b.capacity {
		tail := b.order.Back()
		victim := tail.Value.(*bufferedNode)
		if victim.dirty {
			if err := b.write(victim.node); err != nil {
				return fmt.Errorf("failed to write back node %d: %w", victim.node.ID, err)
			}
		}
		b.order.Remove(tail)
		delete(b.elements, victim.node.ID)
	}
	return nil
}

// drop discards a buffered node without writing it back
func (b *nodeBuffer) drop(id int32) {
	if elem, ok := b.elements[id]; ok {
		b.order.Remove(elem)
		delete(b.elements, id)
	}
}

// flush writes every dirty node back, keeping the buffer contents
func (b *nodeBuffer) flush() error {
	for elem := b.order.Front(); elem != nil; elem = elem.Next() {
		buffered := elem.Value.(*bufferedNode)
		if !buffered.dirty {
			continue
		}
		if err := b.write(buffered.node); err != nil {
			return fmt.Errorf("failed to flush node %d: %w", buffered.node.ID, err)
		}
		buffered.dirty = false
	}
	return nil
}

// len returns the number of buffered nodes
func (b *nodeBuffer) len() int {
	return b.order.Len()
}
