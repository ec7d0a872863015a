package rtree

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
)

func TestMemoryStorageRoundTrip(t *testing.T) {
	sm := NewMemoryStorageManager()
	defer sm.Close()

	id, err := sm.NextID()
	if err != nil {
		t.Fatalf("Failed to allocate ID: %v", err)
	}
	n := NewNode(id, 0, 4)
	n.AddEntry(Entry{ID: 1, Rect: mustRect(t, []float64{0, 0}, []float64{1, 1})})
	if err := sm.Store(n); err != nil {
		t.Fatalf("Failed to store node: %v", err)
	}

	got, err := sm.Node(id)
	if err != nil {
		t.Fatalf("Failed to load node: %v", err)
	}
	if got.EntryCount() != 1 || got.Entries[0].ID != 1 {
		t.Errorf("Loaded node does not match stored node")
	}
}

func TestMemoryStorageDefensiveCopies(t *testing.T) {
	sm := NewMemoryStorageManager()
	defer sm.Close()

	id, _ := sm.NextID()
	n := NewNode(id, 0, 4)
	n.AddEntry(Entry{ID: 1, Rect: mustRect(t, []float64{0, 0}, []float64{1, 1})})
	if err := sm.Store(n); err != nil {
		t.Fatalf("Failed to store node: %v", err)
	}

	// Mutating the stored original must not affect later reads
	n.Entries[0].Rect.Min[0] = -99

	got, _ := sm.Node(id)
	if got.Entries[0].Rect.Min[0] != 0 {
		t.Error("Mutation of the caller's node leaked into storage")
	}

	// Mutating a loaded copy must not affect storage either
	got.Entries[0].ID = 777
	again, _ := sm.Node(id)
	if again.Entries[0].ID != 1 {
		t.Error("Mutation of a loaded copy leaked into storage")
	}
}

func TestMemoryStorageFreeReusesIDs(t *testing.T) {
	sm := NewMemoryStorageManager()
	defer sm.Close()

	first, _ := sm.NextID()
	sm.Store(NewNode(first, 0, 4))
	second, _ := sm.NextID()
	sm.Store(NewNode(second, 0, 4))

	if err := sm.Free(first); err != nil {
		t.Fatalf("Failed to free node: %v", err)
	}
	if _, err := sm.Node(first); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Expected ErrNodeNotFound after free, got %v", err)
	}

	reused, _ := sm.NextID()
	if reused != first {
		t.Errorf("Expected freed ID %d to be reused, got %d", first, reused)
	}
}

func TestMemoryStorageClosed(t *testing.T) {
	sm := NewMemoryStorageManager()
	sm.Close()

	if _, err := sm.NextID(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from NextID, got %v", err)
	}
	if err := sm.Store(NewNode(1, 0, 4)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Store, got %v", err)
	}
	if err := sm.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from double Close, got %v", err)
	}
}

func TestNodeBufferWriteBack(t *testing.T) {
	written := make(map[int32]*Node)
	fetch := func(id int32) (*Node, error) {
		n, ok := written[id]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
		}
		return n.Copy(), nil
	}
	write := func(n *Node) error {
		written[n.ID] = n.Copy()
		return nil
	}

	buf := newNodeBuffer(2, fetch, write)

	for id := int32(1); id <= 3; id++ {
		n := NewNode(id, 0, 4)
		if err := buf.put(n); err != nil {
			t.Fatalf("Failed to buffer node %d: %v", id, err)
		}
	}

	// Capacity 2: node 1 must have been evicted and written back
	if _, ok := written[1]; !ok {
		t.Error("Evicted dirty node was not written back")
	}
	if _, ok := written[3]; ok {
		t.Error("Buffered node was written before eviction or flush")
	}

	if err := buf.flush(); err != nil {
		t.Fatalf("Failed to flush buffer: %v", err)
	}
	for id := int32(1); id <= 3; id++ {
		if _, ok := written[id]; !ok {
			t.Errorf("Node %d missing after flush", id)
		}
	}
}

func TestNodeBufferDropDiscards(t *testing.T) {
	writes := 0
	buf := newNodeBuffer(4,
		func(id int32) (*Node, error) { return nil, ErrNodeNotFound },
		func(n *Node) error { writes++; return nil })

	buf.put(NewNode(1, 0, 4))
	buf.drop(1)
	if err := buf.flush(); err != nil {
		t.Fatalf("Failed to flush buffer: %v", err)
	}
	if writes != 0 {
		t.Errorf("Dropped node was written back %d times", writes)
	}
}

func openDiskStorage(t *testing.T, prefix string, opts *DiskOptions) *DiskStorageManager {
	t.Helper()
	sm, err := OpenDiskStorageManager(prefix, 2, 4, opts)
	if err != nil {
		t.Fatalf("Failed to open disk storage: %v", err)
	}
	return sm
}

func TestDiskStorageRoundTripAcrossReopen(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "nodes")

	sm := openDiskStorage(t, prefix, nil)
	id, err := sm.NextID()
	if err != nil {
		t.Fatalf("Failed to allocate ID: %v", err)
	}
	n := NewNode(id, 1, 4)
	n.AddEntry(Entry{ID: 9, Rect: mustRect(t, []float64{1, 2}, []float64{3, 4})})
	if err := sm.Store(n); err != nil {
		t.Fatalf("Failed to store node: %v", err)
	}
	if err := sm.PutMeta(TreeMeta{RootID: id, Size: 1, Dimensions: 2, MaxEntries: 4, MinEntries: 2}); err != nil {
		t.Fatalf("Failed to store meta: %v", err)
	}
	if err := sm.Close(); err != nil {
		t.Fatalf("Failed to close storage: %v", err)
	}

	sm = openDiskStorage(t, prefix, nil)
	defer sm.Close()

	meta, present, err := sm.Meta()
	if err != nil {
		t.Fatalf("Failed to load meta: %v", err)
	}
	if !present || meta.RootID != id || meta.Size != 1 {
		t.Errorf("Reopened meta = %+v (present=%v), want root %d size 1", meta, present, id)
	}

	got, err := sm.Node(id)
	if err != nil {
		t.Fatalf("Failed to load node after reopen: %v", err)
	}
	if got.Level != 1 || got.EntryCount() != 1 || got.Entries[0].ID != 9 {
		t.Errorf("Reopened node does not match stored node: %+v", got)
	}
	if !got.Entries[0].Rect.Equal(mustRect(t, []float64{1, 2}, []float64{3, 4})) {
		t.Errorf("Reopened entry rect = %v", got.Entries[0].Rect)
	}
}

func TestDiskStorageGeometryMismatch(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "nodes")

	sm := openDiskStorage(t, prefix, nil)
	id, _ := sm.NextID()
	sm.Store(NewNode(id, 0, 4))
	if err := sm.PutMeta(TreeMeta{RootID: id, Dimensions: 2, MaxEntries: 4, MinEntries: 2}); err != nil {
		t.Fatalf("Failed to store meta: %v", err)
	}
	sm.Close()

	if _, err := OpenDiskStorageManager(prefix, 3, 4, nil); err == nil {
		t.Error("Expected error reopening with mismatched dimensions")
	}
	if _, err := OpenDiskStorageManager(prefix, 2, 8, nil); err == nil {
		t.Error("Expected error reopening with mismatched max entries")
	}
}

func TestDiskStorageFreeRecyclesBlocks(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "nodes")
	sm := openDiskStorage(t, prefix, nil)

	first, _ := sm.NextID()
	sm.Store(NewNode(first, 0, 4))
	second, _ := sm.NextID()
	sm.Store(NewNode(second, 0, 4))

	if err := sm.Free(first); err != nil {
		t.Fatalf("Failed to free node: %v", err)
	}
	if _, err := sm.Node(first); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("Expected ErrNodeNotFound after free, got %v", err)
	}

	reused, _ := sm.NextID()
	if reused != first {
		t.Errorf("Expected freed block %d to be reused, got %d", first, reused)
	}
	sm.Close()
}

func TestDiskStorageFreeSurvivesRescan(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "nodes")

	sm := openDiskStorage(t, prefix, nil)
	first, _ := sm.NextID()
	sm.Store(NewNode(first, 0, 4))
	second, _ := sm.NextID()
	sm.Store(NewNode(second, 0, 4))
	third, _ := sm.NextID()
	sm.Store(NewNode(third, 0, 4))
	if err := sm.Free(second); err != nil {
		t.Fatalf("Failed to free node: %v", err)
	}
	sm.Close()

	// The sentinel convention must make the freed block visible to a fresh
	// scan on reopen
	sm = openDiskStorage(t, prefix, nil)
	defer sm.Close()
	reused, err := sm.NextID()
	if err != nil {
		t.Fatalf("Failed to allocate after reopen: %v", err)
	}
	if reused != second {
		t.Errorf("Expected freed block %d to be reused after rescan, got %d", second, reused)
	}
}

func TestDiskStorageBlockSizeTooSmall(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "nodes")
	_, err := OpenDiskStorageManager(prefix, 2, 4, &DiskOptions{BlockSize: 16})
	if err == nil {
		t.Error("Expected error for a block size below the node record size")
	}
}

func TestDiskStorageClosedOperations(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "nodes")
	sm := openDiskStorage(t, prefix, nil)
	sm.Close()

	if _, err := sm.NextID(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from NextID, got %v", err)
	}
	if _, err := sm.Node(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Node, got %v", err)
	}
	if err := sm.Store(NewNode(1, 0, 4)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Store, got %v", err)
	}
}

func TestDiskStorageDestroyRemovesFiles(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "nodes")
	sm := openDiskStorage(t, prefix, nil)
	id, _ := sm.NextID()
	sm.Store(NewNode(id, 0, 4))

	if err := sm.Destroy(); err != nil {
		t.Fatalf("Failed to destroy storage: %v", err)
	}

	// A fresh open must start empty
	sm = openDiskStorage(t, prefix, nil)
	defer sm.Close()
	if _, present, err := sm.Meta(); err != nil || present {
		t.Errorf("Expected no meta after destroy, present=%v err=%v", present, err)
	}
}
