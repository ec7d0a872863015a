package liststore

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func openIntStore(t *testing.T, opts *Options) *Store[Int32Record] {
	t.Helper()
	prefix := filepath.Join(t.TempDir(), "lists")
	s, err := Open[Int32Record](prefix, Int32Factory{}, opts)
	if err != nil {
		t.Fatalf("Failed to open list store: %v", err)
	}
	return s
}

func ints(vs ...int32) []Int32Record {
	records := make([]Int32Record, len(vs))
	for i, v := range vs {
		records[i] = Int32Record(v)
	}
	return records
}

func TestPutGetRemoveScenario(t *testing.T) {
	s := openIntStore(t, nil)
	defer s.Close()

	if err := s.PutList(1, ints(50)); err != nil {
		t.Fatalf("Failed to put list 1: %v", err)
	}
	if err := s.PutList(2, ints(10, 11)); err != nil {
		t.Fatalf("Failed to put list 2: %v", err)
	}
	if err := s.PutList(3, ints(6, 7, 8)); err != nil {
		t.Fatalf("Failed to put list 3: %v", err)
	}

	if err := s.Remove(3); err != nil {
		t.Fatalf("Failed to remove list 3: %v", err)
	}

	got3, err := s.List(3)
	if err != nil {
		t.Fatalf("Failed to get list 3: %v", err)
	}
	if got3 != nil {
		t.Errorf("Removed list should be nil, got %v", got3)
	}

	got2, err := s.List(2)
	if err != nil {
		t.Fatalf("Failed to get list 2: %v", err)
	}
	if !reflect.DeepEqual(got2, ints(10, 11)) {
		t.Errorf("List 2 mismatch: got %v", got2)
	}

	got1, err := s.List(1)
	if err != nil {
		t.Fatalf("Failed to get list 1: %v", err)
	}
	if !reflect.DeepEqual(got1, ints(50)) {
		t.Errorf("List 1 mismatch: got %v", got1)
	}
}

func TestListSizeAndAbsence(t *testing.T) {
	s := openIntStore(t, nil)
	defer s.Close()

	n, err := s.ListSize(7)
	if err != nil {
		t.Fatalf("Failed to size absent list: %v", err)
	}
	if n != 0 {
		t.Errorf("Absent list should have size 0, got %d", n)
	}

	it, err := s.Entries(7)
	if err != nil {
		t.Fatalf("Failed to get iterator for absent list: %v", err)
	}
	if it != nil {
		t.Errorf("Absent list should yield a nil iterator")
	}

	if err := s.PutList(7, ints(1, 2, 3, 4)); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	n, _ = s.ListSize(7)
	if n != 4 {
		t.Errorf("Expected size 4, got %d", n)
	}
}

func TestEmptyListRejected(t *testing.T) {
	s := openIntStore(t, nil)
	defer s.Close()

	if err := s.PutList(1, nil); !errors.Is(err, ErrEmptyList) {
		t.Errorf("Expected ErrEmptyList, got %v", err)
	}
}

func TestSameSizeOverwriteReusesPointer(t *testing.T) {
	s := openIntStore(t, nil)
	defer s.Close()

	if err := s.PutList(1, ints(1, 2, 3)); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	p1, _, err := s.readIndex(1)
	if err != nil {
		t.Fatalf("Failed to read index: %v", err)
	}

	if err := s.PutList(1, ints(4, 5, 6)); err != nil {
		t.Fatalf("Failed to overwrite: %v", err)
	}
	p2, _, _ := s.readIndex(1)
	if p2 != p1 {
		t.Errorf("Same-size overwrite should reuse pointer %d, got %d", p1, p2)
	}
	if s.alloc.RunCount() != 0 {
		t.Errorf("Same-size overwrite should not touch the free list")
	}

	got, _ := s.List(1)
	if !reflect.DeepEqual(got, ints(4, 5, 6)) {
		t.Errorf("Overwritten list mismatch: got %v", got)
	}
}

func TestGrownListReallocates(t *testing.T) {
	s := openIntStore(t, nil)
	defer s.Close()

	if err := s.PutList(1, ints(1, 2)); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	p1, _, _ := s.readIndex(1)

	if err := s.PutList(1, ints(1, 2, 3)); err != nil {
		t.Fatalf("Failed to grow: %v", err)
	}
	p2, _, _ := s.readIndex(1)
	if p2 == p1 {
		t.Errorf("Grown list should have been reallocated")
	}
	if s.alloc.RunCount() != 1 {
		t.Errorf("Old run should be on the free list, got %d runs", s.alloc.RunCount())
	}

	got, _ := s.List(1)
	if !reflect.DeepEqual(got, ints(1, 2, 3)) {
		t.Errorf("Grown list mismatch: got %v", got)
	}
}

func TestLazyIteratorChunking(t *testing.T) {
	// Chunk of 8 bytes = two int32 records per physical read
	s := openIntStore(t, &Options{ChunkSize: 8})
	defer s.Close()

	want := ints(10, 20, 30, 40, 50)
	if err := s.PutList(1, want); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	it, err := s.Entries(1)
	if err != nil {
		t.Fatalf("Failed to get iterator: %v", err)
	}
	var got []Int32Record
	for it.Next() {
		got = append(got, it.Record())
	}
	if err := it.Err(); err != nil {
		t.Fatalf("Iterator error: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Iterator yielded %v, want %v", got, want)
	}
	if it.Next() {
		t.Errorf("Exhausted iterator should keep returning false")
	}
}

func TestKeysScan(t *testing.T) {
	s := openIntStore(t, nil)
	defer s.Close()

	for _, key := range []int{2, 5, 9} {
		if err := s.PutList(key, ints(int32(key))); err != nil {
			t.Fatalf("Failed to put key %d: %v", key, err)
		}
	}
	if err := s.Remove(5); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}

	keys, err := s.Keys()
	if err != nil {
		t.Fatalf("Failed to scan keys: %v", err)
	}
	if !reflect.DeepEqual(keys, []int{2, 9}) {
		t.Errorf("Keys mismatch: got %v", keys)
	}
	if s.MaxKey() != 9 {
		t.Errorf("Expected max key 9, got %d", s.MaxKey())
	}
}

func TestReopenPreservesListsAndFreeSpace(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "lists")

	s, err := Open[Int32Record](prefix, Int32Factory{}, nil)
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	if err := s.PutList(1, ints(1, 2, 3)); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := s.PutList(2, ints(9)); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := s.Remove(1); err != nil {
		t.Fatalf("Failed to remove: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	s2, err := Open[Int32Record](prefix, Int32Factory{}, nil)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.List(2)
	if err != nil {
		t.Fatalf("Failed to get after reopen: %v", err)
	}
	if !reflect.DeepEqual(got, ints(9)) {
		t.Errorf("List 2 mismatch after reopen: got %v", got)
	}

	// The freed 12-byte run from key 1 survives the snapshot round trip
	if s2.alloc.RunCount() != 1 {
		t.Errorf("Expected one restored free run, got %d", s2.alloc.RunCount())
	}
	if err := s2.PutList(3, ints(7, 8, 9)); err != nil {
		t.Fatalf("Failed to put after reopen: %v", err)
	}
	p3, _, _ := s2.readIndex(3)
	if p3 != 8 {
		t.Errorf("Expected reuse of the freed run at offset 8, got %d", p3)
	}
}

func TestMetadataStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tree.mtd")

	m, err := OpenMetadata[Int32Record](path, Int32Factory{})
	if err != nil {
		t.Fatalf("Failed to open metadata: %v", err)
	}

	_, present, err := m.Load()
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if present {
		t.Errorf("Fresh metadata should be absent")
	}

	if err := m.Store(Int32Record(42)); err != nil {
		t.Fatalf("Failed to store: %v", err)
	}
	got, present, err := m.Load()
	if err != nil {
		t.Fatalf("Failed to load: %v", err)
	}
	if !present || got != 42 {
		t.Errorf("Expected present record 42, got %v present=%v", got, present)
	}

	// Survives reopen
	m2, err := OpenMetadata[Int32Record](path, Int32Factory{})
	if err != nil {
		t.Fatalf("Failed to reopen metadata: %v", err)
	}
	got, present, _ = m2.Load()
	if !present || got != 42 {
		t.Errorf("Expected persisted record 42, got %v present=%v", got, present)
	}

	if err := m2.Clear(); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}
	_, present, _ = m2.Load()
	if present {
		t.Errorf("Cleared metadata should be absent")
	}
}

func TestClosedStoreFails(t *testing.T) {
	s := openIntStore(t, nil)
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}

	if err := s.PutList(1, ints(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on put, got %v", err)
	}
	if _, err := s.Entries(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on entries, got %v", err)
	}
	if err := s.Remove(1); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on remove, got %v", err)
	}
}
