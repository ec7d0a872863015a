package rtree

import (
	"errors"
	"math"
	"path/filepath"
	"sort"
	"testing"

	"github.com/TectonDB/tecton/pkg/config"
	"github.com/TectonDB/tecton/pkg/stats"
)

func testConfig(maxEntries, minEntries int) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Dimensions = 2
	cfg.MaxNodeEntries = maxEntries
	cfg.MinNodeEntries = minEntries
	return cfg
}

func newMemoryTree(t *testing.T, maxEntries, minEntries int, opts ...Option) *RTree {
	t.Helper()
	tree, err := New(NewMemoryStorageManager(), testConfig(maxEntries, minEntries), opts...)
	if err != nil {
		t.Fatalf("Failed to create tree: %v", err)
	}
	return tree
}

func pointRect(t *testing.T, x, y float64) Rectangle {
	t.Helper()
	r, err := NewPoint([]float64{x, y})
	if err != nil {
		t.Fatalf("Failed to create point: %v", err)
	}
	return r
}

// checkTreeInvariants walks every node verifying that internal entry
// rectangles equal their child MBRs, entry counts respect the maximum,
// and all leaves sit at level zero
func checkTreeInvariants(t *testing.T, tree *RTree) {
	t.Helper()
	var walk func(id int32, wantLevel int16)
	walk = func(id int32, wantLevel int16) {
		node, err := tree.sm.Node(id)
		if err != nil {
			t.Fatalf("Failed to load node %d: %v", id, err)
		}
		if node.Level != wantLevel {
			t.Errorf("Node %d at level %d, expected %d", id, node.Level, wantLevel)
		}
		if node.EntryCount() > tree.maxEntries {
			t.Errorf("Node %d holds %d entries, limit is %d", id, node.EntryCount(), tree.maxEntries)
		}
		if node.IsLeaf() {
			return
		}
		for _, e := range node.Entries {
			child, err := tree.sm.Node(e.ID)
			if err != nil {
				t.Fatalf("Failed to load child %d of node %d: %v", e.ID, id, err)
			}
			if !e.Rect.Equal(child.MBR()) {
				t.Errorf("Entry for child %d carries %v, child MBR is %v", e.ID, e.Rect, child.MBR())
			}
			walk(e.ID, wantLevel-1)
		}
	}

	root, err := tree.sm.Node(tree.rootID)
	if err != nil {
		t.Fatalf("Failed to load root: %v", err)
	}
	walk(tree.rootID, root.Level)
}

func sortedIDs(ids []int32) []int32 {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestInsertAndSearchThroughSplits(t *testing.T) {
	tree := newMemoryTree(t, 3, 1)
	defer tree.Close()

	// Enough points to force several splits and a root grow at fanout 3
	for i := 1; i <= 10; i++ {
		if err := tree.Insert(int32(i), pointRect(t, float64(i), float64(i))); err != nil {
			t.Fatalf("Failed to insert entry %d: %v", i, err)
		}
	}
	if tree.Size() != 10 {
		t.Errorf("Size = %d, want 10", tree.Size())
	}
	checkTreeInvariants(t, tree)

	ids, err := tree.Search(mustRect(t, []float64{0, 0}, []float64{20, 20}))
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(ids) != 10 {
		t.Fatalf("Window query returned %d entries, want 10", len(ids))
	}
	seen := make(map[int32]bool)
	for _, id := range ids {
		if seen[id] {
			t.Errorf("Entry %d reported twice", id)
		}
		seen[id] = true
	}

	// A narrow window must return exactly the covered points
	ids, err = tree.Search(mustRect(t, []float64{2.5, 0}, []float64{5.5, 20}))
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	want := []int32{3, 4, 5}
	got := sortedIDs(ids)
	if len(got) != len(want) {
		t.Fatalf("Narrow query returned %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Narrow query returned %v, want %v", got, want)
			break
		}
	}
}

func TestSearchEmptyTree(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	defer tree.Close()

	ids, err := tree.Search(mustRect(t, []float64{0, 0}, []float64{100, 100}))
	if err != nil {
		t.Fatalf("Failed to search empty tree: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("Empty tree returned %v", ids)
	}
}

func TestSearchFuncEarlyStop(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	defer tree.Close()

	for i := 1; i <= 8; i++ {
		tree.Insert(int32(i), pointRect(t, float64(i), 0))
	}

	calls := 0
	err := tree.SearchFunc(mustRect(t, []float64{0, -1}, []float64{10, 1}), func(id int32, _ Rectangle) bool {
		calls++
		return calls < 3
	})
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if calls != 3 {
		t.Errorf("Callback ran %d times, want 3", calls)
	}
}

func TestInsertRejectsWrongDimensions(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	defer tree.Close()

	r, _ := NewPoint([]float64{1, 2, 3})
	if err := tree.Insert(1, r); err == nil {
		t.Error("Expected error inserting a 3d rectangle into a 2d tree")
	}
}

func TestDeleteExactMatchOnly(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	defer tree.Close()

	rect := mustRect(t, []float64{1, 1}, []float64{2, 2})
	if err := tree.Insert(7, rect); err != nil {
		t.Fatalf("Failed to insert: %v", err)
	}

	// Same ID, different rectangle: no match
	removed, err := tree.Delete(7, mustRect(t, []float64{1, 1}, []float64{3, 3}))
	if err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if removed {
		t.Error("Delete matched a different rectangle")
	}

	// Same rectangle, different ID: no match
	if removed, _ = tree.Delete(8, rect); removed {
		t.Error("Delete matched a different ID")
	}

	if removed, _ = tree.Delete(7, rect); !removed {
		t.Error("Delete missed the exact entry")
	}
	if tree.Size() != 0 {
		t.Errorf("Size = %d after delete, want 0", tree.Size())
	}

	if removed, _ = tree.Delete(7, rect); removed {
		t.Error("Delete matched an already-removed entry")
	}
}

func TestDeleteCondensesTree(t *testing.T) {
	tree := newMemoryTree(t, 3, 1)
	defer tree.Close()

	for i := 1; i <= 12; i++ {
		if err := tree.Insert(int32(i), pointRect(t, float64(i), float64(i))); err != nil {
			t.Fatalf("Failed to insert entry %d: %v", i, err)
		}
	}

	for i := 1; i <= 9; i++ {
		removed, err := tree.Delete(int32(i), pointRect(t, float64(i), float64(i)))
		if err != nil {
			t.Fatalf("Failed to delete entry %d: %v", i, err)
		}
		if !removed {
			t.Fatalf("Entry %d not found for deletion", i)
		}
		checkTreeInvariants(t, tree)
	}
	if tree.Size() != 3 {
		t.Errorf("Size = %d after deletions, want 3", tree.Size())
	}

	ids, err := tree.Search(mustRect(t, []float64{0, 0}, []float64{20, 20}))
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	got := sortedIDs(ids)
	want := []int32{10, 11, 12}
	if len(got) != 3 || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Errorf("Survivors = %v, want %v", got, want)
	}
}

func TestDeleteEverythingThenReinsert(t *testing.T) {
	tree := newMemoryTree(t, 3, 1)
	defer tree.Close()

	for i := 1; i <= 10; i++ {
		tree.Insert(int32(i), pointRect(t, float64(i), float64(i)))
	}
	for i := 1; i <= 10; i++ {
		if removed, err := tree.Delete(int32(i), pointRect(t, float64(i), float64(i))); err != nil || !removed {
			t.Fatalf("Failed to delete entry %d: removed=%v err=%v", i, removed, err)
		}
	}
	if tree.Size() != 0 {
		t.Fatalf("Size = %d after full deletion, want 0", tree.Size())
	}

	for i := 1; i <= 5; i++ {
		if err := tree.Insert(int32(i), pointRect(t, float64(i), 0)); err != nil {
			t.Fatalf("Failed to reinsert entry %d: %v", i, err)
		}
	}
	checkTreeInvariants(t, tree)
	ids, _ := tree.Search(mustRect(t, []float64{0, -1}, []float64{10, 1}))
	if len(ids) != 5 {
		t.Errorf("Reinserted tree returned %d entries, want 5", len(ids))
	}
}

func TestLinearSplitStrategyTree(t *testing.T) {
	cfg := testConfig(3, 1)
	cfg.SplitStrategy = config.SplitLinear
	tree, err := New(NewMemoryStorageManager(), cfg)
	if err != nil {
		t.Fatalf("Failed to create tree: %v", err)
	}
	defer tree.Close()

	for i := 1; i <= 20; i++ {
		if err := tree.Insert(int32(i), pointRect(t, float64(i%5), float64(i/5))); err != nil {
			t.Fatalf("Failed to insert entry %d: %v", i, err)
		}
	}
	checkTreeInvariants(t, tree)

	ids, err := tree.Search(mustRect(t, []float64{-1, -1}, []float64{10, 10}))
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(ids) != 20 {
		t.Errorf("Window query returned %d entries, want 20", len(ids))
	}
}

func TestNearestNeighbors(t *testing.T) {
	tree := newMemoryTree(t, 3, 1)
	defer tree.Close()

	coords := [][2]float64{{0, 0}, {1, 0}, {5, 5}, {10, 10}, {2, 2}, {-3, 0}, {7, 1}}
	for i, c := range coords {
		if err := tree.Insert(int32(i+1), pointRect(t, c[0], c[1])); err != nil {
			t.Fatalf("Failed to insert entry %d: %v", i+1, err)
		}
	}

	neighbors, err := tree.Nearest([]float64{0.4, 0}, 3)
	if err != nil {
		t.Fatalf("Failed to query nearest: %v", err)
	}
	if len(neighbors) != 3 {
		t.Fatalf("Nearest returned %d results, want 3", len(neighbors))
	}
	// (0,0) at 0.4, (1,0) at 0.6, (2,2) at ~2.57
	if neighbors[0].ID != 1 || neighbors[1].ID != 2 || neighbors[2].ID != 5 {
		t.Errorf("Nearest order = %d,%d,%d, want 1,2,5",
			neighbors[0].ID, neighbors[1].ID, neighbors[2].ID)
	}
	for i := 1; i < len(neighbors); i++ {
		if neighbors[i].Distance < neighbors[i-1].Distance {
			t.Error("Nearest results are not in ascending distance order")
		}
	}
	if math.Abs(neighbors[0].Distance-0.4) > 1e-12 {
		t.Errorf("First neighbor distance = %v, want 0.4", neighbors[0].Distance)
	}
}

func TestNearestMoreThanAvailable(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	defer tree.Close()

	tree.Insert(1, pointRect(t, 1, 1))
	tree.Insert(2, pointRect(t, 2, 2))

	neighbors, err := tree.Nearest([]float64{0, 0}, 10)
	if err != nil {
		t.Fatalf("Failed to query nearest: %v", err)
	}
	if len(neighbors) != 2 {
		t.Errorf("Nearest returned %d results, want all 2", len(neighbors))
	}
}

func TestTreeStats(t *testing.T) {
	collector := stats.NewCollector()
	tree := newMemoryTree(t, 3, 1, WithTreeStats(collector))
	defer tree.Close()

	for i := 1; i <= 5; i++ {
		tree.Insert(int32(i), pointRect(t, float64(i), 0))
	}
	tree.Search(mustRect(t, []float64{0, 0}, []float64{10, 1}))
	tree.Delete(1, pointRect(t, 1, 0))
	tree.Nearest([]float64{0, 0}, 1)

	snapshot := collector.GetStats()
	if snapshot[string(stats.OpInsert)+"_ops"].(uint64) != 5 {
		t.Errorf("Insert count = %v, want 5", snapshot[string(stats.OpInsert)+"_ops"])
	}
	if snapshot[string(stats.OpSearch)+"_ops"].(uint64) != 1 {
		t.Errorf("Search count = %v, want 1", snapshot[string(stats.OpSearch)+"_ops"])
	}
	if snapshot[string(stats.OpDelete)+"_ops"].(uint64) != 1 {
		t.Errorf("Delete count = %v, want 1", snapshot[string(stats.OpDelete)+"_ops"])
	}
	if snapshot[string(stats.OpNearest)+"_ops"].(uint64) != 1 {
		t.Errorf("Nearest count = %v, want 1", snapshot[string(stats.OpNearest)+"_ops"])
	}
	if _, ok := snapshot[string(stats.OpNodeSplit)+"_ops"]; !ok {
		t.Error("Expected node splits at fanout 3 with 5 inserts")
	}
}

func TestDiskBackedTreeSurvivesReopen(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "tree")
	cfg := testConfig(4, 2)

	sm, err := OpenDiskStorageManager(prefix, cfg.Dimensions, cfg.MaxNodeEntries, nil)
	if err != nil {
		t.Fatalf("Failed to open disk storage: %v", err)
	}
	tree, err := New(sm, cfg)
	if err != nil {
		t.Fatalf("Failed to create tree: %v", err)
	}

	for i := 1; i <= 25; i++ {
		if err := tree.Insert(int32(i), pointRect(t, float64(i%5), float64(i/5))); err != nil {
			t.Fatalf("Failed to insert entry %d: %v", i, err)
		}
	}
	checkTreeInvariants(t, tree)
	if err := tree.Close(); err != nil {
		t.Fatalf("Failed to close tree: %v", err)
	}

	sm, err = OpenDiskStorageManager(prefix, cfg.Dimensions, cfg.MaxNodeEntries, nil)
	if err != nil {
		t.Fatalf("Failed to reopen disk storage: %v", err)
	}
	tree, err = New(sm, cfg)
	if err != nil {
		t.Fatalf("Failed to reopen tree: %v", err)
	}
	defer tree.Close()

	if tree.Size() != 25 {
		t.Errorf("Reopened size = %d, want 25", tree.Size())
	}
	checkTreeInvariants(t, tree)

	ids, err := tree.Search(mustRect(t, []float64{-1, -1}, []float64{10, 10}))
	if err != nil {
		t.Fatalf("Failed to search reopened tree: %v", err)
	}
	if len(ids) != 25 {
		t.Errorf("Reopened tree returned %d entries, want 25", len(ids))
	}

	if removed, err := tree.Delete(13, pointRect(t, 3, 2)); err != nil || !removed {
		t.Errorf("Failed to delete from reopened tree: removed=%v err=%v", removed, err)
	}
	if tree.Size() != 24 {
		t.Errorf("Size = %d after delete, want 24", tree.Size())
	}
}

func TestDiskBackedTreeGeometryMismatch(t *testing.T) {
	prefix := filepath.Join(t.TempDir(), "tree")
	cfg := testConfig(4, 2)

	sm, _ := OpenDiskStorageManager(prefix, cfg.Dimensions, cfg.MaxNodeEntries, nil)
	tree, err := New(sm, cfg)
	if err != nil {
		t.Fatalf("Failed to create tree: %v", err)
	}
	tree.Insert(1, pointRect(t, 1, 1))
	tree.Close()

	// Same storage geometry, different tree min entries: New must refuse
	sm, _ = OpenDiskStorageManager(prefix, cfg.Dimensions, cfg.MaxNodeEntries, nil)
	other := testConfig(4, 1)
	if _, err := New(sm, other); err == nil {
		t.Error("Expected error adopting a tree with different min entries")
	}
	sm.Close()
}

func TestClosedTreeOperations(t *testing.T) {
	tree := newMemoryTree(t, 4, 2)
	tree.Close()

	if err := tree.Insert(1, pointRect(t, 1, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Insert, got %v", err)
	}
	if _, err := tree.Search(mustRect(t, []float64{0, 0}, []float64{1, 1})); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Search, got %v", err)
	}
	if _, err := tree.Delete(1, pointRect(t, 1, 1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Delete, got %v", err)
	}
	if _, err := tree.Nearest([]float64{0, 0}, 1); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Nearest, got %v", err)
	}
	if err := tree.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from double Close, got %v", err)
	}
}
