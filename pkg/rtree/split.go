package rtree

import (
	"fmt"
)

// SplitStrategy selects the two seed entries around which an overflowing
// node's entries are regrouped. Seed selection is the only pluggable part:
// the remaining entries are always distributed by the quadratic pick-next
// policy with a minimum-fill guard.
type SplitStrategy interface {
	// Name identifies the strategy
	Name() string
	// PickSeeds returns the indexes of the two seeds within entries.
	// mbr is the bounding rectangle of all entries.
	PickSeeds(entries []Entry, mbr Rectangle) (int, int)
}

// QuadraticSplit implements Guttman's quadratic seed selection: the pair
// of entries wasting the most area if grouped together.
type QuadraticSplit struct{}

// Name returns "quadratic"
func (QuadraticSplit) Name() string { return "quadratic" }

// PickSeeds examines every entry pair
func (QuadraticSplit) PickSeeds(entries []Entry, _ Rectangle) (int, int) {
	seedA, seedB := 0, 1
	worst := -1.0
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			waste := entries[i].Rect.Union(entries[j].Rect).Area() -
				entries[i].Rect.Area() - entries[j].Rect.Area()
			if waste > worst {
				worst = waste
				seedA, seedB = i, j
			}
		}
	}
	return seedA, seedB
}

// LinearSplit implements Guttman's linear seed selection: per dimension,
// the entry with the highest low side and the entry with the lowest high
// side, separated the most relative to the node extent.
type LinearSplit struct{}

// Name returns "linear"
func (LinearSplit) Name() string { return "linear" }

// PickSeeds runs in a single pass per dimension
func (LinearSplit) PickSeeds(entries []Entry, mbr Rectangle) (int, int) {
	dims := entries[0].Rect.Dimensions()
	seedA, seedB := 0, 1
	bestSeparation := -2.0

	for d := 0; d < dims; d++ {
		highestLow, lowestHigh := 0, 0
		for i := 1; i < len(entries); i++ {
			if entries[i].Rect.Min[d] > entries[highestLow].Rect.Min[d] {
				highestLow = i
			}
			if entries[i].Rect.Max[d] < entries[lowestHigh].Rect.Max[d] {
				lowestHigh = i
			}
		}

		extent := mbr.Max[d] - mbr.Min[d]
		if extent == 0 {
			continue
		}
		separation := (entries[highestLow].Rect.Min[d] - entries[lowestHigh].Rect.Max[d]) / extent
		if separation < -1 || separation > 1 {
			panic(fmt.Sprintf("normalized separation %v outside [-1, 1] in dimension %d; index is corrupt",
				separation, d))
		}
		if separation > bestSeparation && highestLow != lowestHigh {
			bestSeparation = separation
			seedA, seedB = lowestHigh, highestLow
		}
	}

	if seedA == seedB {
		// Degenerate geometry (all entries identical in every dimension):
		// any pair is as good as any other
		seedA, seedB = 0, 1
	}
	return seedA, seedB
}

// strategyByName maps a configured strategy name to its implementation
func strategyByName(name string) (SplitStrategy, error) {
	switch name {
	case "", "quadratic":
		return QuadraticSplit{}, nil
	case "linear":
		return LinearSplit{}, nil
	default:
		return nil, fmt.Errorf("unknown split strategy %q", name)
	}
}

// splitEntries divides an overflowing entry set into two groups using the
// given seed strategy and the quadratic pick-next distribution. Both
// groups are guaranteed at least minEntries entries.
func splitEntries(entries []Entry, strategy SplitStrategy, minEntries int) ([]Entry, []Entry) {
	mbr := entries[0].Rect.Copy()
	for _, e := range entries[1:] {
		mbr.Add(e.Rect)
	}

	seedA, seedB := strategy.PickSeeds(entries, mbr)

	groupA := []Entry{entries[seedA]}
	groupB := []Entry{entries[seedB]}
	mbrA := entries[seedA].Rect.Copy()
	mbrB := entries[seedB].Rect.Copy()

	assigned := make([]bool, len(entries))
	assigned[seedA], assigned[seedB] = true, true
	remaining := len(entries) - 2

	for remaining > 0 {
		// Minimum-fill guard: hand the rest to a group that cannot
		// otherwise reach minEntries
		if len(groupA)+remaining == minEntries {
			for i, e := range entries {
				if !assigned[i] {
					groupA = append(groupA, e)
					mbrA.Add(e.Rect)
					assigned[i] = true
				}
			}
			break
		}
		if len(groupB)+remaining == minEntries {
			for i, e := range entries {
				if !assigned[i] {
					groupB = append(groupB, e)
					mbrB.Add(e.Rect)
					assigned[i] = true
				}
			}
			break
		}

		// Quadratic pick-next: the unassigned entry with the greatest
		// preference between the groups
		next, bestDiff := -1, -1.0
		var nextToA bool
		for i, e := range entries {
			if assigned[i] {
				continue
			}
			enlargeA := mbrA.Enlargement(e.Rect)
			enlargeB := mbrB.Enlargement(e.Rect)
			diff := enlargeA - enlargeB
			if diff < 0 {
				diff = -diff
			}
			if diff > bestDiff {
				bestDiff = diff
				next = i
				nextToA = preferGroupA(enlargeA, enlargeB, mbrA, mbrB, len(groupA), len(groupB))
			}
		}

		e := entries[next]
		if nextToA {
			groupA = append(groupA, e)
			mbrA.Add(e.Rect)
		} else {
			groupB = append(groupB, e)
			mbrB.Add(e.Rect)
		}
		assigned[next] = true
		remaining--
	}

	return groupA, groupB
}

// preferGroupA resolves entry assignment: least enlargement, then smaller
// area, then fewer entries
func preferGroupA(enlargeA, enlargeB float64, mbrA, mbrB Rectangle, countA, countB int) bool {
	if enlargeA != enlargeB {
		return enlargeA < enlargeB
	}
	areaA, areaB := mbrA.Area(), mbrB.Area()
	if areaA != areaB {
		return areaA < areaB
	}
	return countA <= countB
}
