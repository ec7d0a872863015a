package rtree

import (
	"fmt"
	"math"
)

// Rectangle is an axis-aligned bounding box in n dimensions. All
// operations are pure except the documented mutators Add and Set, which
// exist for incremental MBR growth during insertion.
type Rectangle struct {
	Min []float64
	Max []float64
}

// NewRectangle creates a rectangle from min and max corners. It fails when
// the corners disagree in dimensionality or any min exceeds its max.
func NewRectangle(min, max []float64) (Rectangle, error) {
	if len(min) != len(max) {
		return Rectangle{}, fmt.Errorf("corner dimensionality mismatch: %d vs %d", len(min), len(max))
	}
	if len(min) == 0 {
		return Rectangle{}, fmt.Errorf("rectangle needs at least one dimension")
	}
	for i := range min {
		if min[i] > max[i] {
			return Rectangle{}, fmt.Errorf("min %v exceeds max %v in dimension %d", min[i], max[i], i)
		}
	}
	r := Rectangle{Min: make([]float64, len(min)), Max: make([]float64, len(max))}
	copy(r.Min, min)
	copy(r.Max, max)
	return r, nil
}

// NewPoint creates a degenerate rectangle covering a single point
func NewPoint(coords []float64) (Rectangle, error) {
	return NewRectangle(coords, coords)
}

// Dimensions returns the dimensionality of the rectangle
func (r Rectangle) Dimensions() int {
	return len(r.Min)
}

// Copy returns an independent deep copy
func (r Rectangle) Copy() Rectangle {
	c := Rectangle{Min: make([]float64, len(r.Min)), Max: make([]float64, len(r.Max))}
	copy(c.Min, r.Min)
	copy(c.Max, r.Max)
	return c
}

// Equal reports whether both rectangles have identical corners
func (r Rectangle) Equal(other Rectangle) bool {
	if len(r.Min) != len(other.Min) {
		return false
	}
	for i := range r.Min {
		if r.Min[i] != other.Min[i] || r.Max[i] != other.Max[i] {
			return false
		}
	}
	return true
}

// Area returns the n-dimensional volume of the rectangle
func (r Rectangle) Area() float64 {
	area := 1.0
	for i := range r.Min {
		area *= r.Max[i] - r.Min[i]
	}
	return area
}

// Union returns the smallest rectangle enclosing both r and other
func (r Rectangle) Union(other Rectangle) Rectangle {
	u := r.Copy()
	u.Add(other)
	return u
}

// Add grows r in place to enclose other
func (r Rectangle) Add(other Rectangle) {
	for i := range r.Min {
		if other.Min[i] < r.Min[i] {
			r.Min[i] = other.Min[i]
		}
		if other.Max[i] > r.Max[i] {
			r.Max[i] = other.Max[i]
		}
	}
}

// Set overwrites r's corners in place with those of other
func (r Rectangle) Set(other Rectangle) {
	copy(r.Min, other.Min)
	copy(r.Max, other.Max)
}

// Enlargement returns the area increase needed for r to enclose other
func (r Rectangle) Enlargement(other Rectangle) float64 {
	return r.Union(other).Area() - r.Area()
}

// Intersects reports whether the rectangles share any point
func (r Rectangle) Intersects(other Rectangle) bool {
	for i := range r.Min {
		if r.Min[i] > other.Max[i] || r.Max[i] < other.Min[i] {
			return false
		}
	}
	return true
}

// Contains reports whether r fully encloses other
func (r Rectangle) Contains(other Rectangle) bool {
	for i := range r.Min {
		if r.Min[i] > other.Min[i] || r.Max[i] < other.Max[i] {
			return false
		}
	}
	return true
}

// ContainedBy reports whether other fully encloses r
func (r Rectangle) ContainedBy(other Rectangle) bool {
	return other.Contains(r)
}

// EdgeOverlaps reports whether the rectangles share a face boundary in any
// dimension
func (r Rectangle) EdgeOverlaps(other Rectangle) bool {
	for i := range r.Min {
		if r.Min[i] == other.Min[i] || r.Max[i] == other.Max[i] {
			return true
		}
	}
	return false
}

// Distance returns the Euclidean distance from r to a point, zero when the
// point lies inside
func (r Rectangle) Distance(point []float64) float64 {
	sum := 0.0
	for i := range r.Min {
		gap := 0.0
		if point[i] < r.Min[i] {
			gap = r.Min[i] - point[i]
		} else if point[i] > r.Max[i] {
			gap = point[i] - r.Max[i]
		}
		sum += gap * gap
	}
	return math.Sqrt(sum)
}

// DistanceRect returns the Euclidean distance between the nearest faces of
// the rectangles, zero when they overlap
func (r Rectangle) DistanceRect(other Rectangle) float64 {
	sum := 0.0
	for i := range r.Min {
		gap := 0.0
		if other.Max[i] < r.Min[i] {
			gap = r.Min[i] - other.Max[i]
		} else if other.Min[i] > r.Max[i] {
			gap = other.Min[i] - r.Max[i]
		}
		sum += gap * gap
	}
	return math.Sqrt(sum)
}

// FurthestDistance returns the greatest distance from r to any of the 2^d
// corners of other, the bound used for pruning in nearest-neighbor search
func (r Rectangle) FurthestDistance(other Rectangle) float64 {
	dims := len(r.Min)
	corner := make([]float64, dims)
	furthest := 0.0

	for mask := 0; mask < 1<<dims; mask++ {
		for i := 0; i < dims; i++ {
			if mask&(1<<i) != 0 {
				corner[i] = other.Max[i]
			} else {
				corner[i] = other.Min[i]
			}
		}
		sum := 0.0
		for i := 0; i < dims; i++ {
			gap := math.Max(math.Abs(corner[i]-r.Min[i]), math.Abs(corner[i]-r.Max[i]))
			sum += gap * gap
		}
		if d := math.Sqrt(sum); d > furthest {
			furthest = d
		}
	}
	return furthest
}

// String renders the rectangle as (min)-(max)
func (r Rectangle) String() string {
	return fmt.Sprintf("(%v)-(%v)", r.Min, r.Max)
}
