package freespace

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/TectonDB/tecton/pkg/stats"
)

const (
	// regionMagic identifies a region allocator snapshot file
	regionMagic = uint32(0xEB30EB31)

	regionHeaderSize = 4 + 8 + 4 // magic, next pointer, run count
)

// RegionAllocator tracks free byte runs inside a raw byte-addressed region.
// Unlike BlockAllocator it writes no sentinels; its state is snapshotted to
// a file on Save and reloaded on open. Mutating operations must be
// externally synchronized.
type RegionAllocator struct {
	origin    int64
	next      int64 // first never-allocated byte offset
	runs      map[int64][]int64
	maxRun    int64
	collector stats.Collector
}

// NewRegionAllocator creates an empty allocator whose first allocation
// starts at origin
func NewRegionAllocator(origin int64, collector stats.Collector) *RegionAllocator {
	return &RegionAllocator{
		origin:    origin,
		next:      origin,
		runs:      make(map[int64][]int64),
		collector: collector,
	}
}

// Allocate returns the byte offset of n contiguous free bytes, preferring
// an existing run of exactly n bytes, then trimming the head of the
// shortest oversized run, then the tail of the region
func (a *RegionAllocator) Allocate(n int64) (int64, error) {
	if n < 1 {
		return 0, fmt.Errorf("allocation length must be positive, got %d", n)
	}

	for length := n; length <= a.maxRun; length++ {
		queue := a.runs[length]
		if len(queue) == 0 {
			continue
		}
		pointer := queue[0]
		a.runs[length] = queue[1:]
		if length > n {
			a.push(pointer+n, length-n)
		}
		if a.collector != nil {
			a.collector.TrackOperation(stats.OpAlloc)
		}
		return pointer, nil
	}

	pointer := a.next
	a.next += n
	if a.collector != nil {
		a.collector.TrackOperation(stats.OpAlloc)
	}
	return pointer, nil
}

// Free returns n bytes starting at pointer to the free index. Adjacent
// runs are not coalesced.
func (a *RegionAllocator) Free(pointer, n int64) error {
	if pointer < a.origin || n < 1 {
		return fmt.Errorf("invalid free of %d bytes at %d", n, pointer)
	}
	a.push(pointer, n)
	if a.collector != nil {
		a.collector.TrackOperation(stats.OpFree)
	}
	return nil
}

func (a *RegionAllocator) push(pointer, length int64) {
	a.runs[length] = append(a.runs[length], pointer)
	if length > a.maxRun {
		a.maxRun = length
	}
}

// Next returns the high-water mark: the first byte never handed out
func (a *RegionAllocator) Next() int64 {
	return a.next
}

// RunCount returns the number of indexed free runs
func (a *RegionAllocator) RunCount() int {
	count := 0
	for _, queue := range a.runs {
		count += len(queue)
	}
	return count
}

// Save snapshots the allocator state to path. Layout (big-endian):
// magic uint32, next int64, run count int32, then (pointer int64,
// length int64) per run, terminated by an xxhash64 of everything before it.
func (a *RegionAllocator) Save(path string) error {
	count := a.RunCount()
	buf := make([]byte, regionHeaderSize+count*16+8)

	binary.BigEndian.PutUint32(buf[0:4], regionMagic)
	binary.BigEndian.PutUint64(buf[4:12], uint64(a.next))
	binary.BigEndian.PutUint32(buf[12:16], uint32(count))

	off := regionHeaderSize
	for length, queue := range a.runs {
		for _, pointer := range queue {
			binary.BigEndian.PutUint64(buf[off:off+8], uint64(pointer))
			binary.BigEndian.PutUint64(buf[off+8:off+16], uint64(length))
			off += 16
		}
	}

	binary.BigEndian.PutUint64(buf[off:off+8], xxhash.Sum64(buf[:off]))

	if err := os.WriteFile(path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write free-space snapshot: %w", err)
	}
	return nil
}

// LoadRegionAllocator restores a snapshot written by Save. A missing file
// yields (nil, nil) so the caller can fall back to rebuilding; a corrupt
// snapshot is an error.
func LoadRegionAllocator(path string, origin int64, collector stats.Collector) (*RegionAllocator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read free-space snapshot: %w", err)
	}

	if len(data) < regionHeaderSize+8 {
		return nil, fmt.Errorf("free-space snapshot too small: %d bytes", len(data))
	}
	if binary.BigEndian.Uint32(data[0:4]) != regionMagic {
		return nil, fmt.Errorf("invalid free-space snapshot magic")
	}

	count := int(binary.BigEndian.Uint32(data[12:16]))
	want := regionHeaderSize + count*16 + 8
	if len(data) != want {
		return nil, fmt.Errorf("free-space snapshot truncated: %d bytes, expected %d", len(data), want)
	}

	body := len(data) - 8
	if got := binary.BigEndian.Uint64(data[body:]); got != xxhash.Sum64(data[:body]) {
		return nil, fmt.Errorf("free-space snapshot checksum mismatch")
	}

	a := NewRegionAllocator(origin, collector)
	a.next = int64(binary.BigEndian.Uint64(data[4:12]))
	if a.next < origin {
		return nil, fmt.Errorf("free-space snapshot high-water mark %d below origin %d", a.next, origin)
	}

	off := regionHeaderSize
	for i := 0; i < count; i++ {
		pointer := int64(binary.BigEndian.Uint64(data[off : off+8]))
		length := int64(binary.BigEndian.Uint64(data[off+8 : off+16]))
		a.push(pointer, length)
		off += 16
	}

	return a, nil
}
