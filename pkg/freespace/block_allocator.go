// Package freespace tracks contiguous runs of free blocks or bytes and
// satisfies allocation requests by exact-length-first reuse. Two managers
// are provided: BlockAllocator works in whole blocks over a block column
// file, RegionAllocator works in raw byte offsets. The unit is fixed per
// instance and never mixed.
package freespace

import (
	"encoding/binary"
	"fmt"

	"github.com/TectonDB/tecton/pkg/blockfile"
	"github.com/TectonDB/tecton/pkg/stats"
)

// Sentinel marks a free block: the first four bytes of a free block decode
// to this value (big-endian int32).
const Sentinel int32 = -1

// BlockAllocator tracks free block runs inside a BlockColumnFile. It is
// rebuilt by scanning the file once at open time; its state is never
// persisted. Mutating operations must be externally synchronized.
type BlockAllocator struct {
	file      *blockfile.BlockColumnFile
	runs      map[int][]int // run length in blocks -> queue of start block IDs
	maxRun    int
	lastUsed  int
	collector stats.Collector
}

// NewBlockAllocator scans the file and indexes every maximal run of
// sentinel-marked blocks. Trailing free blocks are absorbed into the
// region beyond the high-water mark rather than indexed as runs.
func NewBlockAllocator(f *blockfile.BlockColumnFile, collector stats.Collector) (*BlockAllocator, error) {
	a := &BlockAllocator{
		file:      f,
		runs:      make(map[int][]int),
		collector: collector,
	}

	size := f.Size()
	buf := make([]byte, f.BlockSize())
	free := make([]bool, size+1)

	for id := 1; id <= size; id++ {
		if err := f.Select(id, buf); err != nil {
			return nil, fmt.Errorf("free scan failed at block %d: %w", id, err)
		}
		if int32(binary.BigEndian.Uint32(buf[:4])) == Sentinel {
			free[id] = true
		} else {
			a.lastUsed = id
		}
	}

	runStart := 0
	for id := 1; id <= a.lastUsed; id++ {
		if free[id] {
			if runStart == 0 {
				runStart = id
			}
			continue
		}
		if runStart != 0 {
			a.push(runStart, id-runStart)
			runStart = 0
		}
	}

	return a, nil
}

func (a *BlockAllocator) push(pointer, length int) {
	a.runs[length] = append(a.runs[length], pointer)
	if length > a.maxRun {
		a.maxRun = length
	}
}

// Allocate returns the start block ID of n contiguous free blocks.
// Existing runs of length n..maxRun are tried first; an oversized run is
// split, returning its head and requeueing the remainder. Failing that,
// space is taken at the high-water mark.
func (a *BlockAllocator) Allocate(n int) (int, error) {
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

	pointer := a.lastUsed + 1
	a.lastUsed += n
	if a.collector != nil {
		a.collector.TrackOperation(stats.OpAlloc)
	}
	return pointer, nil
}

// Free marks n blocks starting at pointer as free, writing the sentinel
// into each block. Adjacent free runs are not coalesced; freed space is
// only reclaimed through exact-length-first reuse in Allocate.
func (a *BlockAllocator) Free(pointer, n int) error {
	if pointer < 1 || n < 1 {
		return fmt.Errorf("invalid free of %d blocks at %d", n, pointer)
	}

	block := make([]byte, a.file.BlockSize())
	mark := Sentinel
	binary.BigEndian.PutUint32(block[:4], uint32(mark))
	for id := pointer; id < pointer+n; id++ {
		if err := a.file.Insert(id, block); err != nil {
			return fmt.Errorf("failed to mark block %d free: %w", id, err)
		}
	}

	a.push(pointer, n)
	if a.collector != nil {
		a.collector.TrackOperation(stats.OpFree)
	}
	return nil
}

// LastUsed returns the current high-water mark in blocks
func (a *BlockAllocator) LastUsed() int {
	return a.lastUsed
}

// RunCount returns the number of indexed free runs
func (a *BlockAllocator) RunCount() int {
	count := 0
	for _, queue := range a.runs {
		count += len(queue)
	}
	return count
}

// MaxRun returns the largest run length ever indexed
func (a *BlockAllocator) MaxRun() int {
	return a.maxRun
}
