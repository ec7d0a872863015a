// Package liststore maps integer keys to variable-length runs of
// fixed-size records. Runs live in a byte-addressed data file; a companion
// block column file maps each key to its (pointer, count) pair, and freed
// runs are recycled through a byte-unit free-space allocator.
//
// A key with pointer 0 has no list. A present, zero-length list is not
// representable; PutList rejects empty record slices.
package liststore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/TectonDB/tecton/pkg/blockfile"
	"github.com/TectonDB/tecton/pkg/freespace"
	"github.com/TectonDB/tecton/pkg/stats"
)

const (
	// mapRecordSize is the per-key index record: 8-byte pointer + 4-byte count
	mapRecordSize = 12

	// dataHeaderSize reserves the head of the data file so that pointer 0
	// can mean "no list"
	dataHeaderSize = 8

	dataMagic = uint64(0x4C53543100000001) // "LST1" + version
)

var (
	// ErrClosed is returned when operations are performed on a closed store
	ErrClosed = errors.New("list store is closed")
	// ErrInvalidKey is returned for keys below 1
	ErrInvalidKey = errors.New("invalid list key")
	// ErrEmptyList is returned when storing a list with no records; the
	// on-disk format cannot distinguish an empty list from an absent one
	ErrEmptyList = errors.New("cannot store an empty list")
)

// Options configures a Store
type Options struct {
	// ChunkSize is the staging buffer size for streaming reads and writes
	ChunkSize int
	// MapBlocksPerFile is the rollover capacity of the key index file
	MapBlocksPerFile int
	// Stats is an optional statistics sink
	Stats stats.Collector
}

// Store maps integer keys to runs of fixed-size records. Mutating
// operations must be externally synchronized.
type Store[R Record] struct {
	prefix    string
	factory   RecordFactory[R]
	entrySize int
	chunkSize int
	data      *os.File
	index     *blockfile.BlockColumnFile
	alloc     *freespace.RegionAllocator
	collector stats.Collector
	closed    bool
}

// Open opens or creates the list store rooted at prefix, using the files
// <prefix>.lst, <prefix>.map (with rollover) and <prefix>.ebm.
func Open[R Record](prefix string, factory RecordFactory[R], opts *Options) (*Store[R], error) {
	entrySize := factory.RecordSize()
	if entrySize < 1 {
		return nil, fmt.Errorf("record size must be positive, got %d", entrySize)
	}

	chunkSize := 4096
	mapBlocksPerFile := 65536
	var collector stats.Collector
	if opts != nil {
		if opts.ChunkSize > 0 {
			chunkSize = opts.ChunkSize
		}
		if opts.MapBlocksPerFile > 0 {
			mapBlocksPerFile = opts.MapBlocksPerFile
		}
		collector = opts.Stats
	}
	if chunkSize < entrySize {
		chunkSize = entrySize
	}

	data, err := os.OpenFile(prefix+".lst", os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open list data file: %w", err)
	}

	info, err := data.Stat()
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("failed to stat list data file: %w", err)
	}
	header := make([]byte, dataHeaderSize)
	if info.Size() == 0 {
		binary.BigEndian.PutUint64(header, dataMagic)
		if _, err := data.WriteAt(header, 0); err != nil {
			data.Close()
			return nil, fmt.Errorf("failed to write list data header: %w", err)
		}
	} else {
		if _, err := data.ReadAt(header, 0); err != nil {
			data.Close()
			return nil, fmt.Errorf("failed to read list data header: %w", err)
		}
		if binary.BigEndian.Uint64(header) != dataMagic {
			data.Close()
			return nil, fmt.Errorf("list data file has invalid magic")
		}
	}

	index, err := blockfile.Open(prefix+".map", mapRecordSize, mapBlocksPerFile,
		blockfile.WithStats(collector))
	if err != nil {
		data.Close()
		return nil, fmt.Errorf("failed to open list index: %w", err)
	}

	s := &Store[R]{
		prefix:    prefix,
		factory:   factory,
		entrySize: entrySize,
		chunkSize: chunkSize,
		data:      data,
		index:     index,
		collector: collector,
	}

	if err := s.recoverAllocator(); err != nil {
		index.Close()
		data.Close()
		return nil, err
	}

	return s, nil
}

// recoverAllocator restores the free-space allocator from the .ebm
// snapshot when it is consistent with the index, otherwise rebuilds a
// conservative one from the index alone (freed space is leaked until the
// next clean shutdown, never reissued while live).
func (s *Store[R]) recoverAllocator() error {
	scanNext := int64(dataHeaderSize)
	maxKey := s.index.Size()
	for key := 1; key <= maxKey; key++ {
		pointer, count, err := s.readIndex(key)
		if err != nil {
			return err
		}
		if end := pointer + int64(count)*int64(s.entrySize); end > scanNext {
			scanNext = end
		}
	}

	path := s.prefix + ".ebm"
	alloc, err := freespace.LoadRegionAllocator(path, dataHeaderSize, s.collector)
	if err != nil || alloc == nil || alloc.Next() < scanNext {
		// Missing, corrupt or stale snapshot: rebuild without free runs
		alloc = freespace.NewRegionAllocator(dataHeaderSize, s.collector)
		for alloc.Next() < scanNext {
			if _, err := alloc.Allocate(scanNext - alloc.Next()); err != nil {
				return err
			}
		}
	}
	s.alloc = alloc

	// Drop the snapshot so a crash forces a rebuild instead of replaying
	// stale free runs; Close writes a fresh one.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to drop free-space snapshot: %w", err)
	}
	return nil
}

func (s *Store[R]) readIndex(key int) (int64, int, error) {
	buf := make([]byte, mapRecordSize)
	if err := s.index.Select(key, buf); err != nil {
		if errors.Is(err, blockfile.ErrNotFound) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("failed to read list index for key %d: %w", key, err)
	}
	pointer := int64(binary.BigEndian.Uint64(buf[0:8]))
	count := int(binary.BigEndian.Uint32(buf[8:12]))
	return pointer, count, nil
}

func (s *Store[R]) writeIndex(key int, pointer int64, count int) error {
	buf := make([]byte, mapRecordSize)
	binary.BigEndian.PutUint64(buf[0:8], uint64(pointer))
	binary.BigEndian.PutUint32(buf[8:12], uint32(count))
	if err := s.index.Insert(key, buf); err != nil {
		return fmt.Errorf("failed to write list index for key %d: %w", key, err)
	}
	return nil
}

// PutList stores records as the list for key, replacing any previous list.
// A replacement of identical byte length overwrites the old run in place;
// any change in length releases the old run and allocates a fresh one.
func (s *Store[R]) PutList(key int, records []R) error {
	if s.closed {
		return ErrClosed
	}
	if key < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidKey, key)
	}
	if len(records) == 0 {
		return ErrEmptyList
	}

	oldPointer, oldCount, err := s.readIndex(key)
	if err != nil {
		return err
	}

	newLength := int64(len(records)) * int64(s.entrySize)
	pointer := oldPointer
	if oldPointer == 0 || int64(oldCount)*int64(s.entrySize) != newLength {
		if oldPointer != 0 {
			if err := s.alloc.Free(oldPointer, int64(oldCount)*int64(s.entrySize)); err != nil {
				return err
			}
		}
		pointer, err = s.alloc.Allocate(newLength)
		if err != nil {
			return err
		}
	}

	if err := s.writeRun(pointer, records); err != nil {
		return err
	}
	if err := s.writeIndex(key, pointer, len(records)); err != nil {
		return err
	}

	if s.collector != nil {
		s.collector.TrackOperation(stats.OpListPut)
		s.collector.TrackBytes(true, uint64(newLength))
	}
	return nil
}

// writeRun streams records into the data file in chunk-size batches
func (s *Store[R]) writeRun(pointer int64, records []R) error {
	perChunk := s.chunkSize / s.entrySize
	chunk := make([]byte, 0, perChunk*s.entrySize)
	recordBuf := make([]byte, s.entrySize)
	offset := pointer

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if _, err := s.data.WriteAt(chunk, offset); err != nil {
			return fmt.Errorf("failed to write list run: %w", err)
		}
		offset += int64(len(chunk))
		chunk = chunk[:0]
		return nil
	}

	for _, record := range records {
		if len(chunk)+s.entrySize > cap(chunk) {
			if err := flush(); err != nil {
				return err
			}
		}
		if err := record.MarshalRecord(recordBuf); err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		chunk = append(chunk, recordBuf...)
	}
	return flush()
}

// Entries returns a lazy, forward-only iterator over the list stored for
// key, or nil if the key has no list. The iterator reads the data file in
// chunk-size batches on demand and is not restartable.
func (s *Store[R]) Entries(key int) (*Iterator[R], error) {
	if s.closed {
		return nil, ErrClosed
	}
	if key < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKey, key)
	}

	pointer, count, err := s.readIndex(key)
	if err != nil {
		return nil, err
	}
	if pointer == 0 {
		return nil, nil
	}

	if s.collector != nil {
		s.collector.TrackOperation(stats.OpListGet)
	}
	return &Iterator[R]{
		store:     s,
		offset:    pointer,
		remaining: count,
	}, nil
}

// List materializes the full list for key, or nil if the key has no list
func (s *Store[R]) List(key int) ([]R, error) {
	it, err := s.Entries(key)
	if err != nil || it == nil {
		return nil, err
	}
	records := make([]R, 0, it.remaining)
	for it.Next() {
		records = append(records, it.Record())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// ListSize returns the number of records stored for key, 0 when absent
func (s *Store[R]) ListSize(key int) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if key < 1 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidKey, key)
	}
	_, count, err := s.readIndex(key)
	return count, err
}

// Remove deletes the list for key, returning its run to the free-space
// allocator. Removing an absent key is a no-op.
func (s *Store[R]) Remove(key int) error {
	if s.closed {
		return ErrClosed
	}
	if key < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidKey, key)
	}

	pointer, count, err := s.readIndex(key)
	if err != nil {
		return err
	}
	if pointer == 0 {
		return nil
	}

	if err := s.alloc.Free(pointer, int64(count)*int64(s.entrySize)); err != nil {
		return err
	}
	if err := s.writeIndex(key, 0, 0); err != nil {
		return err
	}

	if s.collector != nil {
		s.collector.TrackOperation(stats.OpListRemove)
	}
	return nil
}

// Keys returns every key with a stored list. This is a linear scan over
// the whole key space up to the highest key ever written.
func (s *Store[R]) Keys() ([]int, error) {
	if s.closed {
		return nil, ErrClosed
	}

	var keys []int
	maxKey := s.index.Size()
	for key := 1; key <= maxKey; key++ {
		pointer, _, err := s.readIndex(key)
		if err != nil {
			return nil, err
		}
		if pointer != 0 {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// MaxKey returns the highest key ever written
func (s *Store[R]) MaxKey() int {
	return s.index.Size()
}

// RecordSize returns the fixed per-record size in bytes
func (s *Store[R]) RecordSize() int {
	return s.entrySize
}

// Close flushes the data file, snapshots the free-space allocator and
// releases all file handles
func (s *Store[R]) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	if err := s.alloc.Save(s.prefix + ".ebm"); err != nil {
		return err
	}
	if err := s.data.Sync(); err != nil {
		return fmt.Errorf("failed to sync list data file: %w", err)
	}
	if err := s.data.Close(); err != nil {
		return fmt.Errorf("failed to close list data file: %w", err)
	}
	return s.index.Close()
}

// Destroy closes the store and deletes all backing files
func (s *Store[R]) Destroy() error {
	if !s.closed {
		if err := s.Close(); err != nil {
			return err
		}
	}
	if err := s.index.Remove(); err != nil {
		return err
	}
	for _, path := range []string{s.prefix + ".lst", s.prefix + ".ebm"} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove list file: %w", err)
		}
	}
	return nil
}
