// Package blockfile implements a fixed-size block storage abstraction over
// one or more physical files. Blocks are addressed by 1-based integer IDs;
// when a file reaches its block capacity the logical file rolls over into
// an additional numbered physical file.
package blockfile

import (
	"errors"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/TectonDB/tecton/pkg/stats"
)

var (
	// ErrNotFound is returned when a block ID lies outside the current extent.
	// This is the one expected, recoverable condition of the package.
	ErrNotFound = errors.New("block not found")
	// ErrClosed is returned when operations are performed on a closed file
	ErrClosed = errors.New("block file is closed")
	// ErrInvalidBlockID is returned for block IDs below 1
	ErrInvalidBlockID = errors.New("invalid block id")
	// ErrBufferSize is returned when a caller buffer does not match the block size
	ErrBufferSize = errors.New("buffer size does not match block size")
)

// BlockColumnFile is an ordered collection of fixed-size blocks spread
// across physical files named <path>, <path>.2, <path>.3, ...
//
// Mutating operations must be externally synchronized; concurrent reads of
// distinct blocks are safe.
type BlockColumnFile struct {
	path          string
	blockSize     int
	blocksPerFile int
	files         []*os.File
	size          int
	collector     stats.Collector
	closed        bool
}

// Option configures a BlockColumnFile
type Option func(*BlockColumnFile)

// WithStats attaches a statistics collector; nil disables collection
func WithStats(c stats.Collector) Option {
	return func(f *BlockColumnFile) {
		f.collector = c
	}
}

// Open opens or creates a block column file at path. Existing rollover
// files are discovered and the logical size recomputed from their lengths.
func Open(path string, blockSize, blocksPerFile int, opts ...Option) (*BlockColumnFile, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("block size must be positive, got %d", blockSize)
	}
	if blocksPerFile <= 0 {
		return nil, fmt.Errorf("blocks per file must be positive, got %d", blocksPerFile)
	}

	f := &BlockColumnFile{
		path:          path,
		blockSize:     blockSize,
		blocksPerFile: blocksPerFile,
	}
	for _, opt := range opts {
		opt(f)
	}

	base, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open block file: %w", err)
	}
	f.files = append(f.files, base)

	// Discover rollover files left by a previous session
	for n := 2; ; n++ {
		p := rolloverPath(path, n)
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				break
			}
			f.closeAll()
			return nil, fmt.Errorf("failed to stat rollover file: %w", err)
		}
		file, err := os.OpenFile(p, os.O_RDWR, 0644)
		if err != nil {
			f.closeAll()
			return nil, fmt.Errorf("failed to open rollover file: %w", err)
		}
		f.files = append(f.files, file)
	}

	for i, file := range f.files {
		info, err := file.Stat()
		if err != nil {
			f.closeAll()
			return nil, fmt.Errorf("failed to stat block file: %w", err)
		}
		if info.Size()%int64(blockSize) != 0 {
			f.closeAll()
			return nil, fmt.Errorf("block file %d has size %d, not a multiple of block size %d",
				i+1, info.Size(), blockSize)
		}
		f.size += int(info.Size() / int64(blockSize))
	}

	return f, nil
}

// rolloverPath returns the path of the n-th physical file (n >= 1)
func rolloverPath(path string, n int) string {
	if n == 1 {
		return path
	}
	return fmt.Sprintf("%s.%d", path, n)
}

// FileNumber returns the 1-based physical file number holding blockID
func (f *BlockColumnFile) FileNumber(blockID int) int {
	return (blockID-1)/f.blocksPerFile + 1
}

// RelativeID returns the 1-based block index of blockID within its physical file
func (f *BlockColumnFile) RelativeID(blockID int) int {
	return blockID - (f.FileNumber(blockID)-1)*f.blocksPerFile
}

// FilePosition returns the byte offset of blockID within its physical file
func (f *BlockColumnFile) FilePosition(blockID int) int64 {
	return int64(f.RelativeID(blockID)-1) * int64(f.blockSize)
}

// Select fills buf with the content of the given block. Returns ErrNotFound
// if the block lies outside the current logical extent.
func (f *BlockColumnFile) Select(blockID int, buf []byte) error {
	if f.closed {
		return ErrClosed
	}
	if blockID < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidBlockID, blockID)
	}
	if len(buf) != f.blockSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBufferSize, len(buf), f.blockSize)
	}
	if blockID > f.size {
		return fmt.Errorf("%w: block %d beyond extent %d", ErrNotFound, blockID, f.size)
	}

	file := f.files[f.FileNumber(blockID)-1]
	if _, err := file.ReadAt(buf, f.FilePosition(blockID)); err != nil {
		return fmt.Errorf("failed to read block %d: %w", blockID, err)
	}

	if f.collector != nil {
		f.collector.TrackOperation(stats.OpBlockRead)
		f.collector.TrackBytes(false, uint64(f.blockSize))
	}
	return nil
}

// Insert writes buf as the content of the given block. If blockID exceeds
// the current size, the file is transparently extended with zero-filled
// blocks, rolling over into additional physical files as needed.
func (f *BlockColumnFile) Insert(blockID int, buf []byte) error {
	if f.closed {
		return ErrClosed
	}
	if blockID < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidBlockID, blockID)
	}
	if len(buf) != f.blockSize {
		return fmt.Errorf("%w: got %d, want %d", ErrBufferSize, len(buf), f.blockSize)
	}

	if blockID > f.size {
		if err := f.grow(blockID); err != nil {
			return err
		}
		if f.collector != nil {
			f.collector.TrackOperation(stats.OpBlockGrow)
		}
	}

	file := f.files[f.FileNumber(blockID)-1]
	if _, err := file.WriteAt(buf, f.FilePosition(blockID)); err != nil {
		return fmt.Errorf("failed to write block %d: %w", blockID, err)
	}

	if f.collector != nil {
		f.collector.TrackOperation(stats.OpBlockWrite)
		f.collector.TrackBytes(true, uint64(f.blockSize))
	}
	return nil
}

// grow extends the logical file to hold exactly n blocks, zero-filling the
// new region and creating rollover files as needed
func (f *BlockColumnFile) grow(n int) error {
	lastFile := f.FileNumber(n)

	for len(f.files) < lastFile {
		p := rolloverPath(f.path, len(f.files)+1)
		file, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return fmt.Errorf("failed to create rollover file: %w", err)
		}
		f.files = append(f.files, file)
	}

	// Fill every file before the last to capacity; truncation to a larger
	// size zero-fills.
	full := int64(f.blocksPerFile) * int64(f.blockSize)
	for i := 0; i < lastFile-1; i++ {
		info, err := f.files[i].Stat()
		if err != nil {
			return fmt.Errorf("failed to stat block file: %w", err)
		}
		if info.Size() < full {
			if err := f.files[i].Truncate(full); err != nil {
				return fmt.Errorf("failed to extend block file: %w", err)
			}
		}
	}

	tail := int64(f.RelativeID(n)) * int64(f.blockSize)
	info, err := f.files[lastFile-1].Stat()
	if err != nil {
		return fmt.Errorf("failed to stat block file: %w", err)
	}
	if info.Size() < tail {
		if err := f.files[lastFile-1].Truncate(tail); err != nil {
			return fmt.Errorf("failed to extend block file: %w", err)
		}
	}

	f.size = n
	return nil
}

// SetSize grows (zero-filling) or truncates the file to exactly n blocks.
// Truncation drops trailing blocks and removes emptied physical files.
func (f *BlockColumnFile) SetSize(n int) error {
	if f.closed {
		return ErrClosed
	}
	if n < 0 {
		return fmt.Errorf("size must be non-negative, got %d", n)
	}

	if n > f.size {
		return f.grow(n)
	}
	if n == f.size {
		return nil
	}

	lastFile := 1
	if n > 0 {
		lastFile = f.FileNumber(n)
	}

	for i := len(f.files); i > lastFile; i-- {
		file := f.files[i-1]
		if err := file.Close(); err != nil {
			return fmt.Errorf("failed to close rollover file: %w", err)
		}
		if err := os.Remove(rolloverPath(f.path, i)); err != nil {
			return fmt.Errorf("failed to remove rollover file: %w", err)
		}
		f.files = f.files[:i-1]
	}

	tail := int64(0)
	if n > 0 {
		tail = int64(f.RelativeID(n)) * int64(f.blockSize)
	}
	if err := f.files[lastFile-1].Truncate(tail); err != nil {
		return fmt.Errorf("failed to truncate block file: %w", err)
	}

	f.size = n
	return nil
}

// Fingerprint returns the xxhash64 digest of a block's content
func (f *BlockColumnFile) Fingerprint(blockID int) (uint64, error) {
	buf := make([]byte, f.blockSize)
	if err := f.Select(blockID, buf); err != nil {
		return 0, err
	}
	return xxhash.Sum64(buf), nil
}

// Size returns the number of currently allocated blocks
func (f *BlockColumnFile) Size() int {
	return f.size
}

// BlockSize returns the immutable block size in bytes
func (f *BlockColumnFile) BlockSize() int {
	return f.blockSize
}

// BlocksPerFile returns the immutable per-file block capacity
func (f *BlockColumnFile) BlocksPerFile() int {
	return f.blocksPerFile
}

// Path returns the base path of the first physical file
func (f *BlockColumnFile) Path() string {
	return f.path
}

// Sync flushes all physical files to stable storage
func (f *BlockColumnFile) Sync() error {
	if f.closed {
		return ErrClosed
	}
	for _, file := range f.files {
		if err := file.Sync(); err != nil {
			return fmt.Errorf("failed to sync block file: %w", err)
		}
	}
	return nil
}

// Close releases the underlying file handles
func (f *BlockColumnFile) Close() error {
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	var firstErr error
	for _, file := range f.files {
		if err := file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close block file: %w", err)
		}
	}
	f.files = nil
	return firstErr
}

// Remove closes the file and deletes all backing physical files
func (f *BlockColumnFile) Remove() error {
	if !f.closed {
		if err := f.Close(); err != nil {
			return err
		}
	}
	for n := 1; ; n++ {
		p := rolloverPath(f.path, n)
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				break
			}
			return fmt.Errorf("failed to stat block file: %w", err)
		}
		if err := os.Remove(p); err != nil {
			return fmt.Errorf("failed to remove block file: %w", err)
		}
	}
	return nil
}

func (f *BlockColumnFile) closeAll() {
	for _, file := range f.files {
		file.Close()
	}
	f.files = nil
}
