package rtree

import (
	"errors"
	"fmt"

	"github.com/TectonDB/tecton/pkg/blockfile"
	"github.com/TectonDB/tecton/pkg/common/log"
	"github.com/TectonDB/tecton/pkg/freespace"
	"github.com/TectonDB/tecton/pkg/liststore"
	"github.com/TectonDB/tecton/pkg/stats"
)

// DiskOptions configures a DiskStorageManager
type DiskOptions struct {
	// BlocksPerFile is the rollover capacity of the node block file
	BlocksPerFile int
	// BufferSize is the node buffer capacity in nodes
	BufferSize int
	// BlockSize overrides the computed block size; it must be at least the
	// worst-case node record size
	BlockSize int
	// Stats is an optional statistics sink
	Stats stats.Collector
	// Logger overrides the default logger
	Logger log.Logger
}

// DiskStorageManager persists R-tree nodes in a block column file, one
// node per block, with freed node IDs recycled through a block allocator
// and reads/writes staged through a write-back node buffer.
type DiskStorageManager struct {
	path       string
	dims       int
	maxEntries int
	file       *blockfile.BlockColumnFile
	alloc      *freespace.BlockAllocator
	buffer     *nodeBuffer
	meta       *liststore.MetadataStore[treeMetaRecord]
	collector  stats.Collector
	logger     log.Logger
	closed     bool
}

// OpenDiskStorageManager opens or creates node storage rooted at prefix,
// using the files <prefix> (block file, with rollover) and <prefix>.mtd.
func OpenDiskStorageManager(prefix string, dims, maxEntries int, opts *DiskOptions) (*DiskStorageManager, error) {
	if dims < 1 {
		return nil, fmt.Errorf("dimensions must be at least 1, got %d", dims)
	}
	if maxEntries < 2 {
		return nil, fmt.Errorf("max entries must be at least 2, got %d", maxEntries)
	}

	blocksPerFile := 65536
	bufferSize := 128
	blockSize := NodeRecordSize(maxEntries, dims)
	var collector stats.Collector
	logger := log.GetDefaultLogger().WithField("component", "disk_storage")
	if opts != nil {
		if opts.BlocksPerFile > 0 {
			blocksPerFile = opts.BlocksPerFile
		}
		if opts.BufferSize > 0 {
			bufferSize = opts.BufferSize
		}
		if opts.BlockSize > 0 {
			if opts.BlockSize < blockSize {
				return nil, fmt.Errorf("block size %d cannot hold a node of %d entries in %d dimensions (need %d)",
					opts.BlockSize, maxEntries, dims, blockSize)
			}
			blockSize = opts.BlockSize
		}
		if opts.Stats != nil {
			collector = opts.Stats
		}
		if opts.Logger != nil {
			logger = opts.Logger
		}
	}

	file, err := blockfile.Open(prefix, blockSize, blocksPerFile, blockfile.WithStats(collector))
	if err != nil {
		return nil, fmt.Errorf("failed to open node storage: %w", err)
	}

	alloc, err := freespace.NewBlockAllocator(file, collector)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to scan node storage: %w", err)
	}

	meta, err := liststore.OpenMetadata[treeMetaRecord](prefix+".mtd", treeMetaFactory{})
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to open tree metadata: %w", err)
	}

	m := &DiskStorageManager{
		path:       prefix,
		dims:       dims,
		maxEntries: maxEntries,
		file:       file,
		alloc:      alloc,
		meta:       meta,
		collector:  collector,
		logger:     logger,
	}
	m.buffer = newNodeBuffer(bufferSize, m.readNode, m.writeNode)

	// A persisted header must agree with the requested geometry
	if header, present, err := meta.Load(); err != nil {
		m.Close()
		return nil, err
	} else if present {
		if int(header.meta.Dimensions) != dims || int(header.meta.MaxEntries) != maxEntries {
			m.Close()
			return nil, fmt.Errorf("tree at %s was built with %d dimensions and %d max entries, requested %d/%d",
				prefix, header.meta.Dimensions, header.meta.MaxEntries, dims, maxEntries)
		}
	}

	return m, nil
}

// readNode fetches and decodes one node record from the block file
func (m *DiskStorageManager) readNode(id int32) (*Node, error) {
	buf := make([]byte, m.file.BlockSize())
	if err := m.file.Select(int(id), buf); err != nil {
		if errors.Is(err, blockfile.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
		}
		return nil, fmt.Errorf("failed to read node %d: %w", id, err)
	}

	n, err := decodeNode(buf, m.dims)
	if err != nil {
		return nil, err
	}
	// Zero-filled and sentinel-marked blocks hold no node
	if n.ID != id {
		return nil, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
	}

	if m.collector != nil {
		m.collector.TrackOperation(stats.OpNodeRead)
	}
	return n, nil
}

// writeNode encodes and persists one node record
func (m *DiskStorageManager) writeNode(n *Node) error {
	buf := make([]byte, m.file.BlockSize())
	if err := encodeNode(n, m.dims, buf); err != nil {
		return err
	}
	if err := m.file.Insert(int(n.ID), buf); err != nil {
		return fmt.Errorf("failed to write node %d: %w", n.ID, err)
	}

	if m.collector != nil {
		m.collector.TrackOperation(stats.OpNodeWrite)
	}
	return nil
}

// NextID allocates a node ID, reusing freed block slots
func (m *DiskStorageManager) NextID() (int32, error) {
	if m.closed {
		return 0, ErrClosed
	}
	id, err := m.alloc.Allocate(1)
	if err != nil {
		return 0, err
	}
	return int32(id), nil
}

// Store buffers the node for a deferred write
func (m *DiskStorageManager) Store(n *Node) error {
	if m.closed {
		return ErrClosed
	}
	if n.ID < 1 {
		return fmt.Errorf("cannot store node with id %d", n.ID)
	}
	if len(n.Entries) > m.maxEntries {
		return fmt.Errorf("node %d holds %d entries, limit is %d", n.ID, len(n.Entries), m.maxEntries)
	}
	return m.buffer.put(n)
}

// Node retrieves a copy of the node stored under id
func (m *DiskStorageManager) Node(id int32) (*Node, error) {
	if m.closed {
		return nil, ErrClosed
	}
	return m.buffer.get(id)
}

// Free drops the node from the buffer and returns its block for reuse
func (m *DiskStorageManager) Free(id int32) error {
	if m.closed {
		return ErrClosed
	}
	m.buffer.drop(id)
	return m.alloc.Free(int(id), 1)
}

// PutMeta persists the tree header
func (m *DiskStorageManager) PutMeta(meta TreeMeta) error {
	if m.closed {
		return ErrClosed
	}
	return m.meta.Store(treeMetaRecord{meta: meta})
}

// Meta loads the tree header
func (m *DiskStorageManager) Meta() (TreeMeta, bool, error) {
	if m.closed {
		return TreeMeta{}, false, ErrClosed
	}
	record, present, err := m.meta.Load()
	if err != nil {
		return TreeMeta{}, false, err
	}
	return record.meta, present, nil
}

// Close flushes all buffered nodes and releases the block file. Skipping
// Close loses every write still sitting in the buffer.
func (m *DiskStorageManager) Close() error {
	if m.closed {
		return ErrClosed
	}

	if err := m.buffer.flush(); err != nil {
		m.logger.Error("node buffer flush failed: %v", err)
		m.file.Close()
		m.closed = true
		return err
	}
	m.closed = true

	if err := m.file.Sync(); err != nil {
		return err
	}
	return m.file.Close()
}

// Destroy closes the manager and deletes its backing files
func (m *DiskStorageManager) Destroy() error {
	if !m.closed {
		m.buffer = newNodeBuffer(1, m.readNode, m.writeNode) // discard pending writes
		m.closed = true
		if err := m.file.Close(); err != nil {
			return err
		}
	}
	if err := m.file.Remove(); err != nil {
		return err
	}
	return m.meta.Remove()
}

// Info describes the manager
func (m *DiskStorageManager) Info() string {
	return fmt.Sprintf("disk storage at %s: %d blocks of %d bytes, %d buffered nodes, %d free runs",
		m.path, m.file.Size(), m.file.BlockSize(), m.buffer.len(), m.alloc.RunCount())
}

var _ StorageManager = (*DiskStorageManager)(nil)
