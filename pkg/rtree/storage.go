package rtree

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned when operations are performed on a closed
	// storage manager or tree
	ErrClosed = errors.New("storage manager is closed")
	// ErrNodeNotFound is returned when a node ID resolves to no stored node
	ErrNodeNotFound = errors.New("node not found")
)

// TreeMeta is the persistent tree header: where the root lives and the
// geometry the tree was built with. Geometry is validated on reopen so a
// tree cannot silently be read with mismatched parameters.
type TreeMeta struct {
	RootID     int32
	Size       int64
	Dimensions uint16
	MaxEntries uint16
	MinEntries uint16
}

// StorageManager owns R-tree nodes. Every node returned by Node and every
// node passed to Store crosses the boundary as a defensive copy: caller
// mutations take effect only through an explicit re-Store.
//
// Mutating operations must be externally synchronized.
type StorageManager interface {
	// NextID allocates a fresh node ID, reusing freed IDs where possible
	NextID() (int32, error)
	// Store persists the node under its ID
	Store(n *Node) error
	// Node retrieves a copy of the node stored under id
	Node(id int32) (*Node, error)
	// Free releases a node ID and its storage for reuse
	Free(id int32) error
	// PutMeta persists the tree header
	PutMeta(meta TreeMeta) error
	// Meta loads the tree header, reporting whether one is present
	Meta() (TreeMeta, bool, error)
	// Close flushes any buffered state and releases resources
	Close() error
	// Info returns a human-readable description of the manager
	Info() string
}

// treeMetaRecord adapts TreeMeta to the list store's record capability so
// the header can live in a metadata file
type treeMetaRecord struct {
	meta TreeMeta
}

const treeMetaRecordSize = 4 + 8 + 2 + 2 + 2

func (r treeMetaRecord) MarshalRecord(buf []byte) error {
	if len(buf) != treeMetaRecordSize {
		return fmt.Errorf("tree meta record needs %d bytes, got %d", treeMetaRecordSize, len(buf))
	}
	binary.BigEndian.PutUint32(buf[0:4], uint32(r.meta.RootID))
	binary.BigEndian.PutUint64(buf[4:12], uint64(r.meta.Size))
	binary.BigEndian.PutUint16(buf[12:14], r.meta.Dimensions)
	binary.BigEndian.PutUint16(buf[14:16], r.meta.MaxEntries)
	binary.BigEndian.PutUint16(buf[16:18], r.meta.MinEntries)
	return nil
}

type treeMetaFactory struct{}

func (treeMetaFactory) RecordSize() int { return treeMetaRecordSize }

func (treeMetaFactory) UnmarshalRecord(buf []byte) (treeMetaRecord, error) {
	if len(buf) != treeMetaRecordSize {
		return treeMetaRecord{}, fmt.Errorf("tree meta record needs %d bytes, got %d", treeMetaRecordSize, len(buf))
	}
	return treeMetaRecord{meta: TreeMeta{
		RootID:     int32(binary.BigEndian.Uint32(buf[0:4])),
		Size:       int64(binary.BigEndian.Uint64(buf[4:12])),
		Dimensions: binary.BigEndian.Uint16(buf[12:14]),
		MaxEntries: binary.BigEndian.Uint16(buf[14:16]),
		MinEntries: binary.BigEndian.Uint16(buf[16:18]),
	}}, nil
}
