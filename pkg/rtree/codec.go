package rtree

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Node record layout (big-endian):
//
//	int32 node ID
//	int16 level
//	per entry: int32 entry ID, float64 min[d], float64 max[d]
//	int32 -1 terminator
const (
	nodeHeaderSize     = 6
	nodeTerminator     = int32(-1)
	nodeTerminatorSize = 4
)

// NodeRecordSize returns the worst-case serialized size of a node holding
// maxEntries entries of the given dimensionality
func NodeRecordSize(maxEntries, dims int) int {
	return nodeHeaderSize + maxEntries*(4+16*dims) + nodeTerminatorSize
}

// encodeNode serializes n into buf, which must be at least the record size
// for n's entry count. The remainder of buf is left untouched.
func encodeNode(n *Node, dims int, buf []byte) error {
	need := nodeHeaderSize + len(n.Entries)*(4+16*dims) + nodeTerminatorSize
	if len(buf) < need {
		return fmt.Errorf("node %d needs %d bytes, buffer has %d", n.ID, need, len(buf))
	}

	binary.BigEndian.PutUint32(buf[0:4], uint32(n.ID))
	binary.BigEndian.PutUint16(buf[4:6], uint16(n.Level))

	off := nodeHeaderSize
	for _, e := range n.Entries {
		if e.Rect.Dimensions() != dims {
			return fmt.Errorf("entry %d has %d dimensions, node codec expects %d",
				e.ID, e.Rect.Dimensions(), dims)
		}
		binary.BigEndian.PutUint32(buf[off:off+4], uint32(e.ID))
		off += 4
		for i := 0; i < dims; i++ {
			binary.BigEndian.PutUint64(buf[off:off+8], math.Float64bits(e.Rect.Min[i]))
			off += 8
		}
		for i := 0; i < dims; i++ {
			binary.BigEndian.PutUint64(buf[off:off+8], math.Float64bits(e.Rect.Max[i]))
			off += 8
		}
	}

	term := nodeTerminator
	binary.BigEndian.PutUint32(buf[off:off+4], uint32(term))
	return nil
}

// decodeNode deserializes a node record, reading entries until the
// terminator
func decodeNode(buf []byte, dims int) (*Node, error) {
	if len(buf) < nodeHeaderSize+nodeTerminatorSize {
		return nil, fmt.Errorf("node record too small: %d bytes", len(buf))
	}

	n := &Node{
		ID:    int32(binary.BigEndian.Uint32(buf[0:4])),
		Level: int16(binary.BigEndian.Uint16(buf[4:6])),
	}

	entrySize := 4 + 16*dims
	off := nodeHeaderSize
	for {
		if off+4 > len(buf) {
			return nil, fmt.Errorf("node %d record is unterminated", n.ID)
		}
		id := int32(binary.BigEndian.Uint32(buf[off : off+4]))
		if id == nodeTerminator {
			break
		}
		if off+entrySize > len(buf) {
			return nil, fmt.Errorf("node %d record truncated at entry %d", n.ID, len(n.Entries))
		}
		off += 4

		rect := Rectangle{Min: make([]float64, dims), Max: make([]float64, dims)}
		for i := 0; i < dims; i++ {
			rect.Min[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[off : off+8]))
			off += 8
		}
		for i := 0; i < dims; i++ {
			rect.Max[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[off : off+8]))
			off += 8
		}
		n.Entries = append(n.Entries, Entry{ID: id, Rect: rect})
	}

	return n, nil
}
