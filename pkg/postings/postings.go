// Package postings stores inverted-file posting lists: for each
// vocabulary-assigned term ID, the ordered list of (document, weight)
// pairs in which the term occurs. Lists are persisted through the generic
// list store, so posting runs share its free-space reuse behavior.
package postings

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/TectonDB/tecton/pkg/liststore"
)

// postingSize is the fixed serialized size: 4-byte document ID + 8-byte weight
const postingSize = 12

// Posting is one (document, weight) pair of a term's posting list
type Posting struct {
	DocID  int32
	Weight float64
}

// MarshalRecord encodes the posting big-endian into buf
func (p Posting) MarshalRecord(buf []byte) error {
	if len(buf) != postingSize {
		return fmt.Errorf("posting record needs %d bytes, got %d", postingSize, len(buf))
	}
	binary.BigEndian.PutUint32(buf[0:4], uint32(p.DocID))
	binary.BigEndian.PutUint64(buf[4:12], math.Float64bits(p.Weight))
	return nil
}

// Factory produces Posting records
type Factory struct{}

// RecordSize returns the fixed posting size in bytes
func (Factory) RecordSize() int { return postingSize }

// UnmarshalRecord decodes one posting
func (Factory) UnmarshalRecord(buf []byte) (Posting, error) {
	if len(buf) != postingSize {
		return Posting{}, fmt.Errorf("posting record needs %d bytes, got %d", postingSize, len(buf))
	}
	return Posting{
		DocID:  int32(binary.BigEndian.Uint32(buf[0:4])),
		Weight: math.Float64frombits(binary.BigEndian.Uint64(buf[4:12])),
	}, nil
}

// Store is an inverted file keyed by small integer term IDs
type Store struct {
	lists *liststore.Store[Posting]
}

// Open opens or creates the posting store rooted at prefix
func Open(prefix string, opts *liststore.Options) (*Store, error) {
	lists, err := liststore.Open[Posting](prefix, Factory{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open posting store: %w", err)
	}
	return &Store{lists: lists}, nil
}

// Put replaces the posting list for term
func (s *Store) Put(term int, list []Posting) error {
	return s.lists.PutList(term, list)
}

// Postings returns a lazy iterator over the posting list for term, or nil
// if the term has none
func (s *Store) Postings(term int) (*liststore.Iterator[Posting], error) {
	return s.lists.Entries(term)
}

// List materializes the full posting list for term, or nil if absent
func (s *Store) List(term int) ([]Posting, error) {
	return s.lists.List(term)
}

// DocCount returns the number of documents listed for term
func (s *Store) DocCount(term int) (int, error) {
	return s.lists.ListSize(term)
}

// Remove deletes the posting list for term
func (s *Store) Remove(term int) error {
	return s.lists.Remove(term)
}

// Terms returns every term ID with a stored posting list
func (s *Store) Terms() ([]int, error) {
	return s.lists.Keys()
}

// Close flushes and closes the underlying list store
func (s *Store) Close() error {
	return s.lists.Close()
}

// Destroy closes the store and deletes its backing files
func (s *Store) Destroy() error {
	return s.lists.Destroy()
}
