package liststore

import "fmt"

// Iterator yields the records of one list in storage order. It reads the
// data file lazily, one chunk at a time, and cannot be restarted: capture
// the key and call Entries again to re-read a list.
type Iterator[R Record] struct {
	store     *Store[R]
	offset    int64
	remaining int
	queue     []R
	current   R
	err       error
}

// Next advances to the next record, returning false when the list is
// exhausted or a read error occurred
func (it *Iterator[R]) Next() bool {
	if it.err != nil {
		return false
	}
	if len(it.queue) == 0 {
		if it.remaining == 0 {
			return false
		}
		if err := it.fill(); err != nil {
			it.err = err
			return false
		}
	}
	it.current = it.queue[0]
	it.queue = it.queue[1:]
	return true
}

// fill reads the next chunk of records into the in-memory queue
func (it *Iterator[R]) fill() error {
	s := it.store
	if s.closed {
		return ErrClosed
	}

	perChunk := s.chunkSize / s.entrySize
	n := it.remaining
	if n > perChunk {
		n = perChunk
	}

	buf := make([]byte, n*s.entrySize)
	if _, err := s.data.ReadAt(buf, it.offset); err != nil {
		return fmt.Errorf("failed to read list run: %w", err)
	}

	it.queue = make([]R, 0, n)
	for i := 0; i < n; i++ {
		record, err := s.factory.UnmarshalRecord(buf[i*s.entrySize : (i+1)*s.entrySize])
		if err != nil {
			return fmt.Errorf("failed to unmarshal record: %w", err)
		}
		it.queue = append(it.queue, record)
	}

	it.offset += int64(len(buf))
	it.remaining -= n

	if s.collector != nil {
		s.collector.TrackBytes(false, uint64(len(buf)))
	}
	return nil
}

// Record returns the record most recently yielded by Next
func (it *Iterator[R]) Record() R {
	return it.current
}

// Err returns the first error encountered during iteration
func (it *Iterator[R]) Err() error {
	return it.err
}
