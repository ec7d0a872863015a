package liststore

import (
	"fmt"
	"os"
)

// MetadataStore holds a single fixed-size record behind a presence flag:
// byte 0 is 0 (empty) or 1 (full), followed by the record payload.
type MetadataStore[R Record] struct {
	path    string
	factory RecordFactory[R]
}

// OpenMetadata opens or creates the metadata file at path
func OpenMetadata[R Record](path string, factory RecordFactory[R]) (*MetadataStore[R], error) {
	if factory.RecordSize() < 1 {
		return nil, fmt.Errorf("record size must be positive, got %d", factory.RecordSize())
	}
	m := &MetadataStore[R]{path: path, factory: factory}

	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat metadata file: %w", err)
		}
		if err := m.Clear(); err != nil {
			return nil, err
		}
		return m, nil
	}

	if want := int64(1 + factory.RecordSize()); info.Size() != want {
		return nil, fmt.Errorf("metadata file %s has size %d, expected %d", path, info.Size(), want)
	}
	return m, nil
}

// Load returns the stored record and whether one is present
func (m *MetadataStore[R]) Load() (R, bool, error) {
	var zero R
	data, err := os.ReadFile(m.path)
	if err != nil {
		return zero, false, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if len(data) != 1+m.factory.RecordSize() {
		return zero, false, fmt.Errorf("metadata file %s is corrupt: %d bytes", m.path, len(data))
	}
	if data[0] == 0 {
		return zero, false, nil
	}

	record, err := m.factory.UnmarshalRecord(data[1:])
	if err != nil {
		return zero, false, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return record, true, nil
}

// Store writes record as the present metadata value
func (m *MetadataStore[R]) Store(record R) error {
	buf := make([]byte, 1+m.factory.RecordSize())
	buf[0] = 1
	if err := record.MarshalRecord(buf[1:]); err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(m.path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Clear marks the metadata record as absent
func (m *MetadataStore[R]) Clear() error {
	buf := make([]byte, 1+m.factory.RecordSize())
	if err := os.WriteFile(m.path, buf, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}

// Remove deletes the metadata file
func (m *MetadataStore[R]) Remove() error {
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove metadata file: %w", err)
	}
	return nil
}
