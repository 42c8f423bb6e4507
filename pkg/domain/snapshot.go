package domain

import (
	"bytes"
	"encoding/json"
)

// Snapshot wraps a JSON capture of an entity's state at a point in a
// change's lifecycle. The bytes are cloned on the way in and out so callers
// can never mutate shared state.
type Snapshot struct {
	defined bool
	raw     json.RawMessage
}

// NewSnapshot builds a snapshot from raw JSON. Passing nil yields a defined
// but empty snapshot; use UndefinedSnapshot for "not set".
func NewSnapshot(raw json.RawMessage) Snapshot {
	s := Snapshot{defined: true}
	if raw != nil {
		s.raw = cloneRawMessage(raw)
	}
	return s
}

// SnapshotOf marshals a typed value into a Snapshot.
func SnapshotOf[T any](value T) (Snapshot, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Snapshot{}, err
	}
	return NewSnapshot(raw), nil
}

// UndefinedSnapshot returns an uninitialized snapshot.
func UndefinedSnapshot() Snapshot {
	return Snapshot{}
}

// Defined reports whether the snapshot has been initialized.
func (s Snapshot) Defined() bool {
	return s.defined
}

// IsEmpty reports whether the snapshot contains no bytes.
func (s Snapshot) IsEmpty() bool {
	return !s.defined || len(s.raw) == 0
}

// Raw returns a cloned copy of the underlying JSON. Nil is returned when
// the snapshot is undefined or empty.
func (s Snapshot) Raw() json.RawMessage {
	if s.IsEmpty() {
		return nil
	}
	return cloneRawMessage(s.raw)
}

// Equal reports byte equality of two snapshots. Undefined snapshots equal
// only other undefined snapshots.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.defined != other.defined {
		return false
	}
	return bytes.Equal(s.raw, other.raw)
}

// Decode unmarshals the snapshot into the target.
func (s Snapshot) Decode(target any) error {
	return json.Unmarshal(s.raw, target)
}

// MarshalJSON encodes the snapshot as its raw JSON, or null when undefined.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	if !s.defined || len(s.raw) == 0 {
		return []byte("null"), nil
	}
	return cloneRawMessage(s.raw), nil
}

// UnmarshalJSON decodes raw JSON into the snapshot; JSON null yields an
// undefined snapshot.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = Snapshot{}
		return nil
	}
	*s = NewSnapshot(data)
	return nil
}

func cloneRawMessage(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	cloned := make(json.RawMessage, len(raw))
	copy(cloned, raw)
	return cloned
}
