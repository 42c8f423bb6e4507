// Package address implements the 7-segment hierarchical addressing scheme
// used to locate building entities: /country/region/locality/building/floor/room/fixture.
// Addresses are immutable value types; every segment is lowercase
// alphanumeric with hyphens.
package address

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// SegmentCount is the fixed number of segments in a full address.
const SegmentCount = 7

// Segment indexes into an address, outermost first.
const (
	SegmentCountry = iota
	SegmentRegion
	SegmentLocality
	SegmentBuilding
	SegmentFloor
	SegmentRoom
	SegmentFixture
)

var (
	// ErrMalformed is returned when a path does not have exactly seven
	// segments or a segment violates the [a-z0-9-]+ character class.
	ErrMalformed = errors.New("address: malformed path")
	// ErrDuplicate is returned when another live entity already owns the
	// address within a repository.
	ErrDuplicate = errors.New("address: duplicate")
)

// Address is a parsed, validated 7-segment path. The zero value is invalid;
// construct via Parse or MustParse.
type Address struct {
	segments [SegmentCount]string
}

// Parse converts a slash-separated path into an Address. The path must have
// exactly seven non-empty segments, each matching [a-z0-9-]+. A leading
// slash is required; a trailing slash is rejected.
func Parse(path string) (Address, error) {
	if !strings.HasPrefix(path, "/") {
		return Address{}, fmt.Errorf("%w: %q missing leading slash", ErrMalformed, path)
	}
	parts := strings.Split(path[1:], "/")
	if len(parts) != SegmentCount {
		return Address{}, fmt.Errorf("%w: %q has %d segments, want %d", ErrMalformed, path, len(parts), SegmentCount)
	}
	var a Address
	for i, seg := range parts {
		if !validSegment(seg) {
			return Address{}, fmt.Errorf("%w: segment %d %q violates [a-z0-9-]+", ErrMalformed, i, seg)
		}
		a.segments[i] = seg
	}
	return a, nil
}

// MustParse is Parse for static paths; it panics on error.
func MustParse(path string) Address {
	a, err := Parse(path)
	if err != nil {
		panic(err)
	}
	return a
}

func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

// String renders the canonical slash-separated form. Parse(a.String())
// round-trips to an equal Address.
func (a Address) String() string {
	return "/" + strings.Join(a.segments[:], "/")
}

// IsZero reports whether the address is the uninitialized zero value.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Segments returns a copy of the seven segments, outermost first.
func (a Address) Segments() []string {
	out := make([]string, SegmentCount)
	copy(out, a.segments[:])
	return out
}

// Segment returns the segment at the given index.
func (a Address) Segment(i int) string {
	return a.segments[i]
}

// Country returns the outermost segment.
func (a Address) Country() string { return a.segments[SegmentCountry] }

// Region returns the second segment.
func (a Address) Region() string { return a.segments[SegmentRegion] }

// Locality returns the third segment.
func (a Address) Locality() string { return a.segments[SegmentLocality] }

// Building returns the fourth segment.
func (a Address) Building() string { return a.segments[SegmentBuilding] }

// Floor returns the fifth segment.
func (a Address) Floor() string { return a.segments[SegmentFloor] }

// Room returns the sixth segment.
func (a Address) Room() string { return a.segments[SegmentRoom] }

// Fixture returns the innermost segment.
func (a Address) Fixture() string { return a.segments[SegmentFixture] }

// WithFixture returns a copy of the address with the fixture segment
// replaced. The new segment must satisfy the segment character class.
func (a Address) WithFixture(fixture string) (Address, error) {
	if !validSegment(fixture) {
		return Address{}, fmt.Errorf("%w: fixture %q violates [a-z0-9-]+", ErrMalformed, fixture)
	}
	a.segments[SegmentFixture] = fixture
	return a, nil
}

// MarshalJSON encodes the address as its canonical string form.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an address from its canonical string form.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Identifier is a deterministic 256-bit digest of an address, stable across
// processes and usable as a foreign-system GUID.
type Identifier [sha256.Size]byte

// String renders the identifier as lowercase hex.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// Identifier derives the address's stable 256-bit identifier. Equal
// addresses always produce equal identifiers.
func (a Address) Identifier() Identifier {
	return sha256.Sum256([]byte(a.String()))
}
