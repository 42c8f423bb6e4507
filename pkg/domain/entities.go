// Package domain defines the in-memory building graph, its canonical
// serialized form, and the change-tracking primitives the version-control
// engine builds on.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"arxcore/pkg/address"
)

// EquipmentStatus enumerates operational states for a piece of equipment.
type EquipmentStatus string

// Canonical equipment statuses.
const (
	StatusOperational EquipmentStatus = "operational"
	StatusMaintenance EquipmentStatus = "maintenance"
	StatusFault       EquipmentStatus = "fault"
	StatusOffline     EquipmentStatus = "offline"
	StatusUnknown     EquipmentStatus = "unknown"
)

// Properties is a schema-less string-keyed property bag. Known keys are
// validated opportunistically by callers; unknown keys pass through
// untouched. encoding/json marshals map keys in sorted order, which keeps
// the canonical file diffable.
type Properties map[string]any

// Clone returns a copy of the bag.
func (p Properties) Clone() Properties {
	if p == nil {
		return nil
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Position is a point in the repository's coordinate system.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// BoundingBox is an axis-aligned 3-D extent.
type BoundingBox struct {
	Min Position `json:"min"`
	Max Position `json:"max"`
}

// CoordinateSystem names a spatial reference used by positions in the
// repository.
type CoordinateSystem struct {
	Name   string   `json:"name"`
	EPSG   int      `json:"epsg,omitempty"`
	Units  string   `json:"units"`
	Origin Position `json:"origin"`
}

// BuildingInfo holds identity and bookkeeping for the building aggregate.
type BuildingInfo struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Version     int       `json:"version"`
}

// BuildingMetadata carries provenance and derived counts.
type BuildingMetadata struct {
	Source           string   `json:"source,omitempty"`
	FloorCount       int      `json:"floor_count"`
	RoomCount        int      `json:"room_count"`
	EquipmentCount   int      `json:"equipment_count"`
	CoordinateSystem string   `json:"coordinate_system,omitempty"`
	Tags             []string `json:"tags,omitempty"`
}

// Site is the fixed outer address prefix shared by every entity in a
// repository: country, region, locality, and building slug.
type Site struct {
	Country  string `json:"country"`
	Region   string `json:"region"`
	Locality string `json:"locality"`
	Building string `json:"building"`
}

// Contains reports whether the address lies under this site prefix.
func (s Site) Contains(a address.Address) bool {
	return a.Country() == s.Country && a.Region() == s.Region &&
		a.Locality() == s.Locality && a.Building() == s.Building
}

// Equipment is an addressable fixture. The Room field is a weak reference
// (the owning room's name); deleting the room re-parents the equipment to
// floor level rather than deleting it.
type Equipment struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Address    address.Address `json:"address"`
	Type       string          `json:"type"`
	Status     EquipmentStatus `json:"status"`
	Health     int             `json:"health"`
	Position   Position        `json:"position"`
	Room       string          `json:"room,omitempty"`
	Properties Properties      `json:"properties,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Clone returns a deep copy of the equipment.
func (e Equipment) Clone() Equipment {
	cp := e
	cp.Properties = e.Properties.Clone()
	return cp
}

// Room is a nested container owning equipment and optional geometry.
type Room struct {
	Name       string       `json:"name"`
	Kind       string       `json:"kind,omitempty"`
	Bounds     *BoundingBox `json:"bounds,omitempty"`
	Equipment  []Equipment  `json:"equipment,omitempty"`
	Properties Properties   `json:"properties,omitempty"`
}

// Clone returns a deep copy of the room.
func (r Room) Clone() Room {
	cp := r
	if r.Bounds != nil {
		b := *r.Bounds
		cp.Bounds = &b
	}
	cp.Equipment = cloneEquipmentSlice(r.Equipment)
	cp.Properties = r.Properties.Clone()
	return cp
}

// Wing groups rooms within a floor. Wings are organizational; they do not
// appear in addresses.
type Wing struct {
	Name      string      `json:"name"`
	Rooms     []Room      `json:"rooms,omitempty"`
	Equipment []Equipment `json:"equipment,omitempty"`
}

// Clone returns a deep copy of the wing.
func (w Wing) Clone() Wing {
	cp := w
	cp.Rooms = make([]Room, len(w.Rooms))
	for i, r := range w.Rooms {
		cp.Rooms[i] = r.Clone()
	}
	cp.Equipment = cloneEquipmentSlice(w.Equipment)
	return cp
}

// Floor is an ordered level of the building holding wings and floor-level
// equipment.
type Floor struct {
	Name      string       `json:"name"`
	Level     int          `json:"level"`
	Bounds    *BoundingBox `json:"bounds,omitempty"`
	Wings     []Wing       `json:"wings,omitempty"`
	Equipment []Equipment  `json:"equipment,omitempty"`
}

// Clone returns a deep copy of the floor.
func (f Floor) Clone() Floor {
	cp := f
	if f.Bounds != nil {
		b := *f.Bounds
		cp.Bounds = &b
	}
	cp.Wings = make([]Wing, len(f.Wings))
	for i, w := range f.Wings {
		cp.Wings[i] = w.Clone()
	}
	cp.Equipment = cloneEquipmentSlice(f.Equipment)
	return cp
}

// Tombstone marks an address vacated by a move or delete; the address may
// not be reused by a new entity within the same repository generation.
type Tombstone struct {
	Address   address.Address `json:"address"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"created_at"`
}

// Repository is the top-level aggregate: the full dataset for one building.
type Repository struct {
	ID                string             `json:"id"`
	Site              Site               `json:"site"`
	Info              BuildingInfo       `json:"info"`
	Metadata          BuildingMetadata   `json:"metadata"`
	CoordinateSystems []CoordinateSystem `json:"coordinate_systems,omitempty"`
	Floors            []Floor            `json:"floors,omitempty"`
	Tombstones        []Tombstone        `json:"tombstones,omitempty"`
}

// Clone returns a deep copy of the repository. Handles returned by the
// persistence layer are always clones so callers never alias cached state.
func (r *Repository) Clone() *Repository {
	if r == nil {
		return nil
	}
	cp := *r
	cp.CoordinateSystems = append([]CoordinateSystem(nil), r.CoordinateSystems...)
	cp.Floors = make([]Floor, len(r.Floors))
	for i, f := range r.Floors {
		cp.Floors[i] = f.Clone()
	}
	cp.Tombstones = append([]Tombstone(nil), r.Tombstones...)
	cp.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	return &cp
}

func cloneEquipmentSlice(in []Equipment) []Equipment {
	if in == nil {
		return nil
	}
	out := make([]Equipment, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}

// WalkEquipment visits every equipment item in repository traversal order:
// per floor, floor-level equipment first, then each wing's equipment, then
// each room's equipment. Returning false stops the walk.
func (r *Repository) WalkEquipment(fn func(*Equipment) bool) {
	for fi := range r.Floors {
		floor := &r.Floors[fi]
		for ei := range floor.Equipment {
			if !fn(&floor.Equipment[ei]) {
				return
			}
		}
		for wi := range floor.Wings {
			wing := &floor.Wings[wi]
			for ei := range wing.Equipment {
				if !fn(&wing.Equipment[ei]) {
					return
				}
			}
			for ri := range wing.Rooms {
				room := &wing.Rooms[ri]
				for ei := range room.Equipment {
					if !fn(&room.Equipment[ei]) {
						return
					}
				}
			}
		}
	}
}

// FindEquipment looks up equipment by address, returning a clone.
func (r *Repository) FindEquipment(a address.Address) (Equipment, bool) {
	var found Equipment
	ok := false
	r.WalkEquipment(func(e *Equipment) bool {
		if e.Address == a {
			found = e.Clone()
			ok = true
			return false
		}
		return true
	})
	return found, ok
}

// ValidateAddress reports whether a new entity may claim the address.
// It fails with address.ErrDuplicate when a live entity or tombstone
// already owns it, and rejects addresses outside the repository's site.
func (r *Repository) ValidateAddress(a address.Address) error {
	if !r.Site.Contains(a) {
		return fmt.Errorf("%w: %s outside site /%s/%s/%s/%s", address.ErrMalformed,
			a, r.Site.Country, r.Site.Region, r.Site.Locality, r.Site.Building)
	}
	if _, ok := r.FindEquipment(a); ok {
		return fmt.Errorf("%w: %s already owned by a live entity", address.ErrDuplicate, a)
	}
	for _, ts := range r.Tombstones {
		if ts.Address == a {
			return fmt.Errorf("%w: %s is tombstoned (%s)", address.ErrDuplicate, a, ts.Reason)
		}
	}
	return nil
}

// EquipmentCount returns the number of equipment items in the repository.
func (r *Repository) EquipmentCount() int {
	n := 0
	r.WalkEquipment(func(*Equipment) bool { n++; return true })
	return n
}

// RefreshMetadata recomputes the derived counts in Metadata.
func (r *Repository) RefreshMetadata() {
	rooms := 0
	for _, f := range r.Floors {
		for _, w := range f.Wings {
			rooms += len(w.Rooms)
		}
	}
	r.Metadata.FloorCount = len(r.Floors)
	r.Metadata.RoomCount = rooms
	r.Metadata.EquipmentCount = r.EquipmentCount()
}

// MarshalCanonical renders the repository in its canonical on-disk form:
// indented JSON with stable key ordering, diffable by line-based tools.
func (r *Repository) MarshalCanonical() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ContentHash returns the SHA-256 of the canonical form, used for commit
// statistics and archive keys.
func (r *Repository) ContentHash() (string, error) {
	raw, err := r.MarshalCanonical()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
