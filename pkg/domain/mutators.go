package domain

import (
	"fmt"
	"time"

	"arxcore/pkg/address"
)

// ErrNotFound is returned when a referenced entity does not exist in the
// repository.
type ErrNotFound struct {
	Kind string
	Name string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.Name)
}

func (r *Repository) floor(name string) (*Floor, bool) {
	for i := range r.Floors {
		if r.Floors[i].Name == name {
			return &r.Floors[i], true
		}
	}
	return nil, false
}

// EnsureFloor returns the named floor, creating it at the given level when
// absent.
func (r *Repository) EnsureFloor(name string, level int) *Floor {
	if f, ok := r.floor(name); ok {
		return f
	}
	r.Floors = append(r.Floors, Floor{Name: name, Level: level})
	return &r.Floors[len(r.Floors)-1]
}

// EnsureWing returns the named wing on the floor, creating it when absent.
func (f *Floor) EnsureWing(name string) *Wing {
	for i := range f.Wings {
		if f.Wings[i].Name == name {
			return &f.Wings[i]
		}
	}
	f.Wings = append(f.Wings, Wing{Name: name})
	return &f.Wings[len(f.Wings)-1]
}

// EnsureRoom returns the named room in the wing, creating it when absent.
func (w *Wing) EnsureRoom(name string) *Room {
	for i := range w.Rooms {
		if w.Rooms[i].Name == name {
			return &w.Rooms[i]
		}
	}
	w.Rooms = append(w.Rooms, Room{Name: name})
	return &w.Rooms[len(w.Rooms)-1]
}

// AddEquipment validates the equipment's address and places it in the room
// named by the address's room segment within the given floor and wing.
// Containers are created as needed.
func (r *Repository) AddEquipment(floorName, wingName string, eq Equipment) error {
	if eq.Address.IsZero() {
		return fmt.Errorf("%w: equipment %q has no address", address.ErrMalformed, eq.Name)
	}
	if err := r.ValidateAddress(eq.Address); err != nil {
		return err
	}
	floor := r.EnsureFloor(floorName, len(r.Floors))
	wing := floor.EnsureWing(wingName)
	room := wing.EnsureRoom(eq.Address.Room())
	eq.Room = room.Name
	room.Equipment = append(room.Equipment, eq)
	r.RefreshMetadata()
	return nil
}

// UpdateEquipment mutates the equipment at the address in place and bumps
// its UpdatedAt. The address itself is immutable; use MoveEquipment to
// relocate.
func (r *Repository) UpdateEquipment(a address.Address, mutator func(*Equipment) error) (Equipment, error) {
	var updated Equipment
	var mutErr error
	found := false
	r.WalkEquipment(func(e *Equipment) bool {
		if e.Address != a {
			return true
		}
		found = true
		before := e.Address
		if mutErr = mutator(e); mutErr != nil {
			return false
		}
		if e.Address != before {
			mutErr = fmt.Errorf("%w: address is immutable, use MoveEquipment", address.ErrMalformed)
			e.Address = before
			return false
		}
		e.UpdatedAt = time.Now().UTC()
		updated = e.Clone()
		return false
	})
	if !found {
		return Equipment{}, ErrNotFound{Kind: "equipment", Name: a.String()}
	}
	return updated, mutErr
}

// RemoveEquipment deletes the equipment at the address, leaving a
// tombstone. It reports whether anything was removed.
func (r *Repository) RemoveEquipment(a address.Address, reason string) bool {
	removed := false
	prune := func(list []Equipment) []Equipment {
		for i := range list {
			if list[i].Address == a {
				removed = true
				return append(list[:i:i], list[i+1:]...)
			}
		}
		return list
	}
	for fi := range r.Floors {
		floor := &r.Floors[fi]
		floor.Equipment = prune(floor.Equipment)
		for wi := range floor.Wings {
			wing := &floor.Wings[wi]
			wing.Equipment = prune(wing.Equipment)
			for ri := range wing.Rooms {
				room := &wing.Rooms[ri]
				room.Equipment = prune(room.Equipment)
			}
		}
	}
	if removed {
		r.Tombstones = append(r.Tombstones, Tombstone{Address: a, Reason: reason, CreatedAt: time.Now().UTC()})
		r.RefreshMetadata()
	}
	return removed
}

// MoveEquipment relocates the equipment at old to a fresh address. The old
// address is tombstoned; the moved item lands in the room named by the new
// address under the given floor and wing.
func (r *Repository) MoveEquipment(old, next address.Address, floorName, wingName string) error {
	eq, ok := r.FindEquipment(old)
	if !ok {
		return ErrNotFound{Kind: "equipment", Name: old.String()}
	}
	if err := r.ValidateAddress(next); err != nil {
		return err
	}
	r.RemoveEquipment(old, "moved to "+next.String())
	eq.Address = next
	eq.UpdatedAt = time.Now().UTC()
	floor := r.EnsureFloor(floorName, len(r.Floors))
	wing := floor.EnsureWing(wingName)
	room := wing.EnsureRoom(next.Room())
	eq.Room = room.Name
	room.Equipment = append(room.Equipment, eq)
	r.RefreshMetadata()
	return nil
}

// RemoveRoom deletes a room. Its equipment survives: ownership is a weak
// reference, so items re-parent to floor level with the room reference
// cleared.
func (r *Repository) RemoveRoom(floorName, wingName, roomName string) error {
	floor, ok := r.floor(floorName)
	if !ok {
		return ErrNotFound{Kind: "floor", Name: floorName}
	}
	for wi := range floor.Wings {
		wing := &floor.Wings[wi]
		if wing.Name != wingName {
			continue
		}
		for ri := range wing.Rooms {
			room := &wing.Rooms[ri]
			if room.Name != roomName {
				continue
			}
			for _, eq := range room.Equipment {
				eq.Room = ""
				floor.Equipment = append(floor.Equipment, eq)
			}
			wing.Rooms = append(wing.Rooms[:ri:ri], wing.Rooms[ri+1:]...)
			r.RefreshMetadata()
			return nil
		}
	}
	return ErrNotFound{Kind: "room", Name: roomName}
}
