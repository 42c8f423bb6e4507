package domain

import (
	"errors"
	"fmt"
	"sort"

	"arxcore/pkg/address"
)

// OpKind tags the operation recorded for an address within one commit.
type OpKind string

// Operation kinds.
const (
	OpCreated OpKind = "created"
	OpUpdated OpKind = "updated"
	OpDeleted OpKind = "deleted"
	OpMoved   OpKind = "moved"
)

// ErrConflictingOperation is returned when a changeset is asked to record
// two operations for one address that cannot collapse into a single one.
var ErrConflictingOperation = errors.New("changeset: conflicting operations for address")

// Operation captures what happened to the entity at one address. Moved
// operations are recorded under the destination address with From holding
// the vacated one.
type Operation struct {
	Kind   OpKind           `json:"kind"`
	Before Snapshot         `json:"before,omitzero"`
	After  Snapshot         `json:"after,omitzero"`
	From   *address.Address `json:"from,omitempty"`
}

// IsZero reports whether the snapshot is undefined, for json omitzero.
func (s Snapshot) IsZero() bool {
	return !s.defined
}

// Equal reports whether two operations are identical in kind, payloads,
// and move endpoints.
func (op Operation) Equal(other Operation) bool {
	if op.Kind != other.Kind || !op.Before.Equal(other.Before) || !op.After.Equal(other.After) {
		return false
	}
	if (op.From == nil) != (other.From == nil) {
		return false
	}
	return op.From == nil || *op.From == *other.From
}

// ChangeSet maps address (canonical string form) to the single operation
// recorded for it. The one-operation-per-address invariant is maintained by
// Record, which collapses sequential edits.
type ChangeSet map[string]Operation

// NewChangeSet returns an empty changeset.
func NewChangeSet() ChangeSet {
	return make(ChangeSet)
}

// Len returns the number of recorded operations.
func (cs ChangeSet) Len() int {
	return len(cs)
}

// IsEmpty reports whether the changeset records nothing.
func (cs ChangeSet) IsEmpty() bool {
	return len(cs) == 0
}

// Addresses returns the recorded addresses in sorted order.
func (cs ChangeSet) Addresses() []string {
	out := make([]string, 0, len(cs))
	for k := range cs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Get returns the operation recorded at the address.
func (cs ChangeSet) Get(a address.Address) (Operation, bool) {
	op, ok := cs[a.String()]
	return op, ok
}

// Clone returns a copy of the changeset.
func (cs ChangeSet) Clone() ChangeSet {
	out := make(ChangeSet, len(cs))
	for k, v := range cs {
		out[k] = v
	}
	return out
}

// Touches reports whether the address is affected by any operation,
// including the vacated endpoint of a move.
func (cs ChangeSet) Touches(a address.Address) bool {
	key := a.String()
	if _, ok := cs[key]; ok {
		return true
	}
	for _, op := range cs {
		if op.From != nil && *op.From == a {
			return true
		}
	}
	return false
}

// Record adds an operation for the address, collapsing it with any
// operation already present so one address never carries two. In
// particular, deleting then re-creating an entity at one address collapses
// to a single update spanning the original state to the final one, so
// merges treat it as an edit rather than a structural conflict. A move
// folds into whatever the changeset already records at its vacated
// address, and moving then deleting collapses to a delete keyed at the
// original address.
func (cs ChangeSet) Record(a address.Address, op Operation) error {
	key := a.String()
	if op.Kind == OpMoved && op.From != nil {
		fromKey := op.From.String()
		if prior, ok := cs[fromKey]; ok {
			switch prior.Kind {
			case OpCreated:
				// Create then move: a single create at the destination.
				delete(cs, fromKey)
				return cs.Record(a, Operation{Kind: OpCreated, After: op.After})
			case OpUpdated:
				delete(cs, fromKey)
				op.Before = prior.Before
			case OpMoved:
				// A move chain keeps the original source endpoint.
				delete(cs, fromKey)
				op.Before = prior.Before
				op.From = prior.From
			}
		}
	}
	existing, ok := cs[key]
	if !ok {
		cs[key] = op
		return nil
	}
	switch {
	case existing.Kind == OpDeleted && op.Kind == OpCreated:
		cs[key] = Operation{Kind: OpUpdated, Before: existing.Before, After: op.After}
	case existing.Kind == OpCreated && op.Kind == OpUpdated:
		cs[key] = Operation{Kind: OpCreated, After: op.After}
	case existing.Kind == OpCreated && op.Kind == OpDeleted:
		delete(cs, key)
	case existing.Kind == OpUpdated && op.Kind == OpUpdated:
		cs[key] = Operation{Kind: OpUpdated, Before: existing.Before, After: op.After}
	case existing.Kind == OpUpdated && op.Kind == OpDeleted:
		cs[key] = Operation{Kind: OpDeleted, Before: existing.Before}
	case existing.Kind == OpMoved && op.Kind == OpUpdated:
		cs[key] = Operation{Kind: OpMoved, Before: existing.Before, After: op.After, From: existing.From}
	case existing.Kind == OpMoved && op.Kind == OpDeleted:
		// The entity is gone from its original address and never durably
		// existed at the destination.
		delete(cs, key)
		if existing.From == nil {
			cs[key] = Operation{Kind: OpDeleted, Before: existing.Before}
			return nil
		}
		return cs.Record(*existing.From, Operation{Kind: OpDeleted, Before: existing.Before})
	default:
		return fmt.Errorf("%w: %s already records %s, cannot add %s",
			ErrConflictingOperation, key, existing.Kind, op.Kind)
	}
	return nil
}

// Diff computes the changeset transforming before into after. Entities are
// matched by stable id; an entity whose address changed yields a single
// Moved operation at the destination.
func Diff(before, after *Repository) (ChangeSet, error) {
	type entry struct {
		eq   Equipment
		snap Snapshot
	}
	index := func(r *Repository) (map[string]entry, map[string]address.Address, error) {
		byAddr := make(map[string]entry)
		byID := make(map[string]address.Address)
		var walkErr error
		r.WalkEquipment(func(e *Equipment) bool {
			snap, err := SnapshotOf(e.Clone())
			if err != nil {
				walkErr = err
				return false
			}
			byAddr[e.Address.String()] = entry{eq: e.Clone(), snap: snap}
			byID[e.ID] = e.Address
			return true
		})
		return byAddr, byID, walkErr
	}

	beforeAddr, beforeID, err := index(before)
	if err != nil {
		return nil, err
	}
	afterAddr, afterID, err := index(after)
	if err != nil {
		return nil, err
	}

	cs := NewChangeSet()
	for key, cur := range afterAddr {
		prev, sameAddr := beforeAddr[key]
		if sameAddr {
			if !prev.snap.Equal(cur.snap) {
				if err := cs.Record(cur.eq.Address, Operation{Kind: OpUpdated, Before: prev.snap, After: cur.snap}); err != nil {
					return nil, err
				}
			}
			continue
		}
		if oldAddr, moved := beforeID[cur.eq.ID]; moved {
			from := oldAddr
			old := beforeAddr[oldAddr.String()]
			if err := cs.Record(cur.eq.Address, Operation{Kind: OpMoved, Before: old.snap, After: cur.snap, From: &from}); err != nil {
				return nil, err
			}
			continue
		}
		if err := cs.Record(cur.eq.Address, Operation{Kind: OpCreated, After: cur.snap}); err != nil {
			return nil, err
		}
	}
	for key, prev := range beforeAddr {
		if _, still := afterID[prev.eq.ID]; still {
			continue
		}
		if _, replaced := afterAddr[key]; replaced {
			// Another entity now owns the address; its Created/Updated op
			// already covers the key, and the old entity is gone.
			continue
		}
		if err := cs.Record(prev.eq.Address, Operation{Kind: OpDeleted, Before: prev.snap}); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

// Apply replays the changeset onto the repository in address order.
func (cs ChangeSet) Apply(r *Repository) error {
	for _, key := range cs.Addresses() {
		op := cs[key]
		addr, err := address.Parse(key)
		if err != nil {
			return err
		}
		switch op.Kind {
		case OpCreated, OpMoved:
			if op.Kind == OpMoved && op.From != nil {
				r.RemoveEquipment(*op.From, "moved to "+key)
			}
			var eq Equipment
			if err := op.After.Decode(&eq); err != nil {
				return fmt.Errorf("decode %s at %s: %w", op.Kind, key, err)
			}
			if err := placeEquipment(r, addr, eq); err != nil {
				return err
			}
		case OpUpdated:
			var next Equipment
			if err := op.After.Decode(&next); err != nil {
				return fmt.Errorf("decode update at %s: %w", key, err)
			}
			if _, err := r.UpdateEquipment(addr, func(e *Equipment) error {
				next.Address = e.Address
				*e = next
				return nil
			}); err != nil {
				return err
			}
		case OpDeleted:
			r.RemoveEquipment(addr, "deleted")
		default:
			return fmt.Errorf("unknown operation kind %q at %s", op.Kind, key)
		}
	}
	r.RefreshMetadata()
	return nil
}

// placeEquipment inserts equipment at the address, reusing an existing room
// of the same name anywhere on the floor, or creating floor/wing/room
// containers as needed.
func placeEquipment(r *Repository, a address.Address, eq Equipment) error {
	eq.Address = a
	floor := r.EnsureFloor(a.Floor(), len(r.Floors))
	for wi := range floor.Wings {
		wing := &floor.Wings[wi]
		for ri := range wing.Rooms {
			room := &wing.Rooms[ri]
			if room.Name == a.Room() {
				eq.Room = room.Name
				room.Equipment = append(room.Equipment, eq)
				return nil
			}
		}
	}
	wing := floor.EnsureWing("general")
	room := wing.EnsureRoom(a.Room())
	eq.Room = room.Name
	room.Equipment = append(room.Equipment, eq)
	return nil
}

// ConflictEntry describes one address both sides changed incompatibly.
type ConflictEntry struct {
	Address  string     `json:"address"`
	Ours     *Operation `json:"ours,omitempty"`
	Theirs   *Operation `json:"theirs,omitempty"`
	Ancestor Snapshot   `json:"ancestor,omitzero"`
}

// Merge three-way merges the source side's changes (theirs) against the
// target side's (ours), both expressed relative to their common ancestor.
// It is a pure function: the returned changeset holds the operations to
// apply on top of the target branch, and the conflict list holds every
// address changed incompatibly on both sides. Conflicting addresses are
// left out of the changeset; until each one is given a replacement
// operation the changeset must not be applied.
//
// Rules per address: changed on one side only, auto-apply; changed
// identically on both sides, already satisfied on the target (idempotent);
// changed differently, including a delete against an update or a move
// overlapping either endpoint, conflict.
func Merge(ours, theirs ChangeSet) (ChangeSet, []ConflictEntry) {
	touched := make(map[string]struct{})
	collect := func(cs ChangeSet) {
		for key, op := range cs {
			touched[key] = struct{}{}
			if op.From != nil {
				touched[op.From.String()] = struct{}{}
			}
		}
	}
	collect(ours)
	collect(theirs)

	keys := make([]string, 0, len(touched))
	for k := range touched {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	merged := NewChangeSet()
	var conflicts []ConflictEntry
	for _, key := range keys {
		a, err := address.Parse(key)
		if err != nil {
			continue
		}
		ourOp, ourPrimary := ours[key]
		theirOp, theirPrimary := theirs[key]
		ourTouch := ourPrimary || ours.Touches(a)
		theirTouch := theirPrimary || theirs.Touches(a)

		switch {
		case theirTouch && !ourTouch:
			if theirPrimary {
				merged[key] = theirOp
			}
		case ourTouch && !theirTouch:
			// Target-side change only; already present on the target branch.
		default:
			// Both sides touched the address. Identical primary operations
			// are idempotent; anything else conflicts, including a move
			// overlapping an edit at either endpoint.
			if ourPrimary && theirPrimary && ourOp.Equal(theirOp) {
				continue
			}
			entry := ConflictEntry{Address: key}
			if ourPrimary {
				op := ourOp
				entry.Ours = &op
				entry.Ancestor = op.Before
			} else if ourTouch {
				if op, ok := findTouching(ours, a); ok {
					entry.Ours = &op
					entry.Ancestor = op.Before
				}
			}
			if theirPrimary {
				op := theirOp
				entry.Theirs = &op
				if !entry.Ancestor.Defined() {
					entry.Ancestor = op.Before
				}
			} else if theirTouch {
				if op, ok := findTouching(theirs, a); ok {
					entry.Theirs = &op
					if !entry.Ancestor.Defined() {
						entry.Ancestor = op.Before
					}
				}
			}
			conflicts = append(conflicts, entry)
		}
	}
	return merged, conflicts
}

func findTouching(cs ChangeSet, a address.Address) (Operation, bool) {
	if op, ok := cs[a.String()]; ok {
		return op, true
	}
	for _, op := range cs {
		if op.From != nil && *op.From == a {
			return op, true
		}
	}
	return Operation{}, false
}

// Invert returns the changeset that undoes cs. A move inverts to a move in
// the opposite direction, keyed at the vacated address.
func (cs ChangeSet) Invert() ChangeSet {
	out := NewChangeSet()
	for key, op := range cs {
		switch op.Kind {
		case OpCreated:
			out[key] = Operation{Kind: OpDeleted, Before: op.After}
		case OpDeleted:
			out[key] = Operation{Kind: OpCreated, After: op.Before}
		case OpUpdated:
			out[key] = Operation{Kind: OpUpdated, Before: op.After, After: op.Before}
		case OpMoved:
			if op.From == nil {
				out[key] = Operation{Kind: OpUpdated, Before: op.After, After: op.Before}
				continue
			}
			dest, err := address.Parse(key)
			if err != nil {
				continue
			}
			out[op.From.String()] = Operation{Kind: OpMoved, Before: op.After, After: op.Before, From: &dest}
		}
	}
	return out
}

// Compose folds a sequence of changesets (oldest first) into the net
// changeset relative to the state preceding the first one.
func Compose(sets ...ChangeSet) (ChangeSet, error) {
	out := NewChangeSet()
	for _, cs := range sets {
		for _, key := range cs.Addresses() {
			a, err := address.Parse(key)
			if err != nil {
				return nil, err
			}
			if err := out.Record(a, cs[key]); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
