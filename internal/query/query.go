// Package query answers address-pattern searches over a repository. A
// query never mutates and never takes the repository lock; it walks the
// containment hierarchy in traversal order and yields matching equipment.
package query

import (
	"errors"
	"fmt"
	"iter"

	"arxcore/pkg/address"
	"arxcore/pkg/domain"
)

// ErrInvalidPattern marks a pattern that does not parse. An empty result
// is never an error.
var ErrInvalidPattern = errors.New("query: invalid pattern")

// Find returns the equipment whose addresses match the glob pattern, in
// repository traversal order. The returned sequence is restartable; each
// range re-walks the repository.
func Find(repo *domain.Repository, pattern string) (iter.Seq[domain.Equipment], error) {
	p, err := address.ParsePattern(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return func(yield func(domain.Equipment) bool) {
		repo.WalkEquipment(func(e *domain.Equipment) bool {
			if !p.Matches(e.Address) {
				return true
			}
			return yield(e.Clone())
		})
	}, nil
}

// Predicate narrows a pattern match. All predicates of a query must hold.
type Predicate func(*domain.Equipment) bool

// ByType matches equipment of the given type.
func ByType(equipmentType string) Predicate {
	return func(e *domain.Equipment) bool { return e.Type == equipmentType }
}

// ByStatus matches equipment in the given status.
func ByStatus(status domain.EquipmentStatus) Predicate {
	return func(e *domain.Equipment) bool { return e.Status == status }
}

// OnFloor matches equipment whose address sits on the named floor.
func OnFloor(floor string) Predicate {
	return func(e *domain.Equipment) bool { return e.Address.Floor() == floor }
}

// InRoom matches equipment whose address sits in the named room.
func InRoom(room string) Predicate {
	return func(e *domain.Equipment) bool { return e.Address.Room() == room }
}

// HealthBelow matches equipment with health strictly under the threshold.
func HealthBelow(threshold int) Predicate {
	return func(e *domain.Equipment) bool { return e.Health < threshold }
}

// WithProperty matches equipment carrying the property key with the value.
func WithProperty(key string, value any) Predicate {
	return func(e *domain.Equipment) bool {
		got, ok := e.Properties[key]
		return ok && got == value
	}
}

// Filter combines a pattern match with predicates; every predicate must
// hold for the equipment to be yielded.
func Filter(repo *domain.Repository, pattern string, preds ...Predicate) (iter.Seq[domain.Equipment], error) {
	matches, err := Find(repo, pattern)
	if err != nil {
		return nil, err
	}
	return func(yield func(domain.Equipment) bool) {
		for e := range matches {
			keep := true
			for _, pred := range preds {
				if !pred(&e) {
					keep = false
					break
				}
			}
			if keep && !yield(e) {
				return
			}
		}
	}, nil
}

// Collect drains a sequence into a slice.
func Collect(seq iter.Seq[domain.Equipment]) []domain.Equipment {
	var out []domain.Equipment
	for e := range seq {
		out = append(out, e)
	}
	return out
}

// Count reports how many entities match the pattern.
func Count(repo *domain.Repository, pattern string) (int, error) {
	matches, err := Find(repo, pattern)
	if err != nil {
		return 0, err
	}
	n := 0
	for range matches {
		n++
	}
	return n, nil
}
