// Package reconcile computes and applies the minimal add/remove diff between
// a desired membership set and the currently stored one. The same primitive
// backs every many-to-many association in the schema (job-task links today;
// the admin surface's role-menu, group-role and user-group grants use the
// identical contract).
package reconcile

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/dataops-hub/flowbridge/internal/apperr"
)

// Result reports what a reconciliation actually changed.
type Result[T comparable] struct {
	Added   []T `json:"added"`
	Removed []T `json:"removed"`
}

// Diff returns desired−current and current−desired. Duplicates within
// desired are collapsed before diffing, so a repeated identifier cannot
// produce a double insert.
func Diff[T comparable](desired, current []T) (toAdd, toRemove []T) {
	want := make(map[T]bool, len(desired))
	for _, id := range desired {
		want[id] = true
	}
	have := make(map[T]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	seen := make(map[T]bool, len(desired))
	for _, id := range desired {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !have[id] {
			toAdd = append(toAdd, id)
		}
	}
	seen = make(map[T]bool, len(current))
	for _, id := range current {
		if seen[id] {
			continue
		}
		seen[id] = true
		if !want[id] {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}

// Apply diffs desired against current and applies the result inside one
// transaction. Any insert or delete failure rolls the whole operation back
// and surfaces as a ReconciliationFailed error carrying the attempted sets.
func Apply[T comparable](
	db *gorm.DB,
	desired, current []T,
	insert func(tx *gorm.DB, id T) error,
	remove func(tx *gorm.DB, id T) error,
) (Result[T], error) {
	toAdd, toRemove := Diff(desired, current)
	res := Result[T]{Added: toAdd, Removed: toRemove}
	if len(toAdd) == 0 && len(toRemove) == 0 {
		return res, nil
	}
	err := db.Transaction(func(tx *gorm.DB) error {
		for _, id := range toAdd {
			if err := insert(tx, id); err != nil {
				return fmt.Errorf("insert %v: %w", id, err)
			}
		}
		for _, id := range toRemove {
			if err := remove(tx, id); err != nil {
				return fmt.Errorf("remove %v: %w", id, err)
			}
		}
		return nil
	})
	if err != nil {
		return res, &apperr.Error{
			Kind: apperr.ReconciliationFailed,
			Op:   "reconcile.apply",
			Msg:  fmt.Sprintf("toAdd=%v toRemove=%v", toAdd, toRemove),
			Err:  err,
		}
	}
	return res, nil
}
