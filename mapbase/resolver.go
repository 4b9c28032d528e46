// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import "context"

// resolver maintains the preparer's local element snapshot: a lazily
// populated mapping from ref to its history tail. Local state is the single
// source of truth during preparation; the store is consulted at most once
// per ref, always at the preparation snapshot.
type resolver struct {
	db         *DB
	sequenceID int64

	local   map[TypedID][]*Element
	fetched map[TypedID]bool
}

func newResolver(db *DB, sequenceID int64) *resolver {
	return &resolver{
		db:         db,
		sequenceID: sequenceID,
		local:      map[TypedID][]*Element{},
		fetched:    map[TypedID]bool{},
	}
}

// known reports whether the ref has local state already.
func (r *resolver) known(ref TypedID) bool {
	return len(r.local[ref]) > 0
}

// push appends a newly validated element version to the local history tail.
func (r *resolver) push(element *Element) {
	r.local[element.TypedID] = append(r.local[element.TypedID], element)
}

// base returns the store version an element had before this diff touched
// it, or nil when the diff created it.
func (r *resolver) base(ref TypedID) *Element {
	tail := r.local[ref]
	for _, element := range tail {
		if element.SequenceID != 0 {
			return element
		}
	}
	return nil
}

// latest returns the newest version of the ref from local state, loading it
// from the store on first use. Placeholder refs never hit the store.
func (r *resolver) latest(ctx context.Context, ref TypedID) (*Element, error) {
	if tail := r.local[ref]; len(tail) > 0 {
		return tail[len(tail)-1], nil
	}
	if ref.IsPlaceholder() {
		return nil, ErrElementNotFound.New("%v", ref)
	}
	if err := r.load(ctx, []TypedID{ref}); err != nil {
		return nil, err
	}
	if tail := r.local[ref]; len(tail) > 0 {
		return tail[len(tail)-1], nil
	}
	return nil, ErrElementNotFound.New("%v", ref)
}

// peek returns the newest local version without touching the store.
func (r *resolver) peek(ref TypedID) *Element {
	if tail := r.local[ref]; len(tail) > 0 {
		return tail[len(tail)-1]
	}
	return nil
}

// load fetches the current version of the given refs from the store at the
// snapshot, skipping refs that were already fetched or are locally known.
func (r *resolver) load(ctx context.Context, refs []TypedID) error {
	var missing []TypedID
	for _, ref := range refs {
		if ref.IsPlaceholder() || r.fetched[ref] || r.known(ref) {
			continue
		}
		r.fetched[ref] = true
		missing = append(missing, ref)
	}
	if len(missing) == 0 {
		return nil
	}

	elements, err := r.db.GetCurrentElements(ctx, GetCurrentElements{
		TypedIDs:   missing,
		SequenceID: r.sequenceID,
	})
	if err != nil {
		return err
	}
	for i := range elements {
		element := elements[i]
		r.local[element.TypedID] = append(r.local[element.TypedID], &element)
	}
	return nil
}
