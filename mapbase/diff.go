// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import "time"

// ActionKind is one of the three osmChange verbs.
type ActionKind int

// The osmChange verbs.
const (
	ActionCreate ActionKind = iota
	ActionModify
	ActionDelete
)

func (k ActionKind) String() string {
	switch k {
	case ActionCreate:
		return "create"
	case ActionModify:
		return "modify"
	case ActionDelete:
		return "delete"
	}
	return "invalid"
}

// DiffAction is a single element operation inside an uploaded diff.
// Create actions carry a placeholder (negative) element id; later actions in
// the same diff may refer to that placeholder.
type DiffAction struct {
	Kind     ActionKind
	IfUnused bool // delete only: silently keep the element when referenced
	Element  Element
}

// DiffEntry reports the outcome of one uploaded action, in input order.
type DiffEntry struct {
	Kind       ActionKind
	OldTypedID TypedID // as submitted, possibly a placeholder
	NewTypedID TypedID // assigned id, 0 for applied deletes
	NewVersion int64   // 0 for applied deletes
	Skipped    bool    // if-unused delete kept because still referenced
}

// DiffResult is the outcome of a committed diff upload.
type DiffResult struct {
	ChangesetID int64
	Entries     []DiffEntry
}

// preparedDiff is the validated, id-assigned write set produced by the
// preparer and consumed by the applier.
type preparedDiff struct {
	sequenceID int64
	now        time.Time

	changeset          Changeset
	changesetUpdatedAt time.Time
	atCap              bool

	elements []Element // application order, real ids, latest flags unset

	deltaCreate int64
	deltaModify int64
	deltaDelete int64

	// latestRefs holds the observed current version of every store element
	// this diff builds on. The applier verifies they are still current.
	latestRefs []VersionedRef
	// deletedIDs holds elements this diff deletes. The applier verifies no
	// parent referencing them was committed after sequenceID.
	deletedIDs []TypedID

	boundsPoints []Point
	entries      []DiffEntry
}
