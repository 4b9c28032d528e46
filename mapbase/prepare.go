// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"context"
	"time"
)

// prepareDiff validates an uploaded diff against a read snapshot and turns
// it into a write set. It performs no writes: the applier re-verifies the
// snapshot assumptions under lock before committing.
func (db *DB) prepareDiff(ctx context.Context, user User, changesetID int64, actions []DiffAction) (_ *preparedDiff, err error) {
	defer mon.Task()(&ctx)(&err)

	sequenceID, err := db.CurrentSequenceID(ctx)
	if err != nil {
		return nil, err
	}
	now := db.Now()
	if err := db.checkTimeIntegrity(ctx, sequenceID, now); err != nil {
		return nil, err
	}

	changeset, err := db.GetChangeset(ctx, GetChangeset{ChangesetID: changesetID})
	if err != nil {
		return nil, err
	}
	if changeset.UserID != user.ID {
		return nil, ErrChangesetAccessDenied.New("%d", changesetID)
	}
	if !changeset.IsOpen() {
		return nil, ErrChangesetClosed.New("%d", changesetID)
	}
	sizeCap := user.ChangesetSizeCap()
	if changeset.Size+int64(len(actions)) > sizeCap {
		return nil, ErrChangesetTooBig.New("%d + %d > %d", changeset.Size, len(actions), sizeCap)
	}

	p := &preparer{
		db:         db,
		prepared:   &preparedDiff{sequenceID: sequenceID, now: now, changeset: changeset, changesetUpdatedAt: changeset.UpdatedAt},
		resolver:   newResolver(db, sequenceID),
		assigned:   map[TypedID]TypedID{},
		latestSeen: map[VersionedRef]bool{},
		deferred:   map[TypedID]bool{},
	}
	for i := range actions {
		if err := p.prepareAction(ctx, changesetID, &actions[i]); err != nil {
			return nil, err
		}
	}
	if err := p.finalizePoints(ctx); err != nil {
		return nil, err
	}

	prepared := p.prepared
	applied := prepared.deltaCreate + prepared.deltaModify + prepared.deltaDelete
	prepared.atCap = changeset.Size+applied == sizeCap
	return prepared, nil
}

// checkTimeIntegrity guards against clock regressions: accepting writes
// with a timestamp older than already committed data would corrupt the
// history order.
func (db *DB) checkTimeIntegrity(ctx context.Context, sequenceID int64, now time.Time) (err error) {
	if sequenceID == 0 {
		return nil
	}
	var createdAt time.Time
	err = db.db.QueryRowContext(ctx, `
		SELECT created_at FROM elements WHERE sequence_id = $1
	`, sequenceID).Scan(&createdAt)
	if err != nil {
		return Error.Wrap(err)
	}
	if now.Before(createdAt) {
		return ErrTimeIntegrity.New("server time %v behind stored %v", now, createdAt)
	}
	return nil
}

// preparer carries the per-upload validation state.
type preparer struct {
	db       *DB
	prepared *preparedDiff
	resolver *resolver

	assigned   map[TypedID]TypedID // placeholder -> assigned real id
	maxIDs     map[ElementType]ElementID
	latestSeen map[VersionedRef]bool
	deferred   map[TypedID]bool // node and way refs resolved in finalizePoints
}

// nextID assigns the next free element id of the given type, counting up
// from the highest id committed before the snapshot.
func (p *preparer) nextID(ctx context.Context, typ ElementType) (TypedID, error) {
	if p.maxIDs == nil {
		maxIDs, err := p.db.MaxElementIDs(ctx, MaxElementIDs{SequenceID: p.prepared.sequenceID})
		if err != nil {
			return 0, err
		}
		p.maxIDs = maxIDs
	}
	p.maxIDs[typ]++
	return NewTypedID(typ, p.maxIDs[typ])
}

// dependOn records that the diff builds on the given store version, so the
// applier can verify it is still the current one.
func (p *preparer) dependOn(element *Element) {
	if element.SequenceID == 0 {
		return // in-diff version, verified by construction
	}
	ref := element.Ref()
	if !p.latestSeen[ref] {
		p.latestSeen[ref] = true
		p.prepared.latestRefs = append(p.prepared.latestRefs, ref)
	}
}

func (p *preparer) prepareAction(ctx context.Context, changesetID int64, action *DiffAction) error {
	payload := action.Element
	if payload.ChangesetID != changesetID {
		return ErrChangesetMismatch.New("%v: element changeset %d does not match %d", payload.TypedID, payload.ChangesetID, changesetID)
	}

	switch action.Kind {
	case ActionCreate:
		return p.prepareCreate(ctx, payload)
	case ActionModify:
		return p.prepareModify(ctx, payload)
	case ActionDelete:
		return p.prepareDelete(ctx, action, payload)
	}
	return ErrInvalidRequest.New("unknown action")
}

func (p *preparer) prepareCreate(ctx context.Context, payload Element) error {
	if !payload.TypedID.IsPlaceholder() {
		return ErrInvalidRequest.New("%v: create requires a placeholder id", payload.TypedID)
	}
	if payload.Version != 1 {
		return ErrVersionConflict.New("%v: create requires version 1, got %d", payload.TypedID, payload.Version)
	}
	if !payload.Visible {
		return ErrInvalidRequest.New("%v: created element must be visible", payload.TypedID)
	}
	if _, dup := p.assigned[payload.TypedID]; dup {
		return ErrInvalidRequest.New("%v: placeholder id used twice", payload.TypedID)
	}

	placeholder := payload.TypedID
	realID, err := p.nextID(ctx, placeholder.Type())
	if err != nil {
		return err
	}
	// Registered before member fixup, so an element may reference its own
	// placeholder.
	p.assigned[placeholder] = realID
	payload.TypedID = realID
	if err := p.fixupPayload(&payload); err != nil {
		return err
	}
	if err := p.checkMembers(ctx, &payload); err != nil {
		return err
	}

	p.push(payload)
	p.collectPoints(nil, &payload)
	p.prepared.deltaCreate++
	p.prepared.entries = append(p.prepared.entries, DiffEntry{
		Kind:       ActionCreate,
		OldTypedID: placeholder,
		NewTypedID: realID,
		NewVersion: 1,
	})
	return nil
}

func (p *preparer) prepareModify(ctx context.Context, payload Element) error {
	submitted := payload.TypedID
	target, err := p.resolveTarget(submitted)
	if err != nil {
		return err
	}
	if !payload.Visible {
		return ErrInvalidRequest.New("%v: modify cannot hide an element", submitted)
	}

	latest, err := p.resolver.latest(ctx, target)
	if err != nil {
		return err
	}
	if latest.Version+1 != payload.Version {
		return ErrVersionConflict.New("%v: expected version %d, got %d", submitted, latest.Version+1, payload.Version)
	}
	if !latest.Visible {
		return ErrAlreadyDeleted.New("%v", submitted)
	}
	p.dependOn(latest)

	payload.TypedID = target
	if err := p.fixupPayload(&payload); err != nil {
		return err
	}
	if err := p.checkMembers(ctx, &payload); err != nil {
		return err
	}

	p.push(payload)
	p.collectPoints(latest, &payload)
	p.prepared.deltaModify++
	p.prepared.entries = append(p.prepared.entries, DiffEntry{
		Kind:       ActionModify,
		OldTypedID: submitted,
		NewTypedID: target,
		NewVersion: payload.Version,
	})
	return nil
}

func (p *preparer) prepareDelete(ctx context.Context, action *DiffAction, payload Element) error {
	submitted := payload.TypedID
	target, err := p.resolveTarget(submitted)
	if err != nil {
		return err
	}

	latest, err := p.resolver.latest(ctx, target)
	if err != nil {
		return err
	}
	if latest.Version+1 != payload.Version {
		return ErrVersionConflict.New("%v: expected version %d, got %d", submitted, latest.Version+1, payload.Version)
	}
	if !latest.Visible {
		return ErrAlreadyDeleted.New("%v", submitted)
	}

	inUseBy, err := p.referencedBy(ctx, target)
	if err != nil {
		return err
	}
	if inUseBy != 0 {
		if action.IfUnused {
			p.prepared.entries = append(p.prepared.entries, DiffEntry{
				Kind:       ActionDelete,
				OldTypedID: submitted,
				NewTypedID: target,
				NewVersion: latest.Version,
				Skipped:    true,
			})
			return nil
		}
		return ErrElementInUse.New("%v referenced by %v", submitted, inUseBy)
	}

	p.dependOn(latest)

	payload.TypedID = target
	payload.Visible = false
	payload.Tags, payload.Point, payload.Members, payload.Roles = nil, nil, nil, nil

	p.push(payload)
	p.collectPoints(latest, &payload)
	p.prepared.deletedIDs = append(p.prepared.deletedIDs, target)
	p.prepared.deltaDelete++
	p.prepared.entries = append(p.prepared.entries, DiffEntry{
		Kind:       ActionDelete,
		OldTypedID: submitted,
	})
	return nil
}

// resolveTarget maps a submitted ref to the store id, translating
// placeholders assigned earlier in the same diff.
func (p *preparer) resolveTarget(submitted TypedID) (TypedID, error) {
	if !submitted.IsPlaceholder() {
		return submitted, nil
	}
	real, ok := p.assigned[submitted]
	if !ok {
		return 0, ErrElementNotFound.New("%v", submitted)
	}
	return real, nil
}

// fixupPayload remaps placeholder members, rounds coordinates and runs the
// payload validation.
func (p *preparer) fixupPayload(payload *Element) error {
	for i, member := range payload.Members {
		if member.IsPlaceholder() {
			real, ok := p.assigned[member]
			if !ok {
				return ErrMemberNotFound.New("%v references unknown %v", payload.TypedID, member)
			}
			payload.Members[i] = real
		}
	}
	if payload.Point != nil {
		rounded := payload.Point.Round()
		payload.Point = &rounded
	}
	return payload.Validate()
}

// checkMembers verifies every member resolves to a visible current element.
// Self references are permitted.
func (p *preparer) checkMembers(ctx context.Context, payload *Element) error {
	if len(payload.Members) == 0 {
		return nil
	}
	if err := p.resolver.load(ctx, payload.Members); err != nil {
		return err
	}
	for _, member := range payload.Members {
		if member == payload.TypedID {
			continue
		}
		m := p.resolver.peek(member)
		if m == nil || !m.Visible {
			return ErrMemberNotFound.New("%v references %v", payload.TypedID, member)
		}
		p.dependOn(m)
	}
	return nil
}

func (p *preparer) push(payload Element) {
	element := payload
	p.resolver.push(&element)
	p.prepared.elements = append(p.prepared.elements, element)
}

// referencedBy decides whether the element is still referenced, combining
// in-diff knowledge with a bounded parent query at the snapshot. It returns
// a referencing parent id, or 0.
func (p *preparer) referencedBy(ctx context.Context, target TypedID) (TypedID, error) {
	var localPositive TypedID
	negative := map[TypedID]bool{}

	for ref, tail := range p.resolver.local {
		if ref == target || len(tail) == 0 {
			continue
		}
		cur := tail[len(tail)-1]
		if cur.SequenceID != 0 {
			continue // untouched store version, covered by the parent query
		}
		curRefs := cur.Visible && containsMember(cur.Members, target)
		base := p.resolver.base(ref)
		baseRefs := base != nil && base.Visible && containsMember(base.Members, target)
		switch {
		case curRefs:
			localPositive = ref
		case baseRefs:
			negative[ref] = true
		}
	}
	if localPositive != 0 {
		return localPositive, nil
	}

	// The query may return only parents this diff has already
	// un-referenced: over-fetch by one past the local negatives so a real
	// outside parent cannot hide behind them.
	parents, err := p.db.GetParents(ctx, GetParents{
		MemberIDs:  []TypedID{target},
		SequenceID: p.prepared.sequenceID,
		Limit:      len(negative) + 1,
	})
	if err != nil {
		return 0, err
	}
	for i := range parents {
		if parents[i].TypedID == target || negative[parents[i].TypedID] {
			continue
		}
		return parents[i].TypedID, nil
	}
	return 0, nil
}

func containsMember(members TypedIDs, target TypedID) bool {
	for _, member := range members {
		if member == target {
			return true
		}
	}
	return false
}

// collectPoints gathers the geometry-change points of one action for the
// changeset bounds. Way and relation geometry resolves through member nodes,
// fetched in one batch at the end of preparation.
func (p *preparer) collectPoints(prev *Element, next *Element) {
	switch next.TypedID.Type() {
	case TypeNode:
		if prev != nil && prev.Point != nil {
			p.prepared.boundsPoints = append(p.prepared.boundsPoints, *prev.Point)
		}
		if next.Point != nil {
			p.prepared.boundsPoints = append(p.prepared.boundsPoints, *next.Point)
		}

	case TypeWay:
		for _, member := range unionMembers(prev, next) {
			p.deferPoint(member)
		}

	case TypeRelation:
		if relationFullContribution(prev, next) {
			for _, member := range unionMembers(prev, next) {
				p.deferPoint(member)
			}
		} else {
			for _, member := range symmetricDifference(prev, next) {
				p.deferPoint(member)
			}
		}
	}
}

// relationFullContribution reports whether a relation change contributes
// the geometry of all its members rather than only the changed ones: that
// happens when tags changed or a relation-typed member was added/removed.
func relationFullContribution(prev *Element, next *Element) bool {
	if prev == nil || !prev.Visible || !next.Visible {
		return true
	}
	if !equalTags(prev.Tags, next.Tags) {
		return true
	}
	for _, member := range symmetricDifference(prev, next) {
		if member.Type() == TypeRelation {
			return true
		}
	}
	return false
}

func equalTags(a, b Tags) bool {
	if len(a) != len(b) {
		return false
	}
	for key, value := range a {
		if other, ok := b[key]; !ok || other != value {
			return false
		}
	}
	return true
}

func unionMembers(prev *Element, next *Element) []TypedID {
	seen := map[TypedID]bool{}
	var result []TypedID
	add := func(element *Element) {
		if element == nil {
			return
		}
		for _, member := range element.Members {
			if !seen[member] {
				seen[member] = true
				result = append(result, member)
			}
		}
	}
	add(prev)
	add(next)
	return result
}

func symmetricDifference(prev *Element, next *Element) []TypedID {
	inPrev := map[TypedID]bool{}
	if prev != nil {
		for _, member := range prev.Members {
			inPrev[member] = true
		}
	}
	inNext := map[TypedID]bool{}
	if next != nil {
		for _, member := range next.Members {
			inNext[member] = true
		}
	}
	var result []TypedID
	for member := range inPrev {
		if !inNext[member] {
			result = append(result, member)
		}
	}
	for member := range inNext {
		if !inPrev[member] {
			result = append(result, member)
		}
	}
	return result
}

// deferPoint schedules a member's geometry for the final batched fetch.
// Nested relation members carry no geometry of their own and are skipped.
func (p *preparer) deferPoint(ref TypedID) {
	switch ref.Type() {
	case TypeNode, TypeWay:
		p.deferred[ref] = true
	}
}

// finalizePoints resolves the deferred way and node refs with two batched
// snapshot reads and folds their points into the bounds contribution.
func (p *preparer) finalizePoints(ctx context.Context) error {
	var refs []TypedID
	for ref := range p.deferred {
		refs = append(refs, ref)
	}
	if err := p.resolver.load(ctx, refs); err != nil {
		return err
	}

	var nodes []TypedID
	seen := map[TypedID]bool{}
	addNode := func(ref TypedID) {
		if !seen[ref] {
			seen[ref] = true
			nodes = append(nodes, ref)
		}
	}
	for _, ref := range refs {
		switch ref.Type() {
		case TypeNode:
			addNode(ref)
		case TypeWay:
			if way := p.resolver.peek(ref); way != nil && way.Visible {
				for _, member := range way.Members {
					addNode(member)
				}
			}
		}
	}

	if err := p.resolver.load(ctx, nodes); err != nil {
		return err
	}
	for _, ref := range nodes {
		if node := p.resolver.peek(ref); node != nil && node.Visible && node.Point != nil {
			p.prepared.boundsPoints = append(p.prepared.boundsPoints, *node.Point)
		}
	}
	return nil
}
