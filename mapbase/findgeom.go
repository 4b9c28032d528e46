// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// FindElementsInBounds contains arguments for the spatial query.
type FindElementsInBounds struct {
	Bounds     Rect
	NodesLimit int  // 0 means unlimited
	LegacyCap  bool // fail when the node count exceeds the legacy ceiling
}

// FindElementsInBounds returns the current visible nodes inside the
// rectangle together with their enclosing context: parent ways, those ways'
// full node sets, and the parent relations of both. The result is ordered
// matching nodes, ways, relations, then out-of-bounds way member nodes,
// de-duplicated.
func (db *DB) FindElementsInBounds(ctx context.Context, opts FindElementsInBounds) (_ []Element, err error) {
	defer mon.Task()(&ctx)(&err)

	sequenceID, err := db.CurrentSequenceID(ctx)
	if err != nil || sequenceID == 0 {
		return nil, err
	}

	limit := opts.NodesLimit
	if opts.LegacyCap && (limit == 0 || limit > MapQueryLegacyNodesLimit) {
		// one past the ceiling, to tell "at the limit" from "over it"
		limit = MapQueryLegacyNodesLimit + 1
	}

	nodes, err := db.findNodesInRect(ctx, opts.Bounds, limit)
	if err != nil {
		return nil, err
	}
	if opts.LegacyCap && len(nodes) > MapQueryLegacyNodesLimit {
		return nil, ErrMapQueryTooBig.New("more than %d nodes in bounds", MapQueryLegacyNodesLimit)
	}
	if len(nodes) == 0 {
		return nil, nil
	}

	nodeIDs := make([]TypedID, len(nodes))
	for i := range nodes {
		nodeIDs[i] = nodes[i].TypedID
	}

	// The parent and member lookups are independent reads pinned to the
	// same snapshot, so they can run concurrently.
	var ways, nodeRelations []Element
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		wayType := TypeWay
		ways, err = db.GetParents(groupCtx, GetParents{
			MemberIDs:  nodeIDs,
			ParentType: &wayType,
			SequenceID: sequenceID,
		})
		return err
	})
	group.Go(func() error {
		var err error
		relationType := TypeRelation
		nodeRelations, err = db.GetParents(groupCtx, GetParents{
			MemberIDs:  nodeIDs,
			ParentType: &relationType,
			SequenceID: sequenceID,
		})
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	known := make(map[TypedID]bool, len(nodes))
	for _, id := range nodeIDs {
		known[id] = true
	}
	var wayIDs, missingMembers []TypedID
	for i := range ways {
		wayIDs = append(wayIDs, ways[i].TypedID)
		for _, member := range ways[i].Members {
			if !known[member] {
				known[member] = true
				missingMembers = append(missingMembers, member)
			}
		}
	}

	var wayRelations, memberNodes []Element
	group, groupCtx = errgroup.WithContext(ctx)
	group.Go(func() error {
		if len(wayIDs) == 0 {
			return nil
		}
		var err error
		relationType := TypeRelation
		wayRelations, err = db.GetParents(groupCtx, GetParents{
			MemberIDs:  wayIDs,
			ParentType: &relationType,
			SequenceID: sequenceID,
		})
		return err
	})
	group.Go(func() error {
		if len(missingMembers) == 0 {
			return nil
		}
		var err error
		memberNodes, err = db.GetCurrentElements(groupCtx, GetCurrentElements{
			TypedIDs:   missingMembers,
			SequenceID: sequenceID,
		})
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	result := make([]Element, 0, len(nodes)+len(ways)+len(wayRelations)+len(nodeRelations)+len(memberNodes))
	emitted := map[TypedID]bool{}
	emit := func(elements []Element) {
		for i := range elements {
			if !emitted[elements[i].TypedID] {
				emitted[elements[i].TypedID] = true
				result = append(result, elements[i])
			}
		}
	}
	emit(nodes)
	emit(ways)
	emit(wayRelations)
	emit(nodeRelations)
	for i := range memberNodes {
		if memberNodes[i].Visible && !emitted[memberNodes[i].TypedID] {
			emitted[memberNodes[i].TypedID] = true
			result = append(result, memberNodes[i])
		}
	}
	return result, nil
}

// findNodesInRect returns current visible nodes inside the rectangle.
func (db *DB) findNodesInRect(ctx context.Context, bounds Rect, limit int) (_ []Element, err error) {
	defer mon.Task()(&ctx)(&err)

	query := `
		SELECT ` + elementColumns + ` FROM elements
		WHERE latest AND visible
		AND lon BETWEEN $1 AND $2
		AND lat BETWEEN $3 AND $4
		ORDER BY typed_id`
	args := []interface{}{bounds.MinLon, bounds.MaxLon, bounds.MinLat, bounds.MaxLat}
	if limit > 0 {
		query += ` LIMIT $5`
		args = append(args, limit)
	}
	return scanElements(db.db.QueryContext(ctx, query, args...))
}
