// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"time"

	"storj.io/common/memory"
)

// Limits of the 0.6 editing API. These are wire-compatibility constants, not
// tunables.
const (
	// TagMaxKeyLength is the maximum length of a tag key in characters.
	TagMaxKeyLength = 255
	// TagMaxValueLength is the maximum length of a tag value in characters.
	TagMaxValueLength = 255
	// TagsMaxCount is the maximum number of tags per element or changeset.
	TagsMaxCount = 255
	// TagsMaxSize is the maximum aggregate size of a tag set.
	TagsMaxSize = 64 * memory.KiB

	// WayMaxMembers is the maximum number of nodes in a way.
	WayMaxMembers = 2000
	// RelationMaxMembers is the maximum number of members in a relation.
	RelationMaxMembers = 32000
	// RoleMaxLength is the maximum length of a relation member role.
	RoleMaxLength = 255

	// ChangesetMaxSize is the element operation cap for ordinary users.
	ChangesetMaxSize = 10000
	// ChangesetModeratorMaxSize is the cap for moderators and administrators.
	ChangesetModeratorMaxSize = 20000
	// ChangesetCommentMaxLength is the maximum comment body length.
	ChangesetCommentMaxLength = 5000
	// ChangesetBoundsLimit is the maximum number of accumulated bounding
	// rectangles per changeset.
	ChangesetBoundsLimit = 10

	// ChangesetQueryDefaultLimit is the default page size for changeset queries.
	ChangesetQueryDefaultLimit = 100
	// ChangesetQueryMaxLimit is the maximum page size for changeset queries.
	ChangesetQueryMaxLimit = 100

	// MapQueryMaxArea is the maximum /map bbox area in square degrees.
	MapQueryMaxArea = 0.25
	// MapQueryLegacyNodesLimit is the legacy /map node count ceiling.
	MapQueryLegacyNodesLimit = 50000

	// CoordinateDecimals is the stored coordinate precision.
	CoordinateDecimals = 7

	// DefaultRetryBudget is the wall-clock budget of the optimistic retry loop.
	DefaultRetryBudget = 30 * time.Second
)
