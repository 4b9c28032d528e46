// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbasetest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/common/testcontext"
	"storj.io/common/testrand"

	"osmbase.io/osmbase/mapbase"
)

// DefaultUser is the user most tests edit as.
var DefaultUser = mapbase.User{ID: 1}

// Moderator is a user carrying the moderator role.
var Moderator = mapbase.User{ID: 2, Roles: []mapbase.Role{mapbase.RoleModerator}}

// RandPoint returns a random coordinate away from the poles and the
// antimeridian, so small test rectangles around it stay valid.
func RandPoint() mapbase.Point {
	return mapbase.Point{
		Lon: float64(testrand.Intn(340)) - 170,
		Lat: float64(testrand.Intn(160)) - 80,
	}.Round()
}

// CreateChangeset opens a changeset for the user.
func CreateChangeset(ctx *testcontext.Context, t *testing.T, db *mapbase.DB, user mapbase.User) int64 {
	id, err := db.CreateChangeset(ctx, mapbase.CreateChangeset{
		User: user,
		Tags: mapbase.Tags{"comment": "test edit"},
	})
	require.NoError(t, err)
	return id
}

// CreateNode commits a single node through the edit engine and returns its
// assigned id.
func CreateNode(ctx *testcontext.Context, t *testing.T, db *mapbase.DB, user mapbase.User, changesetID int64, point mapbase.Point) mapbase.TypedID {
	result, err := db.UploadDiff(ctx, mapbase.UploadDiff{
		User:        user,
		ChangesetID: changesetID,
		Actions: []mapbase.DiffAction{
			CreateNodeAction(changesetID, -1, point),
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Entries, 1)
	return result.Entries[0].NewTypedID
}

// CreateNodeAction builds a create action for a node under a placeholder id.
func CreateNodeAction(changesetID int64, placeholder mapbase.ElementID, point mapbase.Point) mapbase.DiffAction {
	return mapbase.DiffAction{
		Kind: mapbase.ActionCreate,
		Element: mapbase.Element{
			TypedID:     mapbase.MustTypedID(mapbase.TypeNode, placeholder),
			Version:     1,
			ChangesetID: changesetID,
			Visible:     true,
			Point:       &point,
		},
	}
}

// CreateWayAction builds a create action for a way under a placeholder id.
func CreateWayAction(changesetID int64, placeholder mapbase.ElementID, members ...mapbase.TypedID) mapbase.DiffAction {
	return mapbase.DiffAction{
		Kind: mapbase.ActionCreate,
		Element: mapbase.Element{
			TypedID:     mapbase.MustTypedID(mapbase.TypeWay, placeholder),
			Version:     1,
			ChangesetID: changesetID,
			Visible:     true,
			Members:     members,
		},
	}
}

// CreateRelationAction builds a create action for a relation under a
// placeholder id, with empty member roles.
func CreateRelationAction(changesetID int64, placeholder mapbase.ElementID, members ...mapbase.TypedID) mapbase.DiffAction {
	roles := make(mapbase.Roles, len(members))
	return mapbase.DiffAction{
		Kind: mapbase.ActionCreate,
		Element: mapbase.Element{
			TypedID:     mapbase.MustTypedID(mapbase.TypeRelation, placeholder),
			Version:     1,
			ChangesetID: changesetID,
			Visible:     true,
			Members:     members,
			Roles:       roles,
		},
	}
}

// DeleteAction builds a delete action for the element's next version.
func DeleteAction(changesetID int64, id mapbase.TypedID, version int64, ifUnused bool) mapbase.DiffAction {
	return mapbase.DiffAction{
		Kind:     mapbase.ActionDelete,
		IfUnused: ifUnused,
		Element: mapbase.Element{
			TypedID:     id,
			Version:     version,
			ChangesetID: changesetID,
		},
	}
}
