// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"osmbase.io/osmbase/mapbase"
)

func TestTypedID(t *testing.T) {
	for _, typ := range []mapbase.ElementType{mapbase.TypeNode, mapbase.TypeWay, mapbase.TypeRelation} {
		for _, id := range []mapbase.ElementID{1, 2, 1000, mapbase.MaxElementID, -1, -7, -mapbase.MaxElementID} {
			packed, err := mapbase.NewTypedID(typ, id)
			require.NoError(t, err)
			require.Equal(t, typ, packed.Type())
			require.Equal(t, id, packed.ID())
			require.Equal(t, id < 0, packed.IsPlaceholder())
		}
	}

	_, err := mapbase.NewTypedID(mapbase.TypeNode, mapbase.MaxElementID+1)
	require.Error(t, err)
	_, err = mapbase.NewTypedID(mapbase.TypeWay, -(mapbase.MaxElementID + 1))
	require.Error(t, err)
}

func TestTypedIDRanges(t *testing.T) {
	require.Equal(t, mapbase.NodeRangeMax, mapbase.MustTypedID(mapbase.TypeNode, mapbase.MaxElementID))
	require.Equal(t, mapbase.WayRangeMin, mapbase.MustTypedID(mapbase.TypeWay, 0))
	require.Equal(t, mapbase.WayRangeMax, mapbase.MustTypedID(mapbase.TypeWay, mapbase.MaxElementID))
	require.Equal(t, mapbase.RelationRangeMin, mapbase.MustTypedID(mapbase.TypeRelation, 0))
	require.Equal(t, mapbase.RelationRangeMax, mapbase.MustTypedID(mapbase.TypeRelation, mapbase.MaxElementID))

	// id ordering within a type maps onto key ordering
	require.True(t, mapbase.MustTypedID(mapbase.TypeWay, 1).Less(mapbase.MustTypedID(mapbase.TypeWay, 2)))
	// type ordering separates the ranges
	require.True(t, mapbase.MustTypedID(mapbase.TypeNode, mapbase.MaxElementID).Less(mapbase.MustTypedID(mapbase.TypeWay, 1)))
	require.True(t, mapbase.MustTypedID(mapbase.TypeWay, mapbase.MaxElementID).Less(mapbase.MustTypedID(mapbase.TypeRelation, 1)))
}

func TestTypedIDString(t *testing.T) {
	require.Equal(t, "n42", mapbase.MustTypedID(mapbase.TypeNode, 42).String())
	require.Equal(t, "w7", mapbase.MustTypedID(mapbase.TypeWay, 7).String())
	require.Equal(t, "r-3", mapbase.MustTypedID(mapbase.TypeRelation, -3).String())
}

func TestParseElementType(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want mapbase.ElementType
	}{
		{"node", mapbase.TypeNode},
		{"n", mapbase.TypeNode},
		{"way", mapbase.TypeWay},
		{"w", mapbase.TypeWay},
		{"relation", mapbase.TypeRelation},
		{"r", mapbase.TypeRelation},
	} {
		typ, err := mapbase.ParseElementType(tc.in)
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, typ, tc.in)
	}

	_, err := mapbase.ParseElementType("")
	require.True(t, mapbase.ErrInvalidRequest.Has(err))
	_, err = mapbase.ParseElementType("area")
	require.True(t, mapbase.ErrInvalidRequest.Has(err))
}

func TestParseRef(t *testing.T) {
	ref, err := mapbase.ParseRef("n123")
	require.NoError(t, err)
	require.Equal(t, mapbase.MustTypedID(mapbase.TypeNode, 123), ref)

	ref, err = mapbase.ParseRef("w4")
	require.NoError(t, err)
	require.Equal(t, mapbase.MustTypedID(mapbase.TypeWay, 4), ref)

	ref, err = mapbase.ParseRef("r-7")
	require.NoError(t, err)
	require.Equal(t, mapbase.MustTypedID(mapbase.TypeRelation, -7), ref)

	for _, invalid := range []string{"", "x1", "n", "n0", "nabc"} {
		_, err := mapbase.ParseRef(invalid)
		require.Error(t, err, invalid)
	}
}

func TestParseMixedRef(t *testing.T) {
	ref, err := mapbase.ParseMixedRef(mapbase.TypeNode, "123")
	require.NoError(t, err)
	require.Equal(t, mapbase.MixedRef{TypedID: mapbase.MustTypedID(mapbase.TypeNode, 123)}, ref)

	ref, err = mapbase.ParseMixedRef(mapbase.TypeWay, "123v7")
	require.NoError(t, err)
	require.Equal(t, mapbase.MixedRef{TypedID: mapbase.MustTypedID(mapbase.TypeWay, 123), Version: 7}, ref)

	for _, invalid := range []string{"", "0", "abc", "1v0", "1v-2", "1v"} {
		_, err := mapbase.ParseMixedRef(mapbase.TypeNode, invalid)
		require.Error(t, err, invalid)
	}
}

func TestUserRoles(t *testing.T) {
	plain := mapbase.User{ID: 1}
	require.False(t, plain.IsModerator())
	require.EqualValues(t, mapbase.ChangesetMaxSize, plain.ChangesetSizeCap())

	moderator := mapbase.User{ID: 2, Roles: []mapbase.Role{mapbase.RoleModerator}}
	require.True(t, moderator.IsModerator())
	require.EqualValues(t, mapbase.ChangesetModeratorMaxSize, moderator.ChangesetSizeCap())

	admin := mapbase.User{ID: 3, Roles: []mapbase.Role{mapbase.RoleAdministrator}}
	require.True(t, admin.IsModerator())
	require.EqualValues(t, mapbase.ChangesetModeratorMaxSize, admin.ChangesetSizeCap())
}
