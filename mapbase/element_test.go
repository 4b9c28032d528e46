// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"osmbase.io/osmbase/mapbase"
)

func validNode() mapbase.Element {
	return mapbase.Element{
		TypedID:     mapbase.MustTypedID(mapbase.TypeNode, 1),
		Version:     1,
		ChangesetID: 1,
		Visible:     true,
		Point:       &mapbase.Point{Lon: 10, Lat: 50},
	}
}

func validWay() mapbase.Element {
	return mapbase.Element{
		TypedID:     mapbase.MustTypedID(mapbase.TypeWay, 1),
		Version:     1,
		ChangesetID: 1,
		Visible:     true,
		Members: mapbase.TypedIDs{
			mapbase.MustTypedID(mapbase.TypeNode, 1),
			mapbase.MustTypedID(mapbase.TypeNode, 2),
		},
	}
}

func validRelation() mapbase.Element {
	return mapbase.Element{
		TypedID:     mapbase.MustTypedID(mapbase.TypeRelation, 1),
		Version:     1,
		ChangesetID: 1,
		Visible:     true,
		Members: mapbase.TypedIDs{
			mapbase.MustTypedID(mapbase.TypeNode, 1),
			mapbase.MustTypedID(mapbase.TypeWay, 1),
		},
		Roles: mapbase.Roles{"stop", "route"},
	}
}

func TestElementValidate(t *testing.T) {
	node, way, relation := validNode(), validWay(), validRelation()
	require.NoError(t, node.Validate())
	require.NoError(t, way.Validate())
	require.NoError(t, relation.Validate())

	check := func(mutate func(e *mapbase.Element), base mapbase.Element) {
		t.Helper()
		mutate(&base)
		err := base.Validate()
		require.Error(t, err)
		require.True(t, mapbase.ErrInvalidRequest.Has(err), err.Error())
	}

	check(func(e *mapbase.Element) { e.Version = 0 }, validNode())
	check(func(e *mapbase.Element) { e.ChangesetID = 0 }, validNode())

	// nodes
	check(func(e *mapbase.Element) { e.Point = nil }, validNode())
	check(func(e *mapbase.Element) { e.Point = &mapbase.Point{Lon: 181, Lat: 0} }, validNode())
	check(func(e *mapbase.Element) { e.Point = &mapbase.Point{Lon: 0, Lat: -91} }, validNode())
	check(func(e *mapbase.Element) { e.Members = mapbase.TypedIDs{mapbase.MustTypedID(mapbase.TypeNode, 2)} }, validNode())

	// ways
	check(func(e *mapbase.Element) { e.Members = e.Members[:1] }, validWay())
	check(func(e *mapbase.Element) { e.Point = &mapbase.Point{} }, validWay())
	check(func(e *mapbase.Element) { e.Roles = mapbase.Roles{"a", "b"} }, validWay())
	check(func(e *mapbase.Element) {
		e.Members = append(e.Members, mapbase.MustTypedID(mapbase.TypeWay, 2))
	}, validWay())
	check(func(e *mapbase.Element) {
		e.Members = make(mapbase.TypedIDs, mapbase.WayMaxMembers+1)
		for i := range e.Members {
			e.Members[i] = mapbase.MustTypedID(mapbase.TypeNode, mapbase.ElementID(i+1))
		}
	}, validWay())

	// relations
	check(func(e *mapbase.Element) { e.Roles = e.Roles[:1] }, validRelation())
	check(func(e *mapbase.Element) { e.Roles[0] = strings.Repeat("x", mapbase.RoleMaxLength+1) }, validRelation())
	check(func(e *mapbase.Element) { e.Point = &mapbase.Point{} }, validRelation())

	// relations may be empty
	empty := validRelation()
	empty.Members, empty.Roles = mapbase.TypedIDs{}, mapbase.Roles{}
	require.NoError(t, empty.Validate())
}

func TestElementValidate_Tombstone(t *testing.T) {
	tombstone := mapbase.Element{
		TypedID:     mapbase.MustTypedID(mapbase.TypeNode, 1),
		Version:     2,
		ChangesetID: 1,
		Visible:     false,
	}
	require.NoError(t, tombstone.Validate())

	withTags := tombstone
	withTags.Tags = mapbase.Tags{"highway": "bus_stop"}
	require.Error(t, withTags.Validate())

	withPoint := tombstone
	withPoint.Point = &mapbase.Point{Lon: 1, Lat: 2}
	require.Error(t, withPoint.Validate())

	withMembers := tombstone
	withMembers.Members = mapbase.TypedIDs{mapbase.MustTypedID(mapbase.TypeNode, 2)}
	require.Error(t, withMembers.Validate())
}

func TestTagsValidate(t *testing.T) {
	require.NoError(t, mapbase.Tags(nil).Validate())
	require.NoError(t, mapbase.Tags{"highway": "residential"}.Validate())

	require.Error(t, mapbase.Tags{"": "x"}.Validate())
	require.Error(t, mapbase.Tags{strings.Repeat("k", mapbase.TagMaxKeyLength+1): "x"}.Validate())
	require.Error(t, mapbase.Tags{"k": strings.Repeat("v", mapbase.TagMaxValueLength+1)}.Validate())

	tooMany := mapbase.Tags{}
	for i := 0; i <= mapbase.TagsMaxCount; i++ {
		tooMany["key"+strconv.Itoa(i)] = "v"
	}
	require.Error(t, tooMany.Validate())
}

func TestPointRound(t *testing.T) {
	p := mapbase.Point{Lon: 10.123456789, Lat: -50.987654321}.Round()
	require.Equal(t, mapbase.Point{Lon: 10.1234568, Lat: -50.9876543}, p)
}

func TestTypedIDsValueScan(t *testing.T) {
	ids := mapbase.TypedIDs{
		mapbase.MustTypedID(mapbase.TypeNode, 1),
		mapbase.MustTypedID(mapbase.TypeWay, 2),
		mapbase.MustTypedID(mapbase.TypeRelation, 3),
	}
	value, err := ids.Value()
	require.NoError(t, err)

	var decoded mapbase.TypedIDs
	require.NoError(t, decoded.Scan(value))
	require.Equal(t, ids, decoded)

	// placeholders never reach the database
	_, err = mapbase.TypedIDs{mapbase.MustTypedID(mapbase.TypeNode, -1)}.Value()
	require.Error(t, err)

	// nil stays nil, empty stays empty
	value, err = mapbase.TypedIDs(nil).Value()
	require.NoError(t, err)
	require.Nil(t, value)
	require.NoError(t, decoded.Scan("{}"))
	require.Equal(t, mapbase.TypedIDs{}, decoded)
}
