// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"osmbase.io/osmbase/mapbase"
)

func TestExtendBounds_NearbyPointsMerge(t *testing.T) {
	bounds := mapbase.ExtendBounds(nil, []mapbase.Point{
		{Lon: 10, Lat: 50},
		{Lon: 10.1, Lat: 50.1},
		{Lon: 10.3, Lat: 49.9},
	})
	require.Len(t, bounds, 1)
	require.Equal(t, mapbase.Rect{MinLon: 10, MinLat: 49.9, MaxLon: 10.3, MaxLat: 50.1}, bounds[0])
}

func TestExtendBounds_FarPointsSeparate(t *testing.T) {
	bounds := mapbase.ExtendBounds(nil, []mapbase.Point{
		{Lon: 10, Lat: 50},
		{Lon: 30, Lat: -20},
	})
	require.Len(t, bounds, 2)
	require.True(t, bounds[0].Contains(mapbase.Point{Lon: 10, Lat: 50}))
	require.True(t, bounds[1].Contains(mapbase.Point{Lon: 30, Lat: -20}))
}

func TestExtendBounds_RectangleLimit(t *testing.T) {
	// Far-apart points, more than the rectangle cap.
	var points []mapbase.Point
	for i := 0; i < mapbase.ChangesetBoundsLimit+5; i++ {
		points = append(points, mapbase.Point{Lon: float64(i*10) - 80, Lat: float64(i*5) - 40})
	}
	bounds := mapbase.ExtendBounds(nil, points)
	require.NotEmpty(t, bounds)
	require.LessOrEqual(t, len(bounds), mapbase.ChangesetBoundsLimit)

	for _, p := range points {
		covered := false
		for _, r := range bounds {
			if r.Contains(p) {
				covered = true
				break
			}
		}
		require.True(t, covered, "point %v not covered", p)
	}
}

func TestExtendBounds_ExistingRectanglesGrow(t *testing.T) {
	initial := []mapbase.Rect{{MinLon: 10, MinLat: 50, MaxLon: 10.2, MaxLat: 50.2}}
	bounds := mapbase.ExtendBounds(initial, []mapbase.Point{{Lon: 10.4, Lat: 50.4}})
	require.Len(t, bounds, 1)
	require.Equal(t, mapbase.Rect{MinLon: 10, MinLat: 50, MaxLon: 10.4, MaxLat: 50.4}, bounds[0])
	// input slice stays untouched
	require.Equal(t, mapbase.Rect{MinLon: 10, MinLat: 50, MaxLon: 10.2, MaxLat: 50.2}, initial[0])
}

func TestExtendBounds_NoPoints(t *testing.T) {
	initial := []mapbase.Rect{
		{MinLon: 10, MinLat: 50, MaxLon: 10.2, MaxLat: 50.2},
		{MinLon: 30, MinLat: -20, MaxLon: 30.2, MaxLat: -19.8},
	}
	bounds := mapbase.ExtendBounds(initial, nil)
	require.Equal(t, initial, bounds)
}

func TestRectHelpers(t *testing.T) {
	r := mapbase.Rect{MinLon: 0, MinLat: 0, MaxLon: 2, MaxLat: 1}
	require.InDelta(t, 2.0, r.Area(), 1e-9)
	require.True(t, r.Contains(mapbase.Point{Lon: 1, Lat: 0.5}))
	require.False(t, r.Contains(mapbase.Point{Lon: 3, Lat: 0.5}))

	require.True(t, r.Intersects(mapbase.Rect{MinLon: 1, MinLat: 0.5, MaxLon: 5, MaxLat: 5}))
	require.False(t, r.Intersects(mapbase.Rect{MinLon: 3, MinLat: 3, MaxLon: 5, MaxLat: 5}))

	union := r.Union(mapbase.Rect{MinLon: -1, MinLat: 0.5, MaxLon: 1, MaxLat: 3})
	require.Equal(t, mapbase.Rect{MinLon: -1, MinLat: 0, MaxLon: 2, MaxLat: 3}, union)

	extended := r.Extend(mapbase.Point{Lon: 4, Lat: -1})
	require.Equal(t, mapbase.Rect{MinLon: 0, MinLat: -1, MaxLon: 4, MaxLat: 1}, extended)
}
