// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import "math"

// Rect is an axis-aligned bounding rectangle in degrees.
type Rect struct {
	MinLon float64
	MinLat float64
	MaxLon float64
	MaxLat float64
}

// RectAround returns a zero-size rectangle at the given point.
func RectAround(p Point) Rect {
	return Rect{MinLon: p.Lon, MinLat: p.Lat, MaxLon: p.Lon, MaxLat: p.Lat}
}

// Extend grows the rectangle to include the point.
func (r Rect) Extend(p Point) Rect {
	return Rect{
		MinLon: math.Min(r.MinLon, p.Lon),
		MinLat: math.Min(r.MinLat, p.Lat),
		MaxLon: math.Max(r.MaxLon, p.Lon),
		MaxLat: math.Max(r.MaxLat, p.Lat),
	}
}

// Union returns the smallest rectangle containing both rectangles.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		MinLon: math.Min(r.MinLon, o.MinLon),
		MinLat: math.Min(r.MinLat, o.MinLat),
		MaxLon: math.Max(r.MaxLon, o.MaxLon),
		MaxLat: math.Max(r.MaxLat, o.MaxLat),
	}
}

// Contains reports whether the point lies inside the rectangle.
func (r Rect) Contains(p Point) bool {
	return p.Lon >= r.MinLon && p.Lon <= r.MaxLon &&
		p.Lat >= r.MinLat && p.Lat <= r.MaxLat
}

// Intersects reports whether the rectangles overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.MinLon <= o.MaxLon && o.MinLon <= r.MaxLon &&
		r.MinLat <= o.MaxLat && o.MinLat <= r.MaxLat
}

// Area returns the rectangle area in square degrees.
func (r Rect) Area() float64 {
	return (r.MaxLon - r.MinLon) * (r.MaxLat - r.MinLat)
}

// boundsBufferMin keeps nearby edits merged into one rectangle instead of
// fragmenting a changeset into many tiny boxes.
const boundsBufferMin = 0.5

// Buffered returns the rectangle expanded per dimension by
// max(boundsBufferMin, half the rectangle extent).
func (r Rect) Buffered() Rect {
	bufLon := math.Max(boundsBufferMin, (r.MaxLon-r.MinLon)/2)
	bufLat := math.Max(boundsBufferMin, (r.MaxLat-r.MinLat)/2)
	return Rect{
		MinLon: r.MinLon - bufLon,
		MinLat: r.MinLat - bufLat,
		MaxLon: r.MaxLon + bufLon,
		MaxLat: r.MaxLat + bufLat,
	}
}

// gap returns the Chebyshev gap between two rectangles, 0 when they overlap.
func gap(r, o Rect) float64 {
	dLon := math.Max(math.Max(o.MinLon-r.MaxLon, r.MinLon-o.MaxLon), 0)
	dLat := math.Max(math.Max(o.MinLat-r.MaxLat, r.MinLat-o.MaxLat), 0)
	return math.Max(dLon, dLat)
}

// ExtendBounds folds the given points into the accumulated changeset
// rectangles. At most ChangesetBoundsLimit rectangles survive: a point
// inside a buffered rectangle extends it, a far point opens a new
// rectangle, and when the limit would be exceeded the two nearest
// rectangles merge. Overlapping buffered rectangles collapse at the end.
func ExtendBounds(bounds []Rect, points []Point) []Rect {
	result := append([]Rect(nil), bounds...)

	for _, p := range points {
		extended := false
		for i := range result {
			if result[i].Buffered().Contains(p) {
				result[i] = result[i].Extend(p)
				extended = true
				break
			}
		}
		if extended {
			continue
		}

		result = append(result, RectAround(p))
		if len(result) > ChangesetBoundsLimit {
			result = mergeNearest(result)
		}
	}

	return mergeOverlapping(result)
}

// mergeNearest merges the pair of rectangles with the smallest gap.
func mergeNearest(bounds []Rect) []Rect {
	bestI, bestJ := 0, 1
	bestGap := math.Inf(1)
	for i := 0; i < len(bounds); i++ {
		for j := i + 1; j < len(bounds); j++ {
			if d := gap(bounds[i], bounds[j]); d < bestGap {
				bestGap = d
				bestI, bestJ = i, j
			}
		}
	}
	bounds[bestI] = bounds[bestI].Union(bounds[bestJ])
	return append(bounds[:bestJ], bounds[bestJ+1:]...)
}

// mergeOverlapping repeatedly merges rectangles whose buffered extents
// intersect, until a fixed point.
func mergeOverlapping(bounds []Rect) []Rect {
	for {
		merged := false
	scan:
		for i := 0; i < len(bounds); i++ {
			for j := i + 1; j < len(bounds); j++ {
				if bounds[i].Buffered().Intersects(bounds[j].Buffered()) {
					bounds[i] = bounds[i].Union(bounds[j])
					bounds = append(bounds[:j], bounds[j+1:]...)
					merged = true
					break scan
				}
			}
		}
		if !merged {
			return bounds
		}
	}
}
