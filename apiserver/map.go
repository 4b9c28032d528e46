// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package apiserver

import (
	"net/http"

	"osmbase.io/osmbase/mapbase"
)

// handleMap serves the bounding box query.
func (s *Server) handleMap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	bbox := r.URL.Query().Get("bbox")
	if bbox == "" {
		s.errorResponse(w, mapbase.ErrInvalidRequest.New("missing bbox parameter"))
		return
	}
	bounds, err := parseBounds(bbox)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if bounds.Area() > mapbase.MapQueryMaxArea {
		s.errorResponse(w, mapbase.ErrMapQueryTooBig.New(
			"requested area %v exceeds maximum %v square degrees", bounds.Area(), mapbase.MapQueryMaxArea))
		return
	}

	elements, err := s.DB.FindElementsInBounds(ctx, mapbase.FindElementsInBounds{
		Bounds:    bounds,
		LegacyCap: true,
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.writeElements(w, elements)
}
