// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package apiserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"osmbase.io/osmbase/mapbase"
	"osmbase.io/osmbase/osmchange"
)

func (s *Server) writeElements(w http.ResponseWriter, elements []mapbase.Element) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := osmchange.EncodeOSM(w, elements); err != nil {
		s.Logger.Error("response encoding failed", zap.Error(err))
	}
}

func (s *Server) handleElementGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	typedID, err := pathTypedID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	element, err := s.DB.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: typedID})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.writeElements(w, []mapbase.Element{element})
}

func (s *Server) handleElementVersion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	typedID, err := pathTypedID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	var version int64
	if _, err := fmt.Sscanf(mux.Vars(r)["version"], "%d", &version); err != nil || version <= 0 {
		s.errorResponse(w, mapbase.ErrInvalidRequest.New("invalid version"))
		return
	}

	elements, err := s.DB.GetElementsByVersionedRefs(ctx, mapbase.GetElementsByVersionedRefs{
		Refs: []mapbase.VersionedRef{{TypedID: typedID, Version: version}},
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if len(elements) == 0 {
		s.errorResponse(w, mapbase.ErrElementNotFound.New("%v version %d", typedID, version))
		return
	}
	s.writeElements(w, elements)
}

func (s *Server) handleElementHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	typedID, err := pathTypedID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	elements, err := s.DB.GetElementVersions(ctx, mapbase.GetElementVersions{TypedID: typedID})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if len(elements) == 0 {
		s.errorResponse(w, mapbase.ErrElementNotFound.New("%v", typedID))
		return
	}
	s.writeElements(w, elements)
}

// handleElementsMulti serves the bulk fetch endpoints: a comma separated
// list of "id" or "idvN" refs in the parameter named after the type.
func (s *Server) handleElementsMulti(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	param := strings.TrimPrefix(r.URL.Path[strings.LastIndexByte(r.URL.Path, '/')+1:], "/")
	typ, err := mapbase.ParseElementType(strings.TrimSuffix(param, "s"))
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	raw := r.URL.Query().Get(param)
	if raw == "" {
		s.errorResponse(w, mapbase.ErrInvalidRequest.New("missing %s parameter", param))
		return
	}

	order, err := parseRefList(typ, raw)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	var current []mapbase.TypedID
	var pinned []mapbase.VersionedRef
	for _, ref := range order {
		if ref.Version == 0 {
			current = append(current, ref.TypedID)
		} else {
			pinned = append(pinned, mapbase.VersionedRef{TypedID: ref.TypedID, Version: ref.Version})
		}
	}

	found := map[mapbase.MixedRef]mapbase.Element{}
	if len(current) > 0 {
		elements, err := s.DB.GetCurrentElements(ctx, mapbase.GetCurrentElements{TypedIDs: current})
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		for _, element := range elements {
			found[mapbase.MixedRef{TypedID: element.TypedID}] = element
		}
	}
	if len(pinned) > 0 {
		elements, err := s.DB.GetElementsByVersionedRefs(ctx, mapbase.GetElementsByVersionedRefs{Refs: pinned})
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		for _, element := range elements {
			found[mapbase.MixedRef{TypedID: element.TypedID, Version: element.Version}] = element
		}
	}

	result := make([]mapbase.Element, 0, len(order))
	for _, ref := range order {
		element, ok := found[ref]
		if !ok {
			s.errorResponse(w, mapbase.ErrElementNotFound.New("%v", ref.TypedID))
			return
		}
		result = append(result, element)
	}
	s.writeElements(w, result)
}

// parseRefList parses a comma separated list of "id" or "idvN" refs,
// dropping repeats while keeping first-occurrence order.
func parseRefList(typ mapbase.ElementType, raw string) ([]mapbase.MixedRef, error) {
	var refs []mapbase.MixedRef
	seen := map[mapbase.MixedRef]bool{}
	for _, part := range strings.Split(raw, ",") {
		ref, err := mapbase.ParseMixedRef(typ, strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		if seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}
	return refs, nil
}

func (s *Server) handleElementWays(w http.ResponseWriter, r *http.Request) {
	s.serveParents(w, r, mapbase.TypeNode, mapbase.TypeWay)
}

func (s *Server) handleElementRelations(w http.ResponseWriter, r *http.Request) {
	typ, err := pathType(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.serveParents(w, r, typ, mapbase.TypeRelation)
}

func (s *Server) serveParents(w http.ResponseWriter, r *http.Request, childType, parentType mapbase.ElementType) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	typedID, err := mapbase.NewTypedID(childType, mapbase.ElementID(id))
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	parents, err := s.DB.GetParents(ctx, mapbase.GetParents{
		MemberIDs:  []mapbase.TypedID{typedID},
		ParentType: &parentType,
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.writeElements(w, parents)
}

// handleElementFull serves a way or relation together with its member
// elements, including the nodes of member ways.
func (s *Server) handleElementFull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	typedID, err := pathTypedID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	element, err := s.DB.GetElementLatest(ctx, mapbase.GetElementLatest{TypedID: typedID})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	members, err := s.DB.GetCurrentElements(ctx, mapbase.GetCurrentElements{TypedIDs: element.Members})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	var wayNodes []mapbase.TypedID
	seen := map[mapbase.TypedID]bool{typedID: true}
	for _, member := range element.Members {
		seen[member] = true
	}
	for i := range members {
		if members[i].TypedID.Type() != mapbase.TypeWay {
			continue
		}
		for _, node := range members[i].Members {
			if !seen[node] {
				seen[node] = true
				wayNodes = append(wayNodes, node)
			}
		}
	}
	nodes, err := s.DB.GetCurrentElements(ctx, mapbase.GetCurrentElements{TypedIDs: wayNodes})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	result := make([]mapbase.Element, 0, 1+len(members)+len(nodes))
	for _, member := range append(nodes, members...) {
		if member.Visible {
			result = append(result, member)
		}
	}
	result = append(result, element)
	s.writeElements(w, result)
}

// handleElementCreate serves the single-element create endpoint: a diff of
// one create action. Responds with the assigned id.
func (s *Server) handleElementCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := s.authenticate(ctx, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	typ, err := pathType(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	payload, err := osmchange.DecodeElement(r.Body, typ)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	payload.TypedID = mapbase.MustTypedID(typ, -1)
	payload.Version = 1
	payload.Visible = true

	result, err := s.DB.UploadDiff(ctx, mapbase.UploadDiff{
		User:        user,
		ChangesetID: payload.ChangesetID,
		Actions:     []mapbase.DiffAction{{Kind: mapbase.ActionCreate, Element: payload}},
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.writePlainNumber(w, int64(result.Entries[0].NewTypedID.ID()))
}

// handleElementUpdate serves the single-element modify endpoint. Responds
// with the new version.
func (s *Server) handleElementUpdate(w http.ResponseWriter, r *http.Request) {
	s.serveSingleElementWrite(w, r, mapbase.ActionModify)
}

// handleElementDelete serves the single-element delete endpoint. Responds
// with the new version.
func (s *Server) handleElementDelete(w http.ResponseWriter, r *http.Request) {
	s.serveSingleElementWrite(w, r, mapbase.ActionDelete)
}

func (s *Server) serveSingleElementWrite(w http.ResponseWriter, r *http.Request, kind mapbase.ActionKind) {
	ctx := r.Context()

	user, err := s.authenticate(ctx, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	typedID, err := pathTypedID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	payload, err := osmchange.DecodeElement(r.Body, typedID.Type())
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if payload.TypedID != typedID {
		s.errorResponse(w, mapbase.ErrInvalidRequest.New("payload id %v does not match path %v", payload.TypedID, typedID))
		return
	}

	newVersion := payload.Version
	_, err = s.DB.UploadDiff(ctx, mapbase.UploadDiff{
		User:        user,
		ChangesetID: payload.ChangesetID,
		Actions:     []mapbase.DiffAction{{Kind: kind, Element: payload}},
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.writePlainNumber(w, newVersion)
}

func (s *Server) writePlainNumber(w http.ResponseWriter, n int64) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "%d", n)
}
