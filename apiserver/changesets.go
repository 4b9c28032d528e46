// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package apiserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"osmbase.io/osmbase/mapbase"
	"osmbase.io/osmbase/osmchange"
)

func (s *Server) writeChangesets(w http.ResponseWriter, changesets []mapbase.Changeset, comments map[int64][]mapbase.ChangesetComment) {
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := osmchange.EncodeChangesets(w, changesets, comments); err != nil {
		s.Logger.Error("response encoding failed", zap.Error(err))
	}
}

func (s *Server) handleChangesetCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := s.authenticate(ctx, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	tags, err := osmchange.DecodeChangesetTags(r.Body)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	id, err := s.DB.CreateChangeset(ctx, mapbase.CreateChangeset{User: user, Tags: tags})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.writePlainNumber(w, id)
}

func (s *Server) handleChangesetGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	changeset, err := s.DB.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: id, WithBounds: true})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	var comments map[int64][]mapbase.ChangesetComment
	if r.URL.Query().Get("include_discussion") == "true" {
		list, err := s.DB.GetChangesetComments(ctx, id, false)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		comments = map[int64][]mapbase.ChangesetComment{id: list}
	}
	s.writeChangesets(w, []mapbase.Changeset{changeset}, comments)
}

func (s *Server) handleChangesetUpdate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := s.authenticate(ctx, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	tags, err := osmchange.DecodeChangesetTags(r.Body)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	err = s.DB.UpdateChangesetTags(ctx, mapbase.UpdateChangesetTags{ChangesetID: id, User: user, Tags: tags})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	changeset, err := s.DB.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: id, WithBounds: true})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.writeChangesets(w, []mapbase.Changeset{changeset}, nil)
}

func (s *Server) handleChangesetClose(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := s.authenticate(ctx, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if err := s.DB.CloseChangeset(ctx, mapbase.CloseChangeset{ChangesetID: id, User: user}); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleUpload serves the atomic diff upload.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := s.authenticate(ctx, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	actions, err := osmchange.DecodeChange(r.Body)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	result, err := s.DB.UploadDiff(ctx, mapbase.UploadDiff{
		User:        user,
		ChangesetID: id,
		Actions:     actions,
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := osmchange.EncodeDiffResult(w, result); err != nil {
		s.Logger.Error("response encoding failed", zap.Error(err))
	}
}

func (s *Server) handleChangesetDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if _, err := s.DB.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: id}); err != nil {
		s.errorResponse(w, err)
		return
	}
	elements, err := s.DB.GetElementsByChangeset(ctx, mapbase.GetElementsByChangeset{ChangesetID: id})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := osmchange.EncodeChange(w, elements); err != nil {
		s.Logger.Error("response encoding failed", zap.Error(err))
	}
}

// handleChangesetQuery serves the changeset search endpoint.
func (s *Server) handleChangesetQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	var opts mapbase.FindChangesets

	if bbox := query.Get("bbox"); bbox != "" {
		bounds, err := parseBounds(bbox)
		if err != nil {
			s.errorResponse(w, err)
			return
		}
		opts.Bounds = &bounds
	}

	userParam, nameParam := query.Get("user"), query.Get("display_name")
	switch {
	case userParam != "" && nameParam != "":
		s.errorResponse(w, mapbase.ErrInvalidRequest.New("provide either user or display_name, not both"))
		return
	case userParam != "":
		userID, err := strconv.ParseInt(userParam, 10, 64)
		if err != nil || userID <= 0 {
			s.errorResponse(w, mapbase.ErrInvalidRequest.New("invalid user %q", userParam))
			return
		}
		opts.UserID = userID
	case nameParam != "":
		if s.Users == nil {
			s.errorResponse(w, mapbase.ErrInvalidRequest.New("display_name lookup not supported"))
			return
		}
		userID, ok, err := s.Users.LookupUserID(ctx, nameParam)
		if err != nil {
			s.errorResponse(w, mapbase.Error.Wrap(err))
			return
		}
		if !ok {
			s.errorResponse(w, mapbase.ErrChangesetNotFound.New("user %q", nameParam))
			return
		}
		opts.UserID = userID
	}

	// time=T lists changesets closed after T; time=T1,T2 additionally
	// requires creation before T2.
	if timeParam := query.Get("time"); timeParam != "" {
		parts := strings.SplitN(timeParam, ",", 2)
		closedAfter, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[0]))
		if err != nil {
			s.errorResponse(w, mapbase.ErrInvalidRequest.New("invalid time %q", parts[0]))
			return
		}
		opts.ClosedAfter = closedAfter
		if len(parts) == 2 {
			createdBefore, err := time.Parse(time.RFC3339, strings.TrimSpace(parts[1]))
			if err != nil {
				s.errorResponse(w, mapbase.ErrInvalidRequest.New("invalid time %q", parts[1]))
				return
			}
			opts.CreatedBefore = createdBefore
		}
	}

	opts.Open = query.Get("open") == "true"
	opts.Closed = query.Get("closed") == "true"

	if ids := query.Get("changesets"); ids != "" {
		for _, part := range strings.Split(ids, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil || id <= 0 {
				s.errorResponse(w, mapbase.ErrInvalidRequest.New("invalid changeset id %q", part))
				return
			}
			opts.IDs = append(opts.IDs, id)
		}
	}
	if limitParam := query.Get("limit"); limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil || limit <= 0 {
			s.errorResponse(w, mapbase.ErrInvalidRequest.New("invalid limit %q", limitParam))
			return
		}
		opts.Limit = limit
	}

	changesets, err := s.DB.FindChangesets(ctx, opts)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.writeChangesets(w, changesets, nil)
}

func (s *Server) handleChangesetComment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := s.authenticate(ctx, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.errorResponse(w, mapbase.ErrInvalidRequest.New("malformed form body"))
		return
	}

	_, err = s.DB.AddChangesetComment(ctx, mapbase.AddChangesetComment{
		ChangesetID: id,
		User:        user,
		Body:        r.PostForm.Get("text"),
	})
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	changeset, err := s.DB.GetChangeset(ctx, mapbase.GetChangeset{ChangesetID: id, WithBounds: true})
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	s.writeChangesets(w, []mapbase.Changeset{changeset}, nil)
}

func (s *Server) handleCommentHide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, err := s.authenticate(ctx, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	commentID, err := strconv.ParseInt(mux.Vars(r)["comment_id"], 10, 64)
	if err != nil || commentID <= 0 {
		s.errorResponse(w, mapbase.ErrInvalidRequest.New("invalid comment id"))
		return
	}

	if err := s.DB.HideChangesetComment(ctx, mapbase.HideChangesetComment{CommentID: commentID, User: user}); err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleChangesetSubscribe(w http.ResponseWriter, r *http.Request) {
	s.serveSubscription(w, r, true)
}

func (s *Server) handleChangesetUnsubscribe(w http.ResponseWriter, r *http.Request) {
	s.serveSubscription(w, r, false)
}

func (s *Server) serveSubscription(w http.ResponseWriter, r *http.Request, subscribe bool) {
	ctx := r.Context()

	user, err := s.authenticate(ctx, r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	id, err := pathID(r)
	if err != nil {
		s.errorResponse(w, err)
		return
	}

	if subscribe {
		err = s.DB.SubscribeChangeset(ctx, id, user)
	} else {
		err = s.DB.UnsubscribeChangeset(ctx, id, user)
	}
	if err != nil {
		s.errorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
