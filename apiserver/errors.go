// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"osmbase.io/osmbase/mapbase"
	"osmbase.io/osmbase/osmchange"
)

// statusFor maps engine error classes onto wire status codes.
func statusFor(err error) int {
	switch {
	case mapbase.ErrInvalidRequest.Has(err), osmchange.Error.Has(err):
		return http.StatusBadRequest
	case ErrUnauthorized.Has(err):
		return http.StatusUnauthorized
	case mapbase.ErrChangesetAccessDenied.Has(err):
		return http.StatusForbidden
	case mapbase.ErrElementNotFound.Has(err), mapbase.ErrChangesetNotFound.Has(err):
		return http.StatusNotFound
	case mapbase.ErrVersionConflict.Has(err),
		mapbase.ErrChangesetClosed.Has(err),
		mapbase.ErrChangesetMismatch.Has(err):
		return http.StatusConflict
	case mapbase.ErrElementGone.Has(err):
		return http.StatusGone
	case mapbase.ErrMemberNotFound.Has(err),
		mapbase.ErrElementInUse.Has(err),
		mapbase.ErrAlreadyDeleted.Has(err):
		return http.StatusPreconditionFailed
	case mapbase.ErrChangesetTooBig.Has(err), mapbase.ErrMapQueryTooBig.Has(err):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func (s *Server) errorResponse(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.Logger.Error("internal error", zap.Error(err))
	} else {
		s.Logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}

	message := err.Error()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Error", message)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(message + "\n"))
}
