// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package apiserver

import (
	"context"
	"net/http"
	"strconv"

	"github.com/zeebo/errs"

	"osmbase.io/osmbase/mapbase"
)

// ErrUnauthorized is returned when a request carries no valid credentials.
var ErrUnauthorized = errs.Class("unauthorized")

// Auth authenticates API requests.
type Auth interface {
	// Authenticate returns the calling user, or ErrUnauthorized.
	Authenticate(ctx context.Context, r *http.Request) (mapbase.User, error)
}

// UserDirectory resolves display names to user ids for changeset queries.
type UserDirectory interface {
	// LookupUserID returns the user id for a display name. ok is false
	// when no such user exists.
	LookupUserID(ctx context.Context, displayName string) (id int64, ok bool, err error)
}

// HeaderAuth trusts identity headers set by an authenticating front proxy.
// The proxy terminates OAuth and forwards the resolved account as
// X-User-Id and X-User-Role.
type HeaderAuth struct{}

// Authenticate implements Auth.
func (HeaderAuth) Authenticate(ctx context.Context, r *http.Request) (mapbase.User, error) {
	raw := r.Header.Get("X-User-Id")
	if raw == "" {
		return mapbase.User{}, ErrUnauthorized.New("missing X-User-Id header")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return mapbase.User{}, ErrUnauthorized.New("invalid X-User-Id header")
	}
	user := mapbase.User{ID: id}
	for _, role := range r.Header.Values("X-User-Role") {
		user.Roles = append(user.Roles, mapbase.Role(role))
	}
	return user, nil
}
