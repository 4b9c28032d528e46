// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

// Package apiserver implements the 0.6 editing API over the map store.
package apiserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"osmbase.io/osmbase/mapbase"
)

// Config is a configuration struct for the API server.
type Config struct {
	Address string `help:"address to listen on" default:":8080"`
}

// Server implements the REST API for map editing.
type Server struct {
	Logger  *zap.Logger
	DB      *mapbase.DB
	Auth    Auth
	Users   UserDirectory // optional
	Address string
	Handler http.Handler
}

// NewServer creates a new API server.
func NewServer(log *zap.Logger, db *mapbase.DB, auth Auth, users UserDirectory, config Config) (*Server, error) {
	s := &Server{
		Logger:  log,
		DB:      db,
		Auth:    auth,
		Users:   users,
		Address: config.Address,
	}

	router := mux.NewRouter()
	api := router.PathPrefix("/api/0.6").Subrouter()

	// changesets
	api.HandleFunc("/changeset/create", s.handleChangesetCreate).Methods(http.MethodPut)
	api.HandleFunc("/changesets", s.handleChangesetQuery).Methods(http.MethodGet)
	api.HandleFunc("/changeset/comment/{comment_id:[0-9]+}/hide", s.handleCommentHide).Methods(http.MethodPost)
	api.HandleFunc("/changeset/{id:[0-9]+}", s.handleChangesetGet).Methods(http.MethodGet)
	api.HandleFunc("/changeset/{id:[0-9]+}", s.handleChangesetUpdate).Methods(http.MethodPut)
	api.HandleFunc("/changeset/{id:[0-9]+}/upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/changeset/{id:[0-9]+}/close", s.handleChangesetClose).Methods(http.MethodPut)
	api.HandleFunc("/changeset/{id:[0-9]+}/download", s.handleChangesetDownload).Methods(http.MethodGet)
	api.HandleFunc("/changeset/{id:[0-9]+}/comment", s.handleChangesetComment).Methods(http.MethodPost)
	api.HandleFunc("/changeset/{id:[0-9]+}/subscribe", s.handleChangesetSubscribe).Methods(http.MethodPost)
	api.HandleFunc("/changeset/{id:[0-9]+}/unsubscribe", s.handleChangesetUnsubscribe).Methods(http.MethodPost)

	// spatial query
	api.HandleFunc("/map", s.handleMap).Methods(http.MethodGet)

	// elements
	const typePattern = "{type:node|way|relation}"
	api.HandleFunc("/nodes", s.handleElementsMulti).Methods(http.MethodGet)
	api.HandleFunc("/ways", s.handleElementsMulti).Methods(http.MethodGet)
	api.HandleFunc("/relations", s.handleElementsMulti).Methods(http.MethodGet)
	api.HandleFunc("/"+typePattern+"/create", s.handleElementCreate).Methods(http.MethodPut)
	api.HandleFunc("/node/{id:[0-9]+}/ways", s.handleElementWays).Methods(http.MethodGet)
	api.HandleFunc("/"+typePattern+"/{id:[0-9]+}/relations", s.handleElementRelations).Methods(http.MethodGet)
	api.HandleFunc("/{type:way|relation}/{id:[0-9]+}/full", s.handleElementFull).Methods(http.MethodGet)
	api.HandleFunc("/"+typePattern+"/{id:[0-9]+}/history", s.handleElementHistory).Methods(http.MethodGet)
	api.HandleFunc("/"+typePattern+"/{id:[0-9]+}/{version:[0-9]+}", s.handleElementVersion).Methods(http.MethodGet)
	api.HandleFunc("/"+typePattern+"/{id:[0-9]+}", s.handleElementGet).Methods(http.MethodGet)
	api.HandleFunc("/"+typePattern+"/{id:[0-9]+}", s.handleElementUpdate).Methods(http.MethodPut)
	api.HandleFunc("/"+typePattern+"/{id:[0-9]+}", s.handleElementDelete).Methods(http.MethodDelete)

	s.Handler = router
	return s, nil
}

// Run starts the API server.
func (s *Server) Run() error {
	s.Logger.Info("API server listening", zap.String("address", s.Address))
	return http.ListenAndServe(s.Address, s.Handler)
}

// authenticate resolves the calling user of a write request.
func (s *Server) authenticate(ctx context.Context, r *http.Request) (mapbase.User, error) {
	if s.Auth == nil {
		return mapbase.User{}, ErrUnauthorized.New("authentication not configured")
	}
	return s.Auth.Authenticate(ctx, r)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, mapbase.ErrInvalidRequest.New("invalid id %q", mux.Vars(r)["id"])
	}
	return id, nil
}

func pathType(r *http.Request) (mapbase.ElementType, error) {
	return mapbase.ParseElementType(mux.Vars(r)["type"])
}

func pathTypedID(r *http.Request) (mapbase.TypedID, error) {
	typ, err := pathType(r)
	if err != nil {
		return 0, err
	}
	id, err := pathID(r)
	if err != nil {
		return 0, err
	}
	return mapbase.NewTypedID(typ, mapbase.ElementID(id))
}

// parseBounds parses a "minlon,minlat,maxlon,maxlat" bbox parameter.
func parseBounds(value string) (mapbase.Rect, error) {
	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return mapbase.Rect{}, mapbase.ErrInvalidRequest.New("bbox must be minlon,minlat,maxlon,maxlat")
	}
	var coords [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return mapbase.Rect{}, mapbase.ErrInvalidRequest.New("invalid bbox coordinate %q", part)
		}
		coords[i] = v
	}
	bounds := mapbase.Rect{MinLon: coords[0], MinLat: coords[1], MaxLon: coords[2], MaxLat: coords[3]}
	switch {
	case bounds.MinLon > bounds.MaxLon, bounds.MinLat > bounds.MaxLat:
		return mapbase.Rect{}, mapbase.ErrInvalidRequest.New("bbox corners inverted")
	case !(mapbase.Point{Lon: bounds.MinLon, Lat: bounds.MinLat}).Valid(),
		!(mapbase.Point{Lon: bounds.MaxLon, Lat: bounds.MaxLat}).Valid():
		return mapbase.Rect{}, mapbase.ErrInvalidRequest.New("bbox out of range")
	}
	return bounds, nil
}
