// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Point is a node coordinate in degrees.
type Point struct {
	Lon float64
	Lat float64
}

// Valid reports whether the point is inside the WGS84 coordinate ranges.
func (p Point) Valid() bool {
	return p.Lon >= -180 && p.Lon <= 180 && p.Lat >= -90 && p.Lat <= 90
}

// Round rounds the point to the stored coordinate precision.
func (p Point) Round() Point {
	return Point{Lon: roundCoord(p.Lon), Lat: roundCoord(p.Lat)}
}

func roundCoord(v float64) float64 {
	const scale = 1e7 // CoordinateDecimals
	return math.Round(v*scale) / scale
}

// Tags is a string key-value tag set, stored as JSONB.
type Tags map[string]string

// Value converts Tags to a database field.
func (tags Tags) Value() (driver.Value, error) {
	if tags == nil {
		tags = Tags{}
	}
	return json.Marshal(tags)
}

// Scan extracts Tags from a database field.
func (tags *Tags) Scan(value interface{}) error {
	switch value := value.(type) {
	case []byte:
		return Error.Wrap(json.Unmarshal(value, tags))
	case string:
		return Error.Wrap(json.Unmarshal([]byte(value), tags))
	case nil:
		*tags = nil
		return nil
	default:
		return Error.New("unable to scan %T into Tags", value)
	}
}

// Validate verifies the tag set against the wire limits.
func (tags Tags) Validate() error {
	if len(tags) > TagsMaxCount {
		return ErrInvalidRequest.New("too many tags: %d > %d", len(tags), TagsMaxCount)
	}
	total := 0
	for key, value := range tags {
		if key == "" {
			return ErrInvalidRequest.New("empty tag key")
		}
		if utf8.RuneCountInString(key) > TagMaxKeyLength {
			return ErrInvalidRequest.New("tag key too long: %q", key)
		}
		if utf8.RuneCountInString(value) > TagMaxValueLength {
			return ErrInvalidRequest.New("tag value too long for key %q", key)
		}
		total += len(key) + len(value)
	}
	if int64(total) > TagsMaxSize.Int64() {
		return ErrInvalidRequest.New("tag set too large: %d bytes", total)
	}
	return nil
}

// TypedIDs is an ordered member list, stored as a BIGINT array so that
// membership queries can run in SQL.
type TypedIDs []TypedID

// Value converts the list to a database field.
func (ids TypedIDs) Value() (driver.Value, error) {
	if ids == nil {
		return nil, nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, id := range ids {
		if id.IsPlaceholder() {
			return nil, Error.New("cannot store placeholder id %v", id)
		}
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	b.WriteByte('}')
	return b.String(), nil
}

// Scan extracts the list from a database field. The driver delivers BIGINT
// arrays in the text format, which for numeric arrays is unquoted.
func (ids *TypedIDs) Scan(value interface{}) error {
	var text string
	switch value := value.(type) {
	case nil:
		*ids = nil
		return nil
	case []byte:
		text = string(value)
	case string:
		text = value
	default:
		return Error.New("unable to scan %T into TypedIDs", value)
	}
	text = strings.TrimPrefix(text, "{")
	text = strings.TrimSuffix(text, "}")
	if text == "" {
		*ids = TypedIDs{}
		return nil
	}
	parts := strings.Split(text, ",")
	result := make(TypedIDs, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return Error.New("invalid member array element %q", part)
		}
		result = append(result, TypedID(v))
	}
	*ids = result
	return nil
}

// Roles is the ordered relation member role list, stored as JSONB.
type Roles []string

// Value converts Roles to a database field.
func (roles Roles) Value() (driver.Value, error) {
	if roles == nil {
		return nil, nil
	}
	return json.Marshal(roles)
}

// Scan extracts Roles from a database field.
func (roles *Roles) Scan(value interface{}) error {
	switch value := value.(type) {
	case nil:
		*roles = nil
		return nil
	case []byte:
		return Error.Wrap(json.Unmarshal(value, roles))
	case string:
		return Error.Wrap(json.Unmarshal([]byte(value), roles))
	default:
		return Error.New("unable to scan %T into Roles", value)
	}
}

// Element is a single version of one node, way or relation.
//
// Storage is append-only: a modify or delete writes a new row with the next
// version, and the previous row loses its latest flag. Tombstones (rows with
// Visible false) carry no tags, point or members.
type Element struct {
	SequenceID  int64
	TypedID     TypedID
	Version     int64
	ChangesetID int64
	Visible     bool
	Latest      bool
	Tags        Tags
	Point       *Point
	Members     TypedIDs
	Roles       Roles
	CreatedAt   time.Time
}

// Ref returns the versioned reference of this element row.
func (e *Element) Ref() VersionedRef {
	return VersionedRef{TypedID: e.TypedID, Version: e.Version}
}

// Validate verifies a submitted element payload against the data model
// invariants. It does not consult the database.
func (e *Element) Validate() error {
	if e.Version <= 0 {
		return ErrInvalidRequest.New("%v: version must be positive", e.TypedID)
	}
	if e.ChangesetID <= 0 {
		return ErrInvalidRequest.New("%v: changeset missing", e.TypedID)
	}

	if !e.Visible {
		switch {
		case len(e.Tags) > 0:
			return ErrInvalidRequest.New("%v: deleted element cannot carry tags", e.TypedID)
		case e.Point != nil:
			return ErrInvalidRequest.New("%v: deleted element cannot carry a point", e.TypedID)
		case e.Members != nil || e.Roles != nil:
			return ErrInvalidRequest.New("%v: deleted element cannot carry members", e.TypedID)
		}
		return nil
	}

	if err := e.Tags.Validate(); err != nil {
		return err
	}

	switch e.TypedID.Type() {
	case TypeNode:
		if e.Point == nil {
			return ErrInvalidRequest.New("%v: node point missing", e.TypedID)
		}
		if !e.Point.Valid() {
			return ErrInvalidRequest.New("%v: point out of range (%v, %v)", e.TypedID, e.Point.Lon, e.Point.Lat)
		}
		if e.Members != nil || e.Roles != nil {
			return ErrInvalidRequest.New("%v: node cannot carry members", e.TypedID)
		}

	case TypeWay:
		if e.Point != nil {
			return ErrInvalidRequest.New("%v: way cannot carry a point", e.TypedID)
		}
		if e.Roles != nil {
			return ErrInvalidRequest.New("%v: way cannot carry member roles", e.TypedID)
		}
		if len(e.Members) < 2 {
			return ErrInvalidRequest.New("%v: way needs at least 2 nodes", e.TypedID)
		}
		if len(e.Members) > WayMaxMembers {
			return ErrInvalidRequest.New("%v: way too long: %d > %d", e.TypedID, len(e.Members), WayMaxMembers)
		}
		for _, member := range e.Members {
			if member.Type() != TypeNode {
				return ErrInvalidRequest.New("%v: way member %v is not a node", e.TypedID, member)
			}
		}

	case TypeRelation:
		if e.Point != nil {
			return ErrInvalidRequest.New("%v: relation cannot carry a point", e.TypedID)
		}
		if len(e.Members) > RelationMaxMembers {
			return ErrInvalidRequest.New("%v: relation too large: %d > %d", e.TypedID, len(e.Members), RelationMaxMembers)
		}
		if len(e.Roles) != len(e.Members) {
			return ErrInvalidRequest.New("%v: roles do not match members: %d != %d", e.TypedID, len(e.Roles), len(e.Members))
		}
		for _, role := range e.Roles {
			if utf8.RuneCountInString(role) > RoleMaxLength {
				return ErrInvalidRequest.New("%v: member role too long", e.TypedID)
			}
		}
	}
	return nil
}
