// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package mapbase

import (
	"database/sql/driver"
	"strconv"
	"strings"

	"github.com/zeebo/errs"
)

var (
	// Error is the default error for mapbase.
	Error = errs.Class("mapbase")

	// ErrInvalidRequest is used to indicate a malformed request or payload.
	ErrInvalidRequest = errs.Class("invalid request")
	// ErrElementNotFound is used to indicate a missing element.
	ErrElementNotFound = errs.Class("element not found")
	// ErrElementGone is used to indicate that the current version of an element is deleted.
	ErrElementGone = errs.Class("element deleted")
	// ErrChangesetNotFound is used to indicate a missing changeset.
	ErrChangesetNotFound = errs.Class("changeset not found")
	// ErrChangesetAccessDenied is used when a changeset belongs to a different user.
	ErrChangesetAccessDenied = errs.Class("changeset access denied")
	// ErrChangesetClosed is used for writes against a closed changeset.
	ErrChangesetClosed = errs.Class("changeset already closed")
	// ErrChangesetTooBig is used when an upload would exceed the changeset size cap.
	ErrChangesetTooBig = errs.Class("changeset too big")
	// ErrChangesetMismatch is used when an element op names a different or missing changeset.
	ErrChangesetMismatch = errs.Class("changeset mismatch on element")
	// ErrVersionConflict is used when the submitted version does not follow the current one.
	ErrVersionConflict = errs.Class("version conflict")
	// ErrAlreadyDeleted is used for deletes targeting an already hidden element.
	ErrAlreadyDeleted = errs.Class("element already deleted")
	// ErrMemberNotFound is used when a way or relation references a missing or hidden element.
	ErrMemberNotFound = errs.Class("member not found")
	// ErrElementInUse is used when deleting an element that is still referenced.
	ErrElementInUse = errs.Class("element in use")
	// ErrMapQueryTooBig is used when a map query exceeds the area or node limits.
	ErrMapQueryTooBig = errs.Class("map query too big")
	// ErrTimeIntegrity is used when the server clock runs behind the stored data.
	ErrTimeIntegrity = errs.Class("time integrity")

	// errConflict marks retryable write races. It is handled inside the
	// optimistic retry loop and never escapes UploadDiff.
	errConflict = errs.Class("optimistic conflict")
)

// ElementType is one of node, way or relation.
type ElementType uint8

// The three element types of the map graph.
const (
	TypeNode     ElementType = 0
	TypeWay      ElementType = 1
	TypeRelation ElementType = 2
)

// ParseElementType parses an element type from its name or abbreviation.
func ParseElementType(s string) (ElementType, error) {
	if s == "" {
		return 0, ErrInvalidRequest.New("element type missing")
	}
	switch s[0] {
	case 'n':
		return TypeNode, nil
	case 'w':
		return TypeWay, nil
	case 'r':
		return TypeRelation, nil
	}
	return 0, ErrInvalidRequest.New("unknown element type %q", s)
}

func (t ElementType) String() string {
	switch t {
	case TypeNode:
		return "node"
	case TypeWay:
		return "way"
	case TypeRelation:
		return "relation"
	}
	return "invalid"
}

// ElementID is the user visible element identifier, unique per type.
// Negative ids are placeholders valid only inside a single unapplied diff.
type ElementID int64

// TypedID packs an element type and id into a single 64-bit key:
//
//	[ 1 sign bit ][ 3 type bits ][ 4 reserved bits ][ 56 id bits ]
//
// Only non-placeholder ids are ever stored in the database, so the stored
// values always fit the positive range of a BIGINT column.
type TypedID uint64

const (
	typedIDSignBit = TypedID(1) << 63
	typedIDMask    = TypedID(1)<<56 - 1
	typedIDShift   = 60

	// NodeRangeMax is the largest key in the node range.
	NodeRangeMax = TypedID(1)<<typedIDShift - 1
	// WayRangeMin is the smallest key in the way range.
	WayRangeMin = TypedID(1) << typedIDShift
	// WayRangeMax is the largest key in the way range.
	WayRangeMax = TypedID(2)<<typedIDShift - 1
	// RelationRangeMin is the smallest key in the relation range.
	RelationRangeMin = TypedID(2) << typedIDShift
	// RelationRangeMax is the largest key in the relation range.
	RelationRangeMax = TypedID(3)<<typedIDShift - 1

	// MaxElementID is the largest id that fits the packing.
	MaxElementID = ElementID(1)<<56 - 1
)

// NewTypedID packs type and id into a TypedID.
func NewTypedID(typ ElementType, id ElementID) (TypedID, error) {
	var packed TypedID
	if id < 0 {
		if id <= -(1 << 56) {
			return 0, ErrInvalidRequest.New("element id %d out of range", id)
		}
		packed = TypedID(-id) | typedIDSignBit
	} else {
		if id >= 1<<56 {
			return 0, ErrInvalidRequest.New("element id %d out of range", id)
		}
		packed = TypedID(id)
	}
	return packed | TypedID(typ)<<typedIDShift, nil
}

// MustTypedID packs type and id and panics on overflow. Use for constants
// and tests only.
func MustTypedID(typ ElementType, id ElementID) TypedID {
	packed, err := NewTypedID(typ, id)
	if err != nil {
		panic(err)
	}
	return packed
}

// Type returns the element type encoded in the key.
func (t TypedID) Type() ElementType {
	return ElementType(t >> typedIDShift & 0b111)
}

// ID returns the element id encoded in the key, negative for placeholders.
func (t TypedID) ID() ElementID {
	id := ElementID(t & typedIDMask)
	if t&typedIDSignBit != 0 {
		return -id
	}
	return id
}

// IsPlaceholder returns whether the key denotes a not yet assigned element.
func (t TypedID) IsPlaceholder() bool { return t&typedIDSignBit != 0 }

func (t TypedID) String() string {
	return t.Type().String()[:1] + strconv.FormatInt(int64(t.ID()), 10)
}

// Less implements sorting on typed ids.
func (t TypedID) Less(b TypedID) bool { return t < b }

// Value converts a TypedID to a database field.
func (t TypedID) Value() (driver.Value, error) {
	if t.IsPlaceholder() {
		return nil, Error.New("cannot store placeholder id %v", t)
	}
	return int64(t), nil
}

// Scan extracts a TypedID from a database field.
func (t *TypedID) Scan(value interface{}) error {
	switch value := value.(type) {
	case int64:
		*t = TypedID(value)
		return nil
	default:
		return Error.New("unable to scan %T into TypedID", value)
	}
}

// VersionedRef is a TypedID pinned to a specific version.
type VersionedRef struct {
	TypedID TypedID
	Version int64
}

// MixedRef optionally pins a TypedID to a version; Version 0 means the
// current version.
type MixedRef struct {
	TypedID TypedID
	Version int64
}

// ParseRef parses "n123", "w4", "r7" style references.
func ParseRef(s string) (TypedID, error) {
	typ, err := ParseElementType(s)
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(s[1:], 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidRequest.New("invalid element ref %q", s)
	}
	return NewTypedID(typ, ElementID(id))
}

// ParseMixedRef parses "123" or "123v7" style references of a known type.
func ParseMixedRef(typ ElementType, s string) (MixedRef, error) {
	var version int64
	if idx := strings.IndexByte(s, 'v'); idx >= 0 {
		parsed, err := strconv.ParseInt(s[idx+1:], 10, 64)
		if err != nil || parsed <= 0 {
			return MixedRef{}, ErrInvalidRequest.New("invalid element version %q", s)
		}
		version = parsed
		s = s[:idx]
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return MixedRef{}, ErrInvalidRequest.New("invalid element id %q", s)
	}
	typedID, err := NewTypedID(typ, ElementID(id))
	if err != nil {
		return MixedRef{}, err
	}
	return MixedRef{TypedID: typedID, Version: version}, nil
}

// typeRange returns the TypedID range for the given element type.
func typeRange(typ ElementType) (min, max TypedID) {
	switch typ {
	case TypeNode:
		return 0, NodeRangeMax
	case TypeWay:
		return WayRangeMin, WayRangeMax
	default:
		return RelationRangeMin, RelationRangeMax
	}
}

// Role grants additional permissions to a user.
type Role string

// Roles understood by the edit engine.
const (
	RoleModerator     Role = "moderator"
	RoleAdministrator Role = "administrator"
)

// User identifies the authenticated caller of a write operation.
type User struct {
	ID    int64
	Roles []Role
}

// ChangesetSizeCap returns the maximum number of element operations allowed
// in one of the user's changesets.
func (u User) ChangesetSizeCap() int64 {
	for _, role := range u.Roles {
		if role == RoleModerator || role == RoleAdministrator {
			return ChangesetModeratorMaxSize
		}
	}
	return ChangesetMaxSize
}

// IsModerator reports whether the user may perform moderation actions.
func (u User) IsModerator() bool {
	for _, role := range u.Roles {
		if role == RoleModerator || role == RoleAdministrator {
			return true
		}
	}
	return false
}
