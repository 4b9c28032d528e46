// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package osmchange

import (
	"encoding/xml"

	"osmbase.io/osmbase/mapbase"
)

// xmlNd is a way node reference.
type xmlNd struct {
	Ref int64 `xml:"ref,attr"`
}

// xmlMember is a relation member reference.
type xmlMember struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

// xmlElement is the shared XML shape of node, way and relation.
type xmlElement struct {
	ID        int64    `xml:"id,attr"`
	Version   int64    `xml:"version,attr"`
	Changeset int64    `xml:"changeset,attr"`
	Visible   *bool    `xml:"visible,attr,omitempty"`
	Timestamp string   `xml:"timestamp,attr,omitempty"`
	Lat       *float64 `xml:"lat,attr,omitempty"`
	Lon       *float64 `xml:"lon,attr,omitempty"`

	Tags    []xmlTag    `xml:"tag"`
	Nds     []xmlNd     `xml:"nd"`
	Members []xmlMember `xml:"member"`
}

func elementToXML(element *mapbase.Element) (xml.StartElement, xmlElement) {
	visible := element.Visible
	body := xmlElement{
		ID:        int64(element.TypedID.ID()),
		Version:   element.Version,
		Changeset: element.ChangesetID,
		Visible:   &visible,
		Tags:      tagsToXML(element.Tags),
	}
	if !element.CreatedAt.IsZero() {
		body.Timestamp = formatTime(element.CreatedAt)
	}

	switch element.TypedID.Type() {
	case mapbase.TypeNode:
		if element.Point != nil {
			lon, lat := element.Point.Lon, element.Point.Lat
			body.Lon, body.Lat = &lon, &lat
		}
	case mapbase.TypeWay:
		for _, member := range element.Members {
			body.Nds = append(body.Nds, xmlNd{Ref: int64(member.ID())})
		}
	case mapbase.TypeRelation:
		for i, member := range element.Members {
			role := ""
			if i < len(element.Roles) {
				role = element.Roles[i]
			}
			body.Members = append(body.Members, xmlMember{
				Type: member.Type().String(),
				Ref:  int64(member.ID()),
				Role: role,
			})
		}
	}

	return xml.StartElement{Name: xml.Name{Local: element.TypedID.Type().String()}}, body
}

func elementFromXML(typ mapbase.ElementType, body *xmlElement) (element mapbase.Element, err error) {
	typedID, err := mapbase.NewTypedID(typ, mapbase.ElementID(body.ID))
	if err != nil {
		return mapbase.Element{}, err
	}
	// The wire carries the version the client based the edit on: 0 for a
	// create, the current version for a modify or delete. The store works in
	// resulting versions, so the payload becomes version+1.
	element = mapbase.Element{
		TypedID:     typedID,
		Version:     body.Version + 1,
		ChangesetID: body.Changeset,
		Visible:     true,
		Tags:        tagsFromXML(body.Tags),
	}
	if body.Visible != nil {
		element.Visible = *body.Visible
	}

	switch typ {
	case mapbase.TypeNode:
		if body.Lon != nil && body.Lat != nil {
			element.Point = &mapbase.Point{Lon: *body.Lon, Lat: *body.Lat}
		}
	case mapbase.TypeWay:
		for _, nd := range body.Nds {
			member, err := mapbase.NewTypedID(mapbase.TypeNode, mapbase.ElementID(nd.Ref))
			if err != nil {
				return mapbase.Element{}, err
			}
			element.Members = append(element.Members, member)
		}
	case mapbase.TypeRelation:
		if len(body.Members) > 0 {
			element.Roles = make(mapbase.Roles, 0, len(body.Members))
		}
		for _, m := range body.Members {
			memberType, err := mapbase.ParseElementType(m.Type)
			if err != nil {
				return mapbase.Element{}, err
			}
			member, err := mapbase.NewTypedID(memberType, mapbase.ElementID(m.Ref))
			if err != nil {
				return mapbase.Element{}, err
			}
			element.Members = append(element.Members, member)
			element.Roles = append(element.Roles, m.Role)
		}
	}
	return element, nil
}
