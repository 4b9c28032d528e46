// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package osmchange

import (
	"encoding/xml"
	"io"

	"osmbase.io/osmbase/mapbase"
)

func osmRoot() xml.StartElement {
	return xml.StartElement{
		Name: xml.Name{Local: "osm"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "version"}, Value: "0.6"},
			{Name: xml.Name{Local: "generator"}, Value: Generator},
		},
	}
}

// EncodeOSM writes elements as an osm document.
func EncodeOSM(w io.Writer, elements []mapbase.Element) error {
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")

	root := osmRoot()
	if err := encoder.EncodeToken(root); err != nil {
		return Error.Wrap(err)
	}
	for i := range elements {
		start, body := elementToXML(&elements[i])
		if err := encoder.EncodeElement(body, start); err != nil {
			return Error.Wrap(err)
		}
	}
	if err := encoder.EncodeToken(root.End()); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(encoder.Flush())
}

// DecodeElement parses a single-element osm document, as submitted by the
// single-object PUT endpoints.
func DecodeElement(r io.Reader, typ mapbase.ElementType) (mapbase.Element, error) {
	decoder := xml.NewDecoder(r)

	var sawRoot bool
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return mapbase.Element{}, Error.New("missing %s element", typ)
		}
		if err != nil {
			return mapbase.Element{}, Error.New("malformed xml: %v", err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		if !sawRoot {
			if start.Name.Local != "osm" {
				return mapbase.Element{}, Error.New("expected osm root, got %q", start.Name.Local)
			}
			sawRoot = true
			continue
		}
		if start.Name.Local != typ.String() {
			return mapbase.Element{}, Error.New("expected %s, got %q", typ, start.Name.Local)
		}
		var body xmlElement
		if err := decoder.DecodeElement(&body, &start); err != nil {
			return mapbase.Element{}, Error.New("malformed %s: %v", typ, err)
		}
		return elementFromXML(typ, &body)
	}
}

// xmlDiffEntry is one entry of a diffResult document.
type xmlDiffEntry struct {
	OldID      int64  `xml:"old_id,attr"`
	NewID      *int64 `xml:"new_id,attr,omitempty"`
	NewVersion *int64 `xml:"new_version,attr,omitempty"`
}

// EncodeDiffResult writes the outcome of a diff upload, one entry per
// submitted action in input order. Applied deletes report only old_id;
// if-unused deletes that were kept echo the element's id and its current
// version.
func EncodeDiffResult(w io.Writer, result mapbase.DiffResult) error {
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Local: "diffResult"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "version"}, Value: "0.6"},
			{Name: xml.Name{Local: "generator"}, Value: Generator},
		},
	}
	if err := encoder.EncodeToken(root); err != nil {
		return Error.Wrap(err)
	}

	for _, entry := range result.Entries {
		body := xmlDiffEntry{OldID: int64(entry.OldTypedID.ID())}
		if entry.NewTypedID != 0 {
			newID := int64(entry.NewTypedID.ID())
			body.NewID = &newID
		}
		if entry.NewVersion != 0 {
			newVersion := entry.NewVersion
			body.NewVersion = &newVersion
		}
		start := xml.StartElement{Name: xml.Name{Local: entry.OldTypedID.Type().String()}}
		if err := encoder.EncodeElement(body, start); err != nil {
			return Error.Wrap(err)
		}
	}

	if err := encoder.EncodeToken(root.End()); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(encoder.Flush())
}

// xmlComment is a changeset discussion entry.
type xmlComment struct {
	UID  int64  `xml:"uid,attr"`
	Date string `xml:"date,attr"`
	Text string `xml:"text"`
}

// xmlChangeset is the XML shape of a changeset.
type xmlChangeset struct {
	ID           int64    `xml:"id,attr"`
	UserID       int64    `xml:"uid,attr"`
	CreatedAt    string   `xml:"created_at,attr"`
	ClosedAt     string   `xml:"closed_at,attr,omitempty"`
	Open         bool     `xml:"open,attr"`
	ChangesCount int64    `xml:"changes_count,attr"`
	MinLon       *string  `xml:"min_lon,attr,omitempty"`
	MinLat       *string  `xml:"min_lat,attr,omitempty"`
	MaxLon       *string  `xml:"max_lon,attr,omitempty"`
	MaxLat       *string  `xml:"max_lat,attr,omitempty"`
	Tags         []xmlTag `xml:"tag"`

	Discussion *struct {
		Comments []xmlComment `xml:"comment"`
	} `xml:"discussion,omitempty"`
}

func changesetToXML(c *mapbase.Changeset, comments []mapbase.ChangesetComment) xmlChangeset {
	body := xmlChangeset{
		ID:           c.ID,
		UserID:       c.UserID,
		CreatedAt:    formatTime(c.CreatedAt),
		Open:         c.IsOpen(),
		ChangesCount: c.Size,
		Tags:         tagsToXML(c.Tags),
	}
	if c.ClosedAt != nil {
		body.ClosedAt = formatTime(*c.ClosedAt)
	}
	if len(c.Bounds) > 0 {
		union := c.Bounds[0]
		for _, r := range c.Bounds[1:] {
			union = union.Union(r)
		}
		minLon, minLat := formatCoord(union.MinLon), formatCoord(union.MinLat)
		maxLon, maxLat := formatCoord(union.MaxLon), formatCoord(union.MaxLat)
		body.MinLon, body.MinLat = &minLon, &minLat
		body.MaxLon, body.MaxLat = &maxLon, &maxLat
	}
	if len(comments) > 0 {
		body.Discussion = &struct {
			Comments []xmlComment `xml:"comment"`
		}{}
		for _, comment := range comments {
			body.Discussion.Comments = append(body.Discussion.Comments, xmlComment{
				UID:  comment.UserID,
				Date: formatTime(comment.CreatedAt),
				Text: comment.Body,
			})
		}
	}
	return body
}

// EncodeChangesets writes changesets as an osm document. Comments, when
// provided, are keyed by changeset id.
func EncodeChangesets(w io.Writer, changesets []mapbase.Changeset, comments map[int64][]mapbase.ChangesetComment) error {
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")

	root := osmRoot()
	if err := encoder.EncodeToken(root); err != nil {
		return Error.Wrap(err)
	}
	for i := range changesets {
		body := changesetToXML(&changesets[i], comments[changesets[i].ID])
		start := xml.StartElement{Name: xml.Name{Local: "changeset"}}
		if err := encoder.EncodeElement(body, start); err != nil {
			return Error.Wrap(err)
		}
	}
	if err := encoder.EncodeToken(root.End()); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(encoder.Flush())
}

// DecodeChangesetTags parses the tag set of a changeset create/update
// request.
func DecodeChangesetTags(r io.Reader) (mapbase.Tags, error) {
	var doc struct {
		XMLName    xml.Name `xml:"osm"`
		Changesets []struct {
			Tags []xmlTag `xml:"tag"`
		} `xml:"changeset"`
	}
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, Error.New("malformed xml: %v", err)
	}
	if len(doc.Changesets) == 0 {
		return nil, Error.New("missing changeset element")
	}
	tags := mapbase.Tags{}
	for _, c := range doc.Changesets {
		for _, tag := range c.Tags {
			tags[tag.K] = tag.V
		}
	}
	return tags, nil
}
