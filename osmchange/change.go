// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

package osmchange

import (
	"encoding/xml"
	"io"
	"strings"

	"osmbase.io/osmbase/mapbase"
)

// DecodeChange parses an osmChange document into diff actions, preserving
// the document order across create/modify/delete blocks.
func DecodeChange(r io.Reader) ([]mapbase.DiffAction, error) {
	decoder := xml.NewDecoder(r)

	var actions []mapbase.DiffAction
	var sawRoot bool
	var verb mapbase.ActionKind
	var inBlock, ifUnused bool

	for {
		token, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, Error.New("malformed xml: %v", err)
		}

		switch token := token.(type) {
		case xml.StartElement:
			name := token.Name.Local
			switch {
			case !sawRoot:
				if name != "osmChange" {
					return nil, Error.New("expected osmChange root, got %q", name)
				}
				sawRoot = true

			case !inBlock:
				switch name {
				case "create":
					verb = mapbase.ActionCreate
				case "modify":
					verb = mapbase.ActionModify
				case "delete":
					verb = mapbase.ActionDelete
				default:
					return nil, Error.New("unexpected element %q", name)
				}
				inBlock = true
				ifUnused = false
				if verb == mapbase.ActionDelete {
					for _, attr := range token.Attr {
						if attr.Name.Local == "if-unused" {
							ifUnused = !strings.EqualFold(attr.Value, "false")
						}
					}
				}

			default:
				typ, err := mapbase.ParseElementType(name)
				if err != nil || typ.String() != name {
					return nil, Error.New("unexpected element %q", name)
				}
				var body xmlElement
				if err := decoder.DecodeElement(&body, &token); err != nil {
					return nil, Error.New("malformed %s: %v", name, err)
				}
				element, err := elementFromXML(typ, &body)
				if err != nil {
					return nil, err
				}
				actions = append(actions, mapbase.DiffAction{
					Kind:     verb,
					IfUnused: verb == mapbase.ActionDelete && ifUnused,
					Element:  element,
				})
			}

		case xml.EndElement:
			if inBlock && token.Name.Local != "osmChange" {
				inBlock = false
			}
		}
	}

	if !sawRoot {
		return nil, Error.New("empty document")
	}
	return actions, nil
}

// EncodeChange writes elements as an osmChange document, each element under
// its verb derived from version and visibility: version 1 is a create,
// hidden versions are deletes, everything else a modify. Consecutive
// same-verb elements share a block.
func EncodeChange(w io.Writer, elements []mapbase.Element) error {
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "  ")

	root := xml.StartElement{
		Name: xml.Name{Local: "osmChange"},
		Attr: []xml.Attr{
			{Name: xml.Name{Local: "version"}, Value: "0.6"},
			{Name: xml.Name{Local: "generator"}, Value: Generator},
		},
	}
	if err := encoder.EncodeToken(root); err != nil {
		return Error.Wrap(err)
	}

	var openVerb string
	closeBlock := func() error {
		if openVerb == "" {
			return nil
		}
		err := encoder.EncodeToken(xml.EndElement{Name: xml.Name{Local: openVerb}})
		openVerb = ""
		return err
	}

	for i := range elements {
		verb := changeVerb(&elements[i])
		if verb != openVerb {
			if err := closeBlock(); err != nil {
				return Error.Wrap(err)
			}
			if err := encoder.EncodeToken(xml.StartElement{Name: xml.Name{Local: verb}}); err != nil {
				return Error.Wrap(err)
			}
			openVerb = verb
		}
		start, body := elementToXML(&elements[i])
		if err := encoder.EncodeElement(body, start); err != nil {
			return Error.Wrap(err)
		}
	}

	if err := closeBlock(); err != nil {
		return Error.Wrap(err)
	}
	if err := encoder.EncodeToken(root.End()); err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(encoder.Flush())
}

func changeVerb(element *mapbase.Element) string {
	switch {
	case !element.Visible:
		return "delete"
	case element.Version == 1:
		return "create"
	default:
		return "modify"
	}
}
