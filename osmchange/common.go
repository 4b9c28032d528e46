// Copyright (C) 2024 OSMBase Authors.
// See LICENSE for copying information.

// Package osmchange implements the 0.6 XML wire format: osm documents,
// osmChange uploads and diffResult responses.
package osmchange

import (
	"strconv"
	"time"

	"github.com/zeebo/errs"

	"osmbase.io/osmbase/mapbase"
)

var (
	// Error is the default error for osmchange.
	Error = errs.Class("osmchange")
)

// Generator is the generator attribute stamped on produced documents.
const Generator = "osmbase"

const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// xmlTag is a single k/v tag.
type xmlTag struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

func tagsToXML(tags mapbase.Tags) []xmlTag {
	if len(tags) == 0 {
		return nil
	}
	result := make([]xmlTag, 0, len(tags))
	for k, v := range tags {
		result = append(result, xmlTag{K: k, V: v})
	}
	sortTags(result)
	return result
}

func sortTags(tags []xmlTag) {
	for i := 1; i < len(tags); i++ {
		for j := i; j > 0 && tags[j].K < tags[j-1].K; j-- {
			tags[j], tags[j-1] = tags[j-1], tags[j]
		}
	}
}

func tagsFromXML(tags []xmlTag) mapbase.Tags {
	if len(tags) == 0 {
		return nil
	}
	result := make(mapbase.Tags, len(tags))
	for _, tag := range tags {
		result[tag.K] = tag.V
	}
	return result
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
