// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev
//
// This file defines stage links and the LinkedInput variant.
//
// A linked input is written in configuration as either a single object
// `{ stage = 0, field = "bam" }` or a list of such objects. The list form is
// positional: downstream executables rely on element order, so it is kept
// exactly as written.
package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// ObjectLinkKey is the single key of an object-link sentinel value, e.g.
// {"$dnanexus_link": "file-xxxx"}.
const ObjectLinkKey = "$dnanexus_link"

// ObjectRef names an object in the remote object store. Either ID is set, or
// Project and Path are.
type ObjectRef struct {
	ID      string
	Project string
	Path    string
}

// StageLink binds an input to the named output field of an earlier stage.
type StageLink struct {
	Field string
	Stage int
}

func (l StageLink) String() string {
	return fmt.Sprintf("stage[%d].%s", l.Stage, l.Field)
}

// LinkKind tags the variant held by a LinkedInput.
type LinkKind int

const (
	// LinkInvalid marks a value whose shape is neither a link nor a list of
	// links. It is the zero value, so an unset LinkedInput is invalid.
	LinkInvalid LinkKind = iota
	// LinkSingle holds exactly one StageLink.
	LinkSingle
	// LinkList holds an ordered list of StageLinks.
	LinkList
)

func (k LinkKind) String() string {
	switch k {
	case LinkSingle:
		return "single"
	case LinkList:
		return "list"
	default:
		return "invalid"
	}
}

// LinkedInput is the tagged variant SingleLink | ListLink | Invalid.
type LinkedInput struct {
	Kind  LinkKind
	Links []StageLink
	// Problem describes why a value was classified as invalid.
	Problem string
}

// SingleLink returns a LinkedInput holding one link.
func SingleLink(l StageLink) LinkedInput {
	return LinkedInput{Kind: LinkSingle, Links: []StageLink{l}}
}

// ListLink returns a LinkedInput holding an ordered list of links.
func ListLink(links ...StageLink) LinkedInput {
	return LinkedInput{Kind: LinkList, Links: append([]StageLink{}, links...)}
}

// InvalidLink records a value of an unrecognised shape.
func InvalidLink(problem string) LinkedInput {
	return LinkedInput{Kind: LinkInvalid, Problem: problem}
}

// ParseLinkedInput classifies a raw configuration value.
func ParseLinkedInput(v cty.Value) LinkedInput {
	if v.IsNull() || !v.IsKnown() {
		return InvalidLink("value is null")
	}
	ty := v.Type()
	switch {
	case ty.IsObjectType() || ty.IsMapType():
		l, err := parseStageLink(v)
		if err != nil {
			return InvalidLink(err.Error())
		}
		return SingleLink(l)
	case ty.IsTupleType() || ty.IsListType():
		links := make([]StageLink, 0, v.LengthInt())
		i := 0
		for it := v.ElementIterator(); it.Next(); i++ {
			_, ev := it.Element()
			l, err := parseStageLink(ev)
			if err != nil {
				return InvalidLink(fmt.Sprintf("element %d: %s", i, err))
			}
			links = append(links, l)
		}
		return ListLink(links...)
	default:
		return InvalidLink(fmt.Sprintf("expected a stage link object or a list of them, got %s", ty.FriendlyName()))
	}
}

func parseStageLink(v cty.Value) (StageLink, error) {
	if v.IsNull() || !v.IsKnown() {
		return StageLink{}, errors.New("stage link is null")
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return StageLink{}, fmt.Errorf("expected an object with 'stage' and 'field', got %s", ty.FriendlyName())
	}
	attrs := v.AsValueMap()
	for k := range attrs {
		if k != "stage" && k != "field" {
			return StageLink{}, fmt.Errorf("unexpected key %q in stage link", k)
		}
	}
	stageVal, ok := attrs["stage"]
	if !ok {
		return StageLink{}, errors.New("stage link is missing 'stage'")
	}
	fieldVal, ok := attrs["field"]
	if !ok {
		return StageLink{}, errors.New("stage link is missing 'field'")
	}

	stage, err := linkIndex(stageVal)
	if err != nil {
		return StageLink{}, err
	}
	field, err := convert.Convert(fieldVal, cty.String)
	if err != nil || field.IsNull() {
		return StageLink{}, errors.New("stage link 'field' must be a string")
	}
	return StageLink{Field: field.AsString(), Stage: stage}, nil
}

// linkIndex accepts both numbers and numeric strings, since stage indices are
// object keys in the JSON document form and are often quoted.
func linkIndex(v cty.Value) (int, error) {
	if v.IsNull() || !v.IsKnown() {
		return 0, errors.New("stage link 'stage' is null")
	}
	switch {
	case v.Type().Equals(cty.Number):
		bf := v.AsBigFloat()
		if !bf.IsInt() {
			return 0, fmt.Errorf("stage link 'stage' must be an integer, got %s", bf.String())
		}
		i, _ := bf.Int64()
		return int(i), nil
	case v.Type().Equals(cty.String):
		i, err := strconv.Atoi(strings.TrimSpace(v.AsString()))
		if err != nil {
			return 0, fmt.Errorf("stage link 'stage' must be an integer, got %q", v.AsString())
		}
		return i, nil
	default:
		return 0, fmt.Errorf("stage link 'stage' must be an integer, got %s", v.Type().FriendlyName())
	}
}
