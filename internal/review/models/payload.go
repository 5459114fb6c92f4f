package models

import (
	"fmt"
	"slices"
	"strings"

	dErrors "dhruv/pkg/domain-errors"
	pstrings "dhruv/pkg/platform/strings"
)

// Field names one correctable payload field. The names double as JSON keys
// in correction requests and in the correction log.
type Field string

const (
	FieldEventType     Field = "event_type"
	FieldLocation      Field = "location"
	FieldDistrict      Field = "district"
	FieldPeople        Field = "people"
	FieldOrganisations Field = "organisations"
	FieldSchemes       Field = "schemes"
	FieldCommunities   Field = "communities"
)

// Fields lists every payload field in canonical order. Diffs and correction
// log entries follow this order.
var Fields = []Field{
	FieldEventType,
	FieldLocation,
	FieldDistrict,
	FieldPeople,
	FieldOrganisations,
	FieldSchemes,
	FieldCommunities,
}

func (f Field) IsValid() bool {
	return slices.Contains(Fields, f)
}

func (f Field) isList() bool {
	switch f {
	case FieldPeople, FieldOrganisations, FieldSchemes, FieldCommunities:
		return true
	}
	return false
}

// Payload is the structured output of the upstream parser for one post.
type Payload struct {
	EventType     string   `json:"event_type"`
	Location      string   `json:"location"`
	District      string   `json:"district"`
	People        []string `json:"people"`
	Organisations []string `json:"organisations"`
	Schemes       []string `json:"schemes"`
	Communities   []string `json:"communities"`
}

// Normalize trims scalar fields and dedupes entity lists.
func (p *Payload) Normalize() {
	p.EventType = strings.TrimSpace(p.EventType)
	p.Location = pstrings.CollapseSpace(p.Location)
	p.District = strings.TrimSpace(p.District)
	p.People = nonNil(pstrings.DedupeAndTrim(p.People))
	p.Organisations = nonNil(pstrings.DedupeAndTrim(p.Organisations))
	p.Schemes = nonNil(pstrings.DedupeAndTrim(p.Schemes))
	p.Communities = nonNil(pstrings.DedupeAndTrim(p.Communities))
}

func (p Payload) Clone() Payload {
	p.People = slices.Clone(p.People)
	p.Organisations = slices.Clone(p.Organisations)
	p.Schemes = slices.Clone(p.Schemes)
	p.Communities = slices.Clone(p.Communities)
	return p
}

// Get returns a field's value: string for scalar fields, []string for lists.
func (p *Payload) Get(f Field) (any, error) {
	switch f {
	case FieldEventType:
		return p.EventType, nil
	case FieldLocation:
		return p.Location, nil
	case FieldDistrict:
		return p.District, nil
	case FieldPeople:
		return slices.Clone(p.People), nil
	case FieldOrganisations:
		return slices.Clone(p.Organisations), nil
	case FieldSchemes:
		return slices.Clone(p.Schemes), nil
	case FieldCommunities:
		return slices.Clone(p.Communities), nil
	}
	return nil, unknownField(f)
}

// Set assigns a field from a decoded value. Scalar fields take a string; list
// fields take []string or a JSON array of strings.
func (p *Payload) Set(f Field, value any) error {
	if !f.IsValid() {
		return unknownField(f)
	}
	if f.isList() {
		list, err := toStringList(f, value)
		if err != nil {
			return err
		}
		list = nonNil(pstrings.DedupeAndTrim(list))
		switch f {
		case FieldPeople:
			p.People = list
		case FieldOrganisations:
			p.Organisations = list
		case FieldSchemes:
			p.Schemes = list
		case FieldCommunities:
			p.Communities = list
		}
		return nil
	}

	s, ok := value.(string)
	if !ok {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %s must be a string", f))
	}
	switch f {
	case FieldEventType:
		p.EventType = strings.TrimSpace(s)
	case FieldLocation:
		p.Location = pstrings.CollapseSpace(s)
	case FieldDistrict:
		p.District = strings.TrimSpace(s)
	}
	return nil
}

// FieldChange is one differing field between two payloads.
type FieldChange struct {
	Field    Field `json:"field"`
	Original any   `json:"original_value"`
	Updated  any   `json:"corrected_value"`
}

// Diff lists the fields whose values differ between p and other, in
// canonical field order.
func (p *Payload) Diff(other Payload) []FieldChange {
	var changes []FieldChange
	for _, f := range Fields {
		a, _ := p.Get(f)
		b, _ := other.Get(f)
		if !valuesEqual(a, b) {
			changes = append(changes, FieldChange{Field: f, Original: a, Updated: b})
		}
	}
	return changes
}

func valuesEqual(a, b any) bool {
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case []string:
		bv, ok := b.([]string)
		return ok && slices.Equal(av, bv)
	}
	return false
}

func toStringList(f Field, value any) ([]string, error) {
	switch v := value.(type) {
	case nil:
		return []string{}, nil
	case []string:
		return slices.Clone(v), nil
	case []any:
		out := make([]string, 0, len(v))
		for _, el := range v {
			s, ok := el.(string)
			if !ok {
				return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %s must be a list of strings", f))
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("field %s must be a list of strings", f))
}

func unknownField(f Field) error {
	return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("unknown field %q", string(f)))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
