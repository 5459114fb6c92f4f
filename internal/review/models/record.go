package models

import (
	"fmt"
	"strings"

	dErrors "dhruv/pkg/domain-errors"
)

// Entities are the named entities the upstream parser extracted from a post.
type Entities struct {
	People        []string `json:"people"`
	Organisations []string `json:"organisations"`
	Schemes       []string `json:"schemes"`
	Communities   []string `json:"communities"`
}

// RawParseRecord is one record produced by the upstream parser. It is never
// modified after decoding; review state lives on ReviewItem.
type RawParseRecord struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	EventType  string   `json:"event_type"`
	Location   string   `json:"location"`
	District   string   `json:"district"`
	Entities   Entities `json:"entities"`
	Confidence float64  `json:"confidence"`
}

// Validate checks the fields every record must carry.
func (r *RawParseRecord) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return dErrors.New(dErrors.CodeValidation, "record id is required")
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("confidence %v outside [0,1]", r.Confidence))
	}
	return nil
}

// Payload returns the correctable view of the record.
func (r *RawParseRecord) Payload() Payload {
	p := Payload{
		EventType:     r.EventType,
		Location:      r.Location,
		District:      r.District,
		People:        append([]string(nil), r.Entities.People...),
		Organisations: append([]string(nil), r.Entities.Organisations...),
		Schemes:       append([]string(nil), r.Entities.Schemes...),
		Communities:   append([]string(nil), r.Entities.Communities...),
	}
	p.Normalize()
	return p
}
