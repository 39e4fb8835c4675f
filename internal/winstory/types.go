// Package winstory defines the record, payload, and story types shared by the
// normalizer, the refresh coordinator, and the record-source adapters.
package winstory

import (
	"encoding/json"
	"fmt"
	"maps"
)

// RawPayload is the unparsed story field as delivered by the record store.
// The zero value is the absent payload.
type RawPayload struct {
	Value string
	Valid bool
}

// Payload wraps a present field value.
func Payload(s string) RawPayload {
	return RawPayload{Value: s, Valid: true}
}

// Scan implements sql.Scanner so nullable text columns scan directly.
func (p *RawPayload) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*p = RawPayload{}
	case string:
		*p = Payload(v)
	case []byte:
		*p = Payload(string(v))
	default:
		return fmt.Errorf("cannot scan %T into RawPayload", src)
	}
	return nil
}

// StoryRecord is one normalized win story. Keys other than the three required
// ones are carried in Extra unvalidated.
type StoryRecord struct {
	ID           string         `json:"id"`
	CustomerName string         `json:"customerName"`
	Summary      string         `json:"summary"`
	Extra        map[string]any `json:"-"`
}

// MarshalJSON emits Extra inline next to the required fields.
func (s StoryRecord) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+3)
	maps.Copy(out, s.Extra)
	out["id"] = s.ID
	out["customerName"] = s.CustomerName
	out["summary"] = s.Summary
	return json.Marshal(out)
}

// StoryCollection keeps source order; duplicates are not removed.
type StoryCollection []StoryRecord

// Limit returns at most n leading stories. n <= 0 returns the whole collection.
func (c StoryCollection) Limit(n int) StoryCollection {
	if n <= 0 || n >= len(c) {
		return c
	}
	return c[:n]
}

// Record is a host record as seen by the story widget.
type Record struct {
	ID     string
	Fields map[string]RawPayload
}

// Field returns the named field, or the absent payload when the record does
// not carry it.
func (r *Record) Field(name string) RawPayload {
	if r == nil || r.Fields == nil {
		return RawPayload{}
	}
	return r.Fields[name]
}

// RecordEvent is one delivery from a record source. Exactly one of Record and
// Err is set.
type RecordEvent struct {
	Record *Record
	Err    error
}
