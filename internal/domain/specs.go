package domain

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"
)

type SpecKind string

const (
	SpecString SpecKind = "string"
	SpecNumber SpecKind = "number"
	SpecBool   SpecKind = "bool"
)

// SpecValue holds exactly one primitive. Objects and arrays are rejected when
// decoding.
type SpecValue struct {
	Kind SpecKind
	Str  string
	Num  float64
	Bool bool
}

func StringSpec(v string) SpecValue  { return SpecValue{Kind: SpecString, Str: v} }
func NumberSpec(v float64) SpecValue { return SpecValue{Kind: SpecNumber, Num: v} }
func BoolSpec(v bool) SpecValue      { return SpecValue{Kind: SpecBool, Bool: v} }

func (v SpecValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case SpecString:
		return json.Marshal(v.Str)
	case SpecNumber:
		return json.Marshal(v.Num)
	case SpecBool:
		return json.Marshal(v.Bool)
	}
	return nil, errors.Newf("spec value has no kind")
}

func (v *SpecValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errors.Wrap(ErrInvalidInput, "empty spec value")
	}
	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringSpec(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolSpec(b)
	case '{', '[', 'n':
		return errors.Wrapf(ErrInvalidInput, "spec values must be string, number or bool, got %s", string(data))
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*v = NumberSpec(n)
	}
	return nil
}

// Specifications are free-form attributes of a booking (grade, dimensions,
// delivery notes) that the engine stores but never interprets.
type Specifications map[string]SpecValue

type SpecField struct {
	Kind     SpecKind `json:"kind"`
	Required bool     `json:"required,omitempty"`
}

// SpecSchema describes the specifications an offering category accepts.
type SpecSchema map[string]SpecField

func (s SpecSchema) validateSelf() error {
	for name, f := range s {
		switch f.Kind {
		case SpecString, SpecNumber, SpecBool:
		default:
			return errors.Wrapf(ErrInvalidInput, "spec field %q has unknown kind %q", name, f.Kind)
		}
	}
	return nil
}

// Validate checks specs against the schema. An empty schema accepts no
// specifications at all.
func (s SpecSchema) Validate(specs Specifications) error {
	var problems []string
	for name, v := range specs {
		f, ok := s[name]
		switch {
		case !ok:
			problems = append(problems, name+": not allowed")
		case f.Kind != v.Kind:
			problems = append(problems, name+": expected "+string(f.Kind))
		}
	}
	for name, f := range s {
		if _, ok := specs[name]; f.Required && !ok {
			problems = append(problems, name+": required")
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.Wrapf(ErrInvalidInput, "specifications: %s", strings.Join(problems, "; "))
}
