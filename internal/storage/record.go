package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

var (
	// ErrInvalidJSON is returned when a request body is not parseable JSON.
	ErrInvalidJSON = errors.New("invalid JSON")

	// ErrInvalidRecord is returned when a body parses but is missing
	// required fields or carries them with the wrong types.
	ErrInvalidRecord = errors.New("request body does not contain required fields or they have wrong types")
)

// Record is a single user entry. ID is minted once by the store that
// creates the record and never changes afterwards.
type Record struct {
	ID       string   `json:"id" msgpack:"id"`
	Username string   `json:"username" msgpack:"username"`
	Age      int      `json:"age" msgpack:"age"`
	Hobbies  []string `json:"hobbies" msgpack:"hobbies"`
}

// RecordData is the client-supplied part of a Record.
type RecordData struct {
	Username string
	Age      int
	Hobbies  []string
}

// Clone returns a deep copy of r so callers can't alias the hobbies slice.
func (r Record) Clone() Record {
	r.Hobbies = slices.Clone(r.Hobbies)
	if r.Hobbies == nil {
		r.Hobbies = []string{}
	}
	return r
}

// CloneRecords deep-copies a slice of records, preserving order.
func CloneRecords(in []Record) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// ParseRecordData decodes and validates a create/update body.
//
// All three fields are required: username must be a non-empty string,
// age a non-negative integer and hobbies an array of strings (possibly empty).
func ParseRecordData(body []byte) (RecordData, error) {
	var raw struct {
		Username *string    `json:"username"`
		Age      *float64   `json:"age"`
		Hobbies  *[]*string `json:"hobbies"`
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return RecordData{}, ErrInvalidRecord
	}

	if err := json.Unmarshal(body, &raw); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return RecordData{}, fmt.Errorf("%w: field %s", ErrInvalidRecord, typeErr.Field)
		}
		return RecordData{}, ErrInvalidJSON
	}

	if raw.Username == nil || *raw.Username == "" {
		return RecordData{}, ErrInvalidRecord
	}
	if raw.Age == nil || *raw.Age < 0 || *raw.Age != math.Trunc(*raw.Age) || *raw.Age > math.MaxInt32 {
		return RecordData{}, ErrInvalidRecord
	}
	if raw.Hobbies == nil {
		return RecordData{}, ErrInvalidRecord
	}
	hobbies := make([]string, 0, len(*raw.Hobbies))
	for _, h := range *raw.Hobbies {
		// null decodes to a nil element
		if h == nil {
			return RecordData{}, ErrInvalidRecord
		}
		hobbies = append(hobbies, *h)
	}

	return RecordData{
		Username: *raw.Username,
		Age:      int(*raw.Age),
		Hobbies:  hobbies,
	}, nil
}
