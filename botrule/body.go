// CLAUDE:SUMMARY Request body ingestion and required-field validation; writes status 600 {ret,err} on failure.
package botrule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// StatusBadParam is the non-standard status written for malformed bodies and
// missing required fields.
const StatusBadParam = 600

const missingParamMsg = "参数错误。缺少必要参数："

// ReadBody drains r into a string. It blocks until the stream ends and
// returns the stream's error if it fails. No size limit is applied here;
// shield.MaxBody bounds it at the transport.
func ReadBody(r io.Reader) (string, error) {
	var sb strings.Builder
	if _, err := io.Copy(&sb, r); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Payload is a parsed JSON body: either a Single value or a Batch of values.
type Payload interface {
	// Items returns the values in order; a Single yields one element.
	Items() []json.RawMessage
}

// Single is a body that was one JSON value (object, string, number...).
type Single struct{ Value json.RawMessage }

// Batch is a body that was a JSON array.
type Batch struct{ Values []json.RawMessage }

func (s Single) Items() []json.RawMessage { return []json.RawMessage{s.Value} }
func (b Batch) Items() []json.RawMessage  { return b.Values }

// BodyError is a malformed-body or missing-field failure. Msg is what the
// client sees in the "err" field.
type BodyError struct {
	Msg   string
	Field string // set for missing required fields
}

func (e *BodyError) Error() string { return e.Msg }

// ParseAndValidate parses raw as JSON and checks that every required field is
// present on the value, or on each element when the value is an array. A
// field set to null counts as present. The first missing field fails the
// whole body.
func ParseAndValidate(raw string, required ...string) (Payload, error) {
	var root json.RawMessage
	if err := json.Unmarshal([]byte(raw), &root); err != nil {
		return nil, &BodyError{Msg: err.Error()}
	}

	var p Payload
	trimmed := bytes.TrimSpace(root)
	if trimmed[0] == '[' {
		var values []json.RawMessage
		if err := json.Unmarshal(trimmed, &values); err != nil {
			return nil, &BodyError{Msg: err.Error()}
		}
		p = Batch{Values: values}
	} else {
		p = Single{Value: json.RawMessage(trimmed)}
	}

	if len(required) == 0 {
		return p, nil
	}
	for _, item := range p.Items() {
		if err := checkRequired(item, required); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// checkRequired fails on the first required key absent from v. Values that
// are not objects have no properties, so every key is missing.
func checkRequired(v json.RawMessage, required []string) error {
	var fields map[string]json.RawMessage
	if len(v) > 0 && v[0] == '{' {
		if err := json.Unmarshal(v, &fields); err != nil {
			return &BodyError{Msg: err.Error()}
		}
	}
	for _, f := range required {
		if _, ok := fields[f]; !ok {
			return &BodyError{Msg: missingParamMsg + f, Field: f}
		}
	}
	return nil
}

// ParseJSONBody reads and validates the request body. On failure it writes
// status 600 with {"ret":1,"err":"..."} and returns false; the caller must
// stop handling the request.
func ParseJSONBody(w http.ResponseWriter, r *http.Request, required ...string) (Payload, bool) {
	raw, err := ReadBody(r.Body)
	if err != nil {
		writeBodyError(w, fmt.Errorf("read body: %w", err))
		return nil, false
	}
	p, err := ParseAndValidate(raw, required...)
	if err != nil {
		writeBodyError(w, err)
		return nil, false
	}
	return p, true
}

type bodyErrorResponse struct {
	Ret int    `json:"ret"`
	Err string `json:"err"`
}

func writeBodyError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusBadParam, bodyErrorResponse{Ret: 1, Err: err.Error()})
}
