// ABOUTME: The {success, result, error} reply structure returned for every command.
// ABOUTME: Decodes results that pages send either as objects or as JSON-in-a-string.

package transport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kaptinlin/jsonrepair"
)

// ErrEmptyResult indicates a successful reply that carried no result.
var ErrEmptyResult = errors.New("reply has no result")

// Result is a relay reply.
type Result struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`
}

func failed(msg string) Result {
	return Result{Success: false, Error: msg}
}

// Decode unmarshals the result into v. Pages often serialize their result
// themselves, so a JSON string holding an object is decoded as that object;
// if the string is not valid JSON it is repaired before giving up.
func (r Result) Decode(v any) error {
	raw := bytes.TrimSpace(r.Result)
	if len(raw) == 0 || string(raw) == "null" {
		return ErrEmptyResult
	}
	if raw[0] != '"' {
		return json.Unmarshal(raw, v)
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return fmt.Errorf("decoding result string: %w", err)
	}
	if err := json.Unmarshal([]byte(s), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return fmt.Errorf("repairing result: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return fmt.Errorf("decoding repaired result: %w", err)
	}
	return nil
}

// Text renders the result for display: strings unquoted, anything else as JSON.
func (r Result) Text() string {
	raw := bytes.TrimSpace(r.Result)
	var s string
	if len(raw) > 0 && raw[0] == '"' && json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(raw)
}
