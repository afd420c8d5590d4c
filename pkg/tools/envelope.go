package tools

import (
	"encoding/json"

	sctxerrors "github.com/leoric-crown/shared-context-server/pkg/errors"
)

// Envelope is the uniform response shape every tool returns. On the wire a
// success is flat — {"success":true, ...payload fields} — and a failure is
// {"success":false, "error":..., "code":..., "severity":..., "recoverable":...};
// MarshalJSON below produces both shapes. The Data field exists so in-process
// callers (and tests) can reach the typed payload without re-decoding JSON.
type Envelope struct {
	Success     bool
	Data        any
	Error       string
	Code        string
	Severity    string
	Recoverable bool
	Details     map[string]any
	Suggestions []string
}

// Ok wraps a successful tool result.
func Ok(data any) Envelope {
	return Envelope{Success: true, Data: data}
}

// Fail converts any error into the failure envelope shape, preserving the
// structured fields of *errors.Error when present and otherwise reporting
// it as an opaque internal error.
func Fail(err error) Envelope {
	if sErr, ok := sctxerrors.As(err); ok {
		return Envelope{
			Success:     false,
			Error:       sErr.Message,
			Code:        string(sErr.Code),
			Severity:    string(sErr.Severity),
			Recoverable: sErr.Recoverable,
			Details:     sErr.Details,
			Suggestions: sErr.Suggestions,
		}
	}
	return Envelope{
		Success:  false,
		Error:    "an internal error occurred",
		Code:     string(sctxerrors.CodeInternal),
		Severity: string(sctxerrors.SeverityCritical),
	}
}

// MarshalJSON spreads a successful payload's fields into the top level of
// the envelope, so callers see {success:true, token:...} rather than a
// nested data object. A payload that doesn't marshal to a JSON object
// falls back to a "data" key rather than being dropped.
func (e Envelope) MarshalJSON() ([]byte, error) {
	if !e.Success {
		type failure struct {
			Success     bool           `json:"success"`
			Error       string         `json:"error"`
			Code        string         `json:"code"`
			Severity    string         `json:"severity"`
			Recoverable bool           `json:"recoverable"`
			Details     map[string]any `json:"details,omitempty"`
			Suggestions []string       `json:"suggestions,omitempty"`
		}
		return json.Marshal(failure{
			Success:     false,
			Error:       e.Error,
			Code:        e.Code,
			Severity:    e.Severity,
			Recoverable: e.Recoverable,
			Details:     e.Details,
			Suggestions: e.Suggestions,
		})
	}

	out := map[string]any{"success": true}
	if e.Data != nil {
		encoded, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		var fields map[string]any
		if err := json.Unmarshal(encoded, &fields); err != nil {
			out["data"] = json.RawMessage(encoded)
		} else {
			for k, v := range fields {
				if k == "success" {
					continue
				}
				out[k] = v
			}
		}
	}
	return json.Marshal(out)
}
