package eawb

import (
	"encoding/json"
	"strings"
)

// ProviderError is a failure reported by the shipping backend. The backend
// nests the carrier's own error payload under api_response in several shapes:
// an errors array of objects or strings, or a free-form details value.
// Summary carries the backend's top-level error/message, Details the
// flattened per-item messages.
type ProviderError struct {
	Action  string
	Summary string
	Details []string
}

func (e *ProviderError) Error() string {
	joined := strings.Join(e.Details, "; ")
	switch {
	case e.Summary != "" && joined != "":
		return e.Summary + ": " + joined
	case e.Summary != "":
		return e.Summary
	case joined != "":
		return joined
	default:
		return "shipping request failed"
	}
}

type apiErrorEnvelope struct {
	Success     bool             `json:"success"`
	Error       string           `json:"error"`
	Message     string           `json:"message"`
	APIResponse *apiErrorDetails `json:"api_response"`
}

type apiErrorDetails struct {
	Errors  []json.RawMessage `json:"errors"`
	Details json.RawMessage   `json:"details"`
}

// parseProviderError flattens a failure body into a ProviderError. Unknown
// shapes degrade to their raw JSON so the operator still sees something.
func parseProviderError(action string, body []byte) *ProviderError {
	perr := &ProviderError{Action: action}

	var env apiErrorEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		perr.Summary = strings.TrimSpace(string(body))
		return perr
	}

	perr.Summary = env.Error
	if perr.Summary == "" {
		perr.Summary = env.Message
	}

	if env.APIResponse == nil {
		return perr
	}

	for _, raw := range env.APIResponse.Errors {
		if msg := flattenDetailItem(raw); msg != "" {
			perr.Details = append(perr.Details, msg)
		}
	}

	if len(env.APIResponse.Details) > 0 {
		if msg := flattenDetailItem(env.APIResponse.Details); msg != "" {
			perr.Details = append(perr.Details, msg)
		}
	}

	return perr
}

// flattenDetailItem extracts a human-readable message from one detail entry.
// Objects are probed for message/error fields, plain strings pass through,
// anything else is rendered as its JSON.
func flattenDetailItem(raw json.RawMessage) string {
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	return string(raw)
}
