package eawb

import (
	"testing"
)

func TestParseProviderError(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected string
	}{
		{
			name:     "top_level_error_with_object_detail",
			body:     `{"success":false,"error":"Validation failed","api_response":{"errors":[{"message":"Invalid postal code"}]}}`,
			expected: "Validation failed: Invalid postal code",
		},
		{
			name:     "multiple_details_joined",
			body:     `{"success":false,"error":"Validation failed","api_response":{"errors":[{"message":"Invalid postal code"},{"message":"Weight exceeds limit"}]}}`,
			expected: "Validation failed: Invalid postal code; Weight exceeds limit",
		},
		{
			name:     "string_details",
			body:     `{"success":false,"error":"Carrier rejected request","api_response":{"errors":["service unavailable","try again later"]}}`,
			expected: "Carrier rejected request: service unavailable; try again later",
		},
		{
			name:     "error_field_instead_of_message",
			body:     `{"success":false,"error":"Commit failed","api_response":{"errors":[{"error":"COD not supported on this route"}]}}`,
			expected: "Commit failed: COD not supported on this route",
		},
		{
			name:     "message_fallback_when_no_error",
			body:     `{"success":false,"message":"Upstream timeout"}`,
			expected: "Upstream timeout",
		},
		{
			name:     "details_field_string",
			body:     `{"success":false,"error":"Bad request","api_response":{"details":"missing pickup address"}}`,
			expected: "Bad request: missing pickup address",
		},
		{
			name:     "unknown_detail_shape_stringified",
			body:     `{"success":false,"error":"Odd payload","api_response":{"errors":[{"code":42,"reason":"x"}]}}`,
			expected: `Odd payload: {"code":42,"reason":"x"}`,
		},
		{
			name:     "no_summary_details_only",
			body:     `{"success":false,"api_response":{"errors":[{"message":"Unknown carrier"}]}}`,
			expected: "Unknown carrier",
		},
		{
			name:     "empty_body_generic_fallback",
			body:     `{"success":false}`,
			expected: "shipping request failed",
		},
		{
			name:     "non_json_body_passed_through",
			body:     `upstream exploded`,
			expected: "upstream exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			perr := parseProviderError("create_order", []byte(tt.body))
			if perr.Error() != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, perr.Error())
			}
			if perr.Action != "create_order" {
				t.Errorf("Expected action create_order, got %q", perr.Action)
			}
		})
	}
}
