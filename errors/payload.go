package errors

import (
	"encoding/json"
	"strings"
)

// Payload is the plain form of a structured backend error body.
type Payload struct {
	Code    string
	Message string
}

type payloadBody struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
	Errors  []struct {
		Code    json.RawMessage `json:"code"`
		Message string          `json:"message"`
	} `json:"errors"`
}

// FromPayload extracts the message of a JSON error body embedded in err's text.
// Supported shapes are {"message":..}, {"error":"..."}, {"error":{"message":..}}
// and {"errors":[{"message":..}]}. ok is false when no body is found.
func FromPayload(err error) (Payload, bool) {
	if err == nil {
		return Payload{}, false
	}
	text := err.Error()
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Payload{}, false
	}

	var body payloadBody
	if jsonErr := json.Unmarshal([]byte(text[start:end+1]), &body); jsonErr != nil {
		return Payload{}, false
	}

	p := Payload{Code: rawString(body.Code), Message: body.Message}
	if len(body.Error) > 0 {
		var s string
		if json.Unmarshal(body.Error, &s) == nil {
			if p.Message == "" {
				p.Message = s
			}
		} else {
			var nested payloadBody
			if json.Unmarshal(body.Error, &nested) == nil {
				if nested.Message != "" {
					p.Message = nested.Message
				}
				if c := rawString(nested.Code); c != "" {
					p.Code = c
				}
			}
		}
	}
	if p.Message == "" && len(body.Errors) > 0 {
		p.Message = body.Errors[0].Message
		if p.Code == "" {
			p.Code = rawString(body.Errors[0].Code)
		}
	}
	if p.Message == "" {
		return Payload{}, false
	}
	return p, true
}

// rawString renders a JSON string or number code as plain text.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
