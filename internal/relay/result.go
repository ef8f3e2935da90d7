package relay

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EdgeBlockMessage is shown when the CDN keeps blocking after all retries.
const EdgeBlockMessage = "The service is temporarily blocking requests from your network. Please try again in a minute or switch networks."

// edgeBlockSignature is matched case-insensitively against 403 bodies.
const edgeBlockSignature = "cloudfront"

// Result is the normalized envelope returned for every relayed call.
type Result struct {
	OK               bool            `json:"ok"`
	Status           int             `json:"status"`
	Data             json.RawMessage `json:"data,omitempty"`
	Kind             ErrorKind       `json:"kind,omitempty"`
	Detail           string          `json:"detail,omitempty"`
	IsTransientBlock bool            `json:"isTransientBlock,omitempty"`
	Message          string          `json:"message,omitempty"`
	Attempts         int             `json:"-"`
}

// Err returns nil for successful results and an *Error otherwise.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	return &Error{Kind: r.Kind, Status: r.Status, Detail: r.Detail}
}

func failure(kind ErrorKind, status int, detail string) Result {
	return Result{OK: false, Status: status, Kind: kind, Detail: detail, Message: detail}
}

func isEdgeBlock(status int, body []byte) bool {
	return status == 403 && bytes.Contains(bytes.ToLower(body), []byte(edgeBlockSignature))
}

// decodeBody returns the body as JSON, wrapping non-JSON text as {"raw": "..."}.
func decodeBody(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	wrapped, err := json.Marshal(map[string]string{"raw": string(body)})
	if err != nil {
		return nil
	}
	return wrapped
}

// errorBody covers the error shapes the upstream is known to return:
// JSON-API error arrays, flat message/detail fields, and nested error objects.
type errorBody struct {
	Errors []struct {
		Status string `json:"status"`
		Code   string `json:"code"`
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
	Message string          `json:"message"`
	Detail  string          `json:"detail"`
	Error   json.RawMessage `json:"error"`
}

// ErrorDetail extracts the human-readable detail from an upstream error body.
func ErrorDetail(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		var raw struct {
			Raw string `json:"raw"`
		}
		if json.Unmarshal(data, &raw) == nil {
			return strings.TrimSpace(raw.Raw)
		}
		return ""
	}

	for _, e := range body.Errors {
		if e.Detail != "" {
			return e.Detail
		}
		if e.Title != "" {
			return e.Title
		}
	}
	if body.Message != "" {
		return body.Message
	}
	if body.Detail != "" {
		return body.Detail
	}
	if len(body.Error) > 0 {
		var s string
		if json.Unmarshal(body.Error, &s) == nil {
			return s
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &nested) == nil {
			return nested.Message
		}
	}

	var raw struct {
		Raw string `json:"raw"`
	}
	if json.Unmarshal(data, &raw) == nil {
		return strings.TrimSpace(raw.Raw)
	}
	return ""
}

// ErrorCode returns the first JSON-API error code, if any.
func ErrorCode(data json.RawMessage) string {
	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return ""
	}
	for _, e := range body.Errors {
		if e.Code != "" {
			return e.Code
		}
	}
	return ""
}
