package backend

import (
	"encoding/json"
	"net/http"
	"strings"
)

// Action is a single backend method invocation inside a request envelope.
type Action struct {
	Method         string         `json:"method"`
	Params         map[string]any `json:"params,omitempty"`
	AcceptWarnings []int          `json:"acceptWarnings,omitempty"`
}

// SessionQuery reads attributes of the backend's own session object.
type SessionQuery struct {
	Get []string `json:"get"`
}

// Request is the action/set/get envelope accepted by every business endpoint of the backend.
type Request struct {
	Actions    []Action       `json:"actions,omitempty"`
	Set        map[string]any `json:"set,omitempty"`
	Get        []string       `json:"get,omitempty"`
	ObjectName string         `json:"objectName,omitempty"`
	Session    *SessionQuery  `json:"session,omitempty"`
}

// Credentials is the authentication payload posted to the session endpoint.
type Credentials struct {
	UserID   string `json:"userid"`
	Password string `json:"password"`
}

// Response is the raw outcome of a backend call. Non-2xx statuses are not errors.
type Response struct {
	Status  int
	Header  http.Header
	Raw     []byte
	Body    any
	Path    string
	Payload any
}

// OK reports whether the backend answered with a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Object returns the parsed body when it is a JSON object.
func (r *Response) Object() (map[string]any, bool) {
	if r == nil {
		return nil, false
	}
	obj, ok := r.Body.(map[string]any)
	return obj, ok
}

// Data returns the "data" member of a JSON object body, or nil.
func (r *Response) Data() map[string]any {
	obj, ok := r.Object()
	if !ok {
		return nil
	}
	data, _ := obj["data"].(map[string]any)
	return data
}

// Text returns the body as text.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Raw)
}

// Debug exposes the request/response pair for client-side diagnostics.
func (r *Response) Debug() map[string]any {
	if r == nil {
		return nil
	}
	return map[string]any{
		"request":  r.Payload,
		"response": r.Body,
		"status":   r.Status,
	}
}

// ParseBody decodes a JSON body, falling back to the raw text. It never fails.
func ParseBody(raw []byte) any {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return string(raw)
	}
	var parsed any
	if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
		return string(raw)
	}
	return parsed
}
