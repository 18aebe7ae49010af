package problem

import (
	"encoding/json"
	"net/http"
)

const (
	contentType = "application/problem+json"
	baseTypeURL = "https://errors.wallet-settlement.dev/"

	// TraceHeader carries the request trace id in both directions.
	TraceHeader = "X-Trace-ID"
)

// Details represents RFC 7807 Problem Details. InvalidParams and
// AttemptsRemaining are extension members.
type Details struct {
	Type              string         `json:"type"`
	Title             string         `json:"title"`
	Status            int            `json:"status"`
	Detail            string         `json:"detail"`
	Instance          string         `json:"instance"`
	RequestID         string         `json:"request_id"`
	InvalidParams     []InvalidParam `json:"invalid_params,omitempty"`
	AttemptsRemaining *int           `json:"attempts_remaining,omitempty"`
}

// InvalidParam names one rejected request field.
type InvalidParam struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

type Option func(*Details)

func WithInvalidParams(params ...InvalidParam) Option {
	return func(d *Details) { d.InvalidParams = append(d.InvalidParams, params...) }
}

func WithAttemptsRemaining(n int) Option {
	return func(d *Details) { d.AttemptsRemaining = &n }
}

func Type(slug string) string {
	return baseTypeURL + slug
}

// Write sends RFC 7807-compliant errors.
func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string, opts ...Option) {
	if title == "" {
		title = http.StatusText(status)
	}
	if problemType == "" {
		problemType = "about:blank"
	}
	d := Details{
		Type:      problemType,
		Title:     title,
		Status:    status,
		Detail:    detail,
		RequestID: w.Header().Get(TraceHeader),
	}
	if r != nil {
		d.Instance = r.URL.Path
		if d.RequestID == "" {
			d.RequestID = r.Header.Get(TraceHeader)
		}
	}
	for _, opt := range opts {
		opt(&d)
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}
