package httpclient

import (
	"encoding/json"
	"maps"
	"net/url"
	"strings"
	"time"

	"github.com/gaborage/apiprobe/retry"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// Request describes one logical call. Build it through RequestOption values.
type Request struct {
	Method    string
	Path      string
	Query     url.Values
	Headers   map[string]string
	Body      []byte
	JSON      any
	Form      url.Values
	Timeout   time.Duration
	VerifyTLS *bool
	Auth      *BasicAuth

	retryOpts []retry.Option
}

// RequestOption customizes a Request.
type RequestOption func(*Request)

// WithQuery adds query parameters.
func WithQuery(params map[string]string) RequestOption {
	return func(r *Request) {
		for k, v := range params {
			r.Query.Add(k, v)
		}
	}
}

// WithQueryValues adds multi-valued query parameters.
func WithQueryValues(values url.Values) RequestOption {
	return func(r *Request) {
		for k, vs := range values {
			for _, v := range vs {
				r.Query.Add(k, v)
			}
		}
	}
}

// WithJSON sends v encoded as JSON.
func WithJSON(v any) RequestOption {
	return func(r *Request) { r.JSON = v }
}

// WithBody sends raw bytes. Set Content-Type with WithHeader when needed.
func WithBody(body []byte) RequestOption {
	return func(r *Request) { r.Body = body }
}

// WithForm sends values as a URL-encoded form.
func WithForm(values url.Values) RequestOption {
	return func(r *Request) { r.Form = values }
}

// WithHeaders sets per-call headers. They win over client defaults.
func WithHeaders(headers map[string]string) RequestOption {
	return func(r *Request) { maps.Copy(r.Headers, headers) }
}

// WithHeader sets one per-call header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) { r.Headers[key] = value }
}

// WithTimeout bounds each attempt of this call.
func WithTimeout(d time.Duration) RequestOption {
	return func(r *Request) { r.Timeout = d }
}

// WithVerifyTLS overrides certificate verification for this call.
func WithVerifyTLS(verify bool) RequestOption {
	return func(r *Request) { r.VerifyTLS = &verify }
}

// WithBasicAuth sets credentials for this call.
func WithBasicAuth(username, password string) RequestOption {
	return func(r *Request) { r.Auth = &BasicAuth{Username: username, Password: password} }
}

// WithRetry overrides fields of the client's retry policy for this call.
func WithRetry(opts ...retry.Option) RequestOption {
	return func(r *Request) { r.retryOpts = append(r.retryOpts, opts...) }
}

func newRequest(method, path string, opts ...RequestOption) *Request {
	r := &Request{
		Method:  strings.ToUpper(strings.TrimSpace(method)),
		Path:    path,
		Query:   url.Values{},
		Headers: map[string]string{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// payload encodes the body once per logical call. Every attempt reads its own copy.
func (r *Request) payload() (body []byte, contentType string, err error) {
	switch {
	case r.JSON != nil:
		body, err = json.Marshal(r.JSON)
		if err != nil {
			return nil, "", NewValidationError("cannot encode JSON body: "+err.Error(), "json")
		}
		return body, contentTypeJSON, nil
	case r.Form != nil:
		return []byte(r.Form.Encode()), contentTypeForm, nil
	default:
		return r.Body, "", nil
	}
}
