package httpclient

import (
	"encoding/json"
	"fmt"
	"mime"
	nethttp "net/http"
	"slices"
)

// Response is the unmodified outcome of an attempt.
type Response struct {
	StatusCode int
	Headers    nethttp.Header
	Body       []byte
	URL        string
	Stats      Stats
}

// Status implements retry.StatusCoder. A nil response has status 0.
func (r *Response) Status() int {
	if r == nil {
		return 0
	}
	return r.StatusCode
}

// Text returns the body as a string.
func (r *Response) Text() string {
	if r == nil {
		return ""
	}
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if r == nil {
		return fmt.Errorf("decode JSON body: nil response")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode JSON body: %w", err)
	}
	return nil
}

// ContentType returns the media type without parameters.
func (r *Response) ContentType() string {
	if r == nil {
		return ""
	}
	raw := r.Headers.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil {
		return raw
	}
	return mediaType
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return IsSuccessStatus(r.Status())
}

// ExpectStatus returns an HTTP ClientError unless the status is one of codes.
func (r *Response) ExpectStatus(codes ...int) error {
	if slices.Contains(codes, r.Status()) {
		return nil
	}
	return NewHTTPError(fmt.Sprintf("unexpected status, want %v", codes), r.Status(), r.Body)
}
