package fixtures

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Step is one scripted outcome of a RoundTrip: either a response or an error.
type Step struct {
	Status  int
	Body    string
	Headers http.Header
	Err     error
}

// Status returns a step answering with status and an empty body.
func Status(code int) Step {
	return Step{Status: code}
}

// JSON returns a step answering with status and v encoded as JSON.
func JSON(code int, v any) Step {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("fixtures: cannot encode %T: %v", v, err))
	}
	return Step{
		Status:  code,
		Body:    string(raw),
		Headers: http.Header{"Content-Type": []string{"application/json"}},
	}
}

// Fail returns a step that fails the round trip with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedTransport is an http.RoundTripper that plays back steps in order.
// Once the script is exhausted the last step repeats. It records every request
// it receives and is safe for concurrent use.
//
// Example usage:
//
//	rt := fixtures.NewScriptedTransport(fixtures.Status(503), fixtures.Status(503), fixtures.JSON(200, body))
//	client, _ := httpclient.NewBuilder(log).WithTransport(rt).Build()
type ScriptedTransport struct {
	mu       sync.Mutex
	steps    []Step
	requests []*http.Request
	bodies   [][]byte
}

// NewScriptedTransport creates a transport playing back steps.
func NewScriptedTransport(steps ...Step) *ScriptedTransport {
	if len(steps) == 0 {
		steps = []Step{Status(http.StatusOK)}
	}
	return &ScriptedTransport{steps: steps}
}

// RoundTrip implements http.RoundTripper
func (s *ScriptedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}

	s.mu.Lock()
	idx := len(s.requests)
	s.requests = append(s.requests, req.Clone(req.Context()))
	s.bodies = append(s.bodies, body)
	step := s.steps[min(idx, len(s.steps)-1)]
	s.mu.Unlock()

	if step.Err != nil {
		return nil, step.Err
	}

	headers := step.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	return &http.Response{
		StatusCode:    step.Status,
		Status:        fmt.Sprintf("%d %s", step.Status, http.StatusText(step.Status)),
		Header:        headers,
		Body:          io.NopCloser(bytes.NewBufferString(step.Body)),
		ContentLength: int64(len(step.Body)),
		Request:       req,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
	}, nil
}

// Calls returns the number of round trips performed.
func (s *ScriptedTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns the recorded requests in order.
func (s *ScriptedTransport) Requests() []*http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Request(nil), s.requests...)
}

// Body returns the request body sent in the i-th round trip.
func (s *ScriptedTransport) Body(i int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.bodies) {
		return nil
	}
	return s.bodies[i]
}
