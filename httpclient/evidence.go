package httpclient

import (
	"context"
	"strings"

	"github.com/gaborage/apiprobe/evidence"
)

type requestEvidence struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Timeout float64           `json:"timeout"`
	Verify  bool              `json:"verify"`
	Params  map[string]any    `json:"params"`
	JSON    any               `json:"json"`
	Data    *string           `json:"data"`
	Headers map[string]string `json:"headers"`
}

type responseEvidence struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	URL        string            `json:"url"`
}

// recordRequest attaches what is about to be sent. Failures are logged only.
func (c *client) recordRequest(ctx context.Context, cl *call) {
	info := requestEvidence{
		Method:  cl.req.Method,
		URL:     cl.url,
		Timeout: cl.timeout.Seconds(),
		Verify:  cl.verify,
		JSON:    cl.req.JSON,
	}
	if len(cl.req.Query) > 0 {
		info.Params = make(map[string]any, len(cl.req.Query))
		for k, vs := range cl.req.Query {
			if len(vs) == 1 {
				info.Params[k] = vs[0]
			} else {
				info.Params[k] = vs
			}
		}
	}
	if cl.req.JSON == nil && cl.body != nil {
		data := string(cl.body)
		info.Data = &data
	}
	if len(cl.req.Headers) > 0 {
		info.Headers = cl.req.Headers
	}

	if err := evidence.AttachJSON(ctx, c.recorder, EvidenceRequest, info); err != nil {
		c.logger.Warn().Err(err).Str("call", cl.name).Msg("Failed to attach request evidence")
	}
}

// recordResponse attaches response metadata and body. Failures are logged only.
func (c *client) recordResponse(ctx context.Context, resp *Response) {
	meta := responseEvidence{
		StatusCode: resp.StatusCode,
		Headers:    make(map[string]string, len(resp.Headers)),
		URL:        resp.URL,
	}
	for k, vs := range resp.Headers {
		meta.Headers[k] = strings.Join(vs, ", ")
	}

	if err := evidence.AttachJSON(ctx, c.recorder, EvidenceResponseMeta, meta); err != nil {
		c.logger.Warn().Err(err).Int("status", resp.StatusCode).Msg("Failed to attach response evidence")
		return
	}
	if err := evidence.SafeAttach(ctx, c.recorder, EvidenceResponseBody, resp.Text()); err != nil {
		c.logger.Warn().Err(err).Int("status", resp.StatusCode).Msg("Failed to attach response evidence")
	}
}
