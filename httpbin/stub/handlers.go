package stub

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// echoed mirrors the body httpbin returns from its method endpoints.
type echoed struct {
	Args    map[string]any    `json:"args"`
	Data    string            `json:"data"`
	Files   map[string]any    `json:"files"`
	Form    map[string]any    `json:"form"`
	Headers map[string]string `json:"headers"`
	JSON    any               `json:"json"`
	Method  string            `json:"method,omitempty"`
	Origin  string            `json:"origin"`
	URL     string            `json:"url"`
}

// getEchoed is the /get shape, which carries no body fields.
type getEchoed struct {
	Args    map[string]any    `json:"args"`
	Headers map[string]string `json:"headers"`
	Origin  string            `json:"origin"`
	URL     string            `json:"url"`
}

func (s *Stub) echoRequest(c echo.Context) error {
	req := c.Request()
	if req.Method == http.MethodGet && c.Path() == "/get" {
		return c.JSON(http.StatusOK, getEchoed{
			Args:    flatten(req.URL.Query()),
			Headers: flattenHeaders(req),
			Origin:  c.RealIP(),
			URL:     fullURL(c),
		})
	}

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "read body: "+err.Error())
	}

	out := echoed{
		Args:    flatten(req.URL.Query()),
		Data:    string(raw),
		Files:   map[string]any{},
		Form:    map[string]any{},
		Headers: flattenHeaders(req),
		Origin:  c.RealIP(),
		URL:     fullURL(c),
	}
	if strings.HasPrefix(c.Path(), "/anything") {
		out.Method = req.Method
	}

	contentType := req.Header.Get(echo.HeaderContentType)
	switch {
	case strings.HasPrefix(contentType, echo.MIMEApplicationJSON):
		var v any
		if len(raw) > 0 && json.Unmarshal(raw, &v) == nil {
			out.JSON = v
		}
	case strings.HasPrefix(contentType, echo.MIMEApplicationForm):
		if form, err := url.ParseQuery(string(raw)); err == nil {
			out.Form = flatten(form)
			out.Data = ""
		}
	}

	return c.JSON(http.StatusOK, out)
}

func headers(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"headers": flattenHeaders(c.Request())})
}

func userAgent(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"user-agent": c.Request().UserAgent()})
}

func newUUID(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"uuid": uuid.NewString()})
}

func status(c echo.Context) error {
	code, err := strconv.Atoi(c.Param("code"))
	if err != nil || code < 100 || code > 599 {
		return c.String(http.StatusBadRequest, "Invalid status code")
	}
	return c.NoContent(code)
}

func slideshow(c echo.Context) error {
	return c.JSONBlob(http.StatusOK, []byte(slideshowJSON))
}

func mobyDick(c echo.Context) error {
	return c.HTML(http.StatusOK, mobyDickHTML)
}

// flatten turns single-valued entries into strings and keeps lists otherwise.
func flatten(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
			continue
		}
		out[k] = v
	}
	return out
}

func flattenHeaders(req *http.Request) map[string]string {
	out := make(map[string]string, len(req.Header)+1)
	for k, v := range req.Header {
		out[k] = strings.Join(v, ",")
	}
	if req.Host != "" {
		out["Host"] = req.Host
	}
	return out
}

func fullURL(c echo.Context) string {
	return c.Scheme() + "://" + c.Request().Host + c.Request().URL.RequestURI()
}

const slideshowJSON = `{
  "slideshow": {
    "author": "Yours Truly",
    "date": "date of publication",
    "slides": [
      {
        "title": "Wake up to WonderWidgets!",
        "type": "all"
      },
      {
        "items": [
          "Why <em>WonderWidgets</em> are great",
          "Who <em>buys</em> WonderWidgets"
        ],
        "title": "Overview",
        "type": "all"
      }
    ],
    "title": "Sample Slide Show"
  }
}
`

const mobyDickHTML = `<!DOCTYPE html>
<html>
  <head>
  </head>
  <body>
      <h1>Herman Melville - Moby-Dick</h1>

      <div>
        <p>
          Availing himself of the mild, summer-cool weather that now reigned in these latitudes,
          and in preparation for the peculiarly active pursuits shortly to be anticipated,
          Perth, the begrimed, blistered old blacksmith, had not removed his portable forge
          to the hold again, after concluding his contributory work for Ahab's leg.
        </p>
      </div>
  </body>
</html>`
