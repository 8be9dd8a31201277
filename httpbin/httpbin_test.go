package httpbin_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gaborage/apiprobe/evidence"
	"github.com/gaborage/apiprobe/httpbin"
	"github.com/gaborage/apiprobe/httpbin/stub"
	"github.com/gaborage/apiprobe/httpclient"
	"github.com/gaborage/apiprobe/logger"
	"github.com/gaborage/apiprobe/retry"
)

// expectStatus skips on service unavailability and fails on anything else
// unexpected.
func expectStatus(resp *httpclient.Response, err error, expected int) {
	GinkgoHelper()
	httpbin.SkipIfUnavailable(GinkgoT(), err)
	Expect(err).NotTo(HaveOccurred())
	httpbin.RequireStatus(GinkgoT(), resp, expected)
}

var _ = Describe("httpbin", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("smoke", func() {
		It("answers GET /get", func() {
			resp, err := client.Get(ctx, "/get", httpclient.WithQuery(map[string]string{"ping": "pong"}))
			expectStatus(resp, err, http.StatusOK)
		})
	})

	Context("request inspection", func() {
		It("echoes query parameters from GET /get", func() {
			query := factory.QueryParam()
			Expect(evidence.AttachJSON(ctx, recorder, "random_query", query)).To(Succeed())

			resp, err := client.Get(ctx, "/get", httpclient.WithQuery(query))
			expectStatus(resp, err, http.StatusOK)

			var body struct {
				Args map[string]string `json:"args"`
			}
			Expect(resp.JSON(&body)).To(Succeed())
			Expect(body.Args).To(Equal(query))
		})

		It("echoes a JSON body from POST /post", func() {
			payload := factory.UserPayload().ToMap()
			Expect(evidence.AttachJSON(ctx, recorder, "user_payload", payload)).To(Succeed())

			resp, err := client.Post(ctx, "/post", httpclient.WithJSON(payload))
			expectStatus(resp, err, http.StatusOK)

			var body struct {
				JSON map[string]any `json:"json"`
			}
			Expect(resp.JSON(&body)).To(Succeed())
			Expect(body.JSON).To(Equal(payload))
		})

		It("echoes custom headers from GET /headers", func() {
			resp, err := client.Get(ctx, "/headers", httpclient.WithHeader("X-Test-Header", "aqa-home-assignment"))
			expectStatus(resp, err, http.StatusOK)

			var body struct {
				Headers map[string]string `json:"headers"`
			}
			Expect(resp.JSON(&body)).To(Succeed())
			Expect(body.Headers).To(HaveKeyWithValue("X-Test-Header", "aqa-home-assignment"))
		})

		It("echoes the User-Agent from GET /user-agent", func() {
			const agent = "aqa-httpbin-tests/1.0"
			resp, err := client.Get(ctx, "/user-agent", httpclient.WithHeader("User-Agent", agent))
			expectStatus(resp, err, http.StatusOK)

			var body map[string]string
			Expect(resp.JSON(&body)).To(Succeed())
			Expect(body).To(HaveKeyWithValue("user-agent", agent))
		})
	})

	Context("response formats", func() {
		It("serves JSON from GET /json", func() {
			resp, err := client.Get(ctx, "/json")
			expectStatus(resp, err, http.StatusOK)

			Expect(resp.Headers.Get("Content-Type")).To(ContainSubstring("application/json"))
			var body map[string]any
			Expect(resp.JSON(&body)).To(Succeed())
			Expect(body).To(HaveKey("slideshow"))
		})

		It("serves HTML from GET /html", func() {
			resp, err := client.Get(ctx, "/html")
			expectStatus(resp, err, http.StatusOK)

			Expect(resp.ContentType()).To(Equal("text/html"))
			Expect(strings.ToLower(resp.Text())).To(ContainSubstring("<html"))
		})
	})

	Context("dynamic data", func() {
		It("returns distinct version 4 UUIDs from GET /uuid", func() {
			first, err := client.Get(ctx, "/uuid")
			expectStatus(first, err, http.StatusOK)
			second, err := client.Get(ctx, "/uuid")
			expectStatus(second, err, http.StatusOK)

			ids := make([]string, 0, 2)
			for _, resp := range []*httpclient.Response{first, second} {
				var body struct {
					UUID string `json:"uuid"`
				}
				Expect(resp.JSON(&body)).To(Succeed())
				parsed, err := uuid.Parse(body.UUID)
				Expect(err).NotTo(HaveOccurred())
				Expect(parsed.Version()).To(Equal(uuid.Version(4)))
				ids = append(ids, body.UUID)
			}
			Expect(ids[0]).NotTo(Equal(ids[1]))
		})
	})

	Context("evidence", func() {
		It("records request and response of every call", func() {
			recorder.Reset()
			resp, err := client.Get(ctx, "/get")
			expectStatus(resp, err, http.StatusOK)

			Expect(recorder.Find(httpclient.EvidenceRequest)).NotTo(BeEmpty())
			Expect(recorder.Find(httpclient.EvidenceResponseMeta)).NotTo(BeEmpty())
			Expect(recorder.Find(httpclient.EvidenceResponseBody)).NotTo(BeEmpty())
		})
	})
})

var _ = Describe("retries against a flaky stub", func() {
	var (
		flaky *stub.Stub
		srv   *httptest.Server
		rec   *evidence.Memory
	)

	newClient := func(attempts int) httpclient.Client {
		policy, err := retry.NewPolicy(
			retry.WithAttempts(attempts),
			retry.WithInitialDelay(time.Millisecond),
			retry.WithJitter(0),
		)
		Expect(err).NotTo(HaveOccurred())
		c, err := httpclient.NewBuilder(logger.Nop()).
			WithBaseURL(srv.URL).
			WithRetryPolicy(policy).
			WithRecorder(rec).
			Build()
		Expect(err).NotTo(HaveOccurred())
		return c
	}

	BeforeEach(func() {
		if os.Getenv(LiveEnv) == "1" {
			Skip("flaky stub scenarios only run offline")
		}
		rec = evidence.NewMemory()
		flaky = stub.New(logger.Nop(), stub.WithFlakiness(2, http.StatusServiceUnavailable))
		srv = httptest.NewServer(flaky)
		DeferCleanup(srv.Close)
	})

	It("succeeds once the service recovers", func() {
		resp, err := newClient(3).Get(context.Background(), "/get", httpclient.WithQuery(map[string]string{"ping": "pong"}))

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Stats.Attempt).To(Equal(3))
		Expect(flaky.Hits()).To(Equal(int64(3)))
		Expect(rec.Find(httpclient.EvidenceRequest)).To(HaveLen(3))
	})

	It("reports exhaustion on a transient status", func() {
		resp, err := newClient(2).Get(context.Background(), "/get")

		Expect(resp).To(BeNil())
		Expect(retry.IsRetryableStatus(err)).To(BeTrue())
		Expect(httpbin.ExhaustedOnUnavailable(err)).To(BeTrue())
		Expect(flaky.Hits()).To(Equal(int64(2)))
	})

	It("stops retrying at a status outside the policy", func() {
		resp, err := newClient(3).Get(context.Background(), "/status/404")

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		Expect(resp.Stats.Attempt).To(Equal(3))
		Expect(flaky.Hits()).To(Equal(int64(3)))
	})
})
