package httpbin_test

import (
	"net/http/httptest"
	"os"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gaborage/apiprobe/config"
	"github.com/gaborage/apiprobe/datafactory"
	"github.com/gaborage/apiprobe/evidence"
	"github.com/gaborage/apiprobe/httpbin/stub"
	"github.com/gaborage/apiprobe/httpclient"
	"github.com/gaborage/apiprobe/logger"
	"github.com/gaborage/apiprobe/retry"
)

// LiveEnv switches the suite from the in-process stub to the configured base URL.
const LiveEnv = "APIPROBE_LIVE"

var (
	client   httpclient.Client
	recorder *evidence.Memory
	factory  *datafactory.Factory
	server   *httptest.Server
)

func TestHttpbin(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Httpbin Acceptance Suite")
}

var _ = BeforeSuite(func() {
	recorder = evidence.NewMemory()
	factory = datafactory.New(0)
	log := logger.NewWithWriter(GinkgoWriter, "warn", false)

	if os.Getenv(LiveEnv) == "1" {
		cfg, err := config.Load()
		Expect(err).NotTo(HaveOccurred())
		client, err = httpclient.NewFromConfig(cfg, log, recorder)
		Expect(err).NotTo(HaveOccurred())
		GinkgoWriter.Printf("Running against %s\n", cfg.BaseURL)
		return
	}

	server = httptest.NewServer(stub.New(log))
	policy, err := retry.NewPolicy(
		retry.WithAttempts(3),
		retry.WithInitialDelay(10*time.Millisecond),
		retry.WithJitter(0),
	)
	Expect(err).NotTo(HaveOccurred())

	client, err = httpclient.NewBuilder(log).
		WithBaseURL(server.URL).
		WithTimeout(5 * time.Second).
		WithRetryPolicy(policy).
		WithRecorder(recorder).
		Build()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if server != nil {
		server.Close()
	}
})
