package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/gaborage/apiprobe/httpbin"
	"github.com/gaborage/apiprobe/httpclient"
)

// ErrSmokeFailed is returned when at least one smoke check failed.
var ErrSmokeFailed = errors.New("smoke checks failed")

// Check outcomes
const (
	OutcomePassed  = "PASS"
	OutcomeSkipped = "SKIP"
	OutcomeFailed  = "FAIL"
)

// SmokeOptions holds options for the smoke command
type SmokeOptions struct {
	Parallel int
}

// smokeCheck is one availability probe.
type smokeCheck struct {
	name   string
	path   string
	opts   []httpclient.RequestOption
	verify func(*httpclient.Response) error
}

// CheckResult is the outcome of one smoke check.
type CheckResult struct {
	Name     string
	Outcome  string
	Status   int
	Duration time.Duration
	Err      error
}

func defaultChecks() []smokeCheck {
	return []smokeCheck{
		{
			name: "GET /get",
			path: "/get",
			opts: []httpclient.RequestOption{httpclient.WithQuery(map[string]string{"ping": "pong"})},
			verify: func(r *httpclient.Response) error {
				var body struct {
					Args map[string]string `json:"args"`
				}
				if err := r.JSON(&body); err != nil {
					return err
				}
				if body.Args["ping"] != "pong" {
					return fmt.Errorf("args not echoed: %v", body.Args)
				}
				return nil
			},
		},
		{
			name: "GET /json",
			path: "/json",
			verify: func(r *httpclient.Response) error {
				var body map[string]any
				if err := r.JSON(&body); err != nil {
					return err
				}
				if _, ok := body["slideshow"]; !ok {
					return errors.New("missing slideshow field")
				}
				return nil
			},
		},
		{
			name: "GET /html",
			path: "/html",
			verify: func(r *httpclient.Response) error {
				if ct := r.ContentType(); ct != "text/html" {
					return fmt.Errorf("unexpected content type %q", ct)
				}
				return nil
			},
		},
		{
			name: "GET /uuid",
			path: "/uuid",
			verify: func(r *httpclient.Response) error {
				var body map[string]string
				if err := r.JSON(&body); err != nil {
					return err
				}
				if body["uuid"] == "" {
					return errors.New("missing uuid field")
				}
				return nil
			},
		},
	}
}

// NewSmokeCommand creates the smoke command
func NewSmokeCommand(rt *Runtime) *cobra.Command {
	opts := &SmokeOptions{}

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run the availability smoke checks",
		Long: `Runs GET /get, /json, /html and /uuid concurrently. A check that only
sees gateway errors after all retries is reported as skipped, not failed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := rt.NewClient()
			if err != nil {
				return err
			}
			results := runSmoke(cmd.Context(), client, defaultChecks(), opts.Parallel)
			return reportSmoke(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().IntVarP(&opts.Parallel, "parallel", "p", 4, "Maximum concurrent checks")

	return cmd
}

func runSmoke(ctx context.Context, client httpclient.Client, checks []smokeCheck, parallel int) []CheckResult {
	results := make([]CheckResult, len(checks))

	var g errgroup.Group
	g.SetLimit(max(parallel, 1))
	for i, check := range checks {
		g.Go(func() error {
			results[i] = runCheck(ctx, client, check)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func runCheck(ctx context.Context, client httpclient.Client, check smokeCheck) CheckResult {
	start := time.Now()
	resp, err := client.Get(ctx, check.path, check.opts...)
	res := CheckResult{Name: check.name, Duration: time.Since(start), Status: resp.Status()}

	switch {
	case httpbin.ExhaustedOnUnavailable(err):
		res.Outcome, res.Err = OutcomeSkipped, err
	case err != nil:
		res.Outcome, res.Err = OutcomeFailed, err
	default:
		if err := httpbin.CheckStatus(resp, http.StatusOK); err != nil {
			res.Err = err
			res.Outcome = OutcomeFailed
			if errors.Is(err, httpbin.ErrServiceUnavailable) {
				res.Outcome = OutcomeSkipped
			}
			return res
		}
		if err := check.verify(resp); err != nil {
			res.Outcome, res.Err = OutcomeFailed, err
			return res
		}
		res.Outcome = OutcomePassed
	}
	return res
}

func reportSmoke(w io.Writer, results []CheckResult) error {
	var passed, skipped, failed int
	for _, r := range results {
		line := fmt.Sprintf("%-4s %-10s status=%d %s", r.Outcome, r.Name, r.Status, r.Duration.Round(time.Millisecond))
		if r.Err != nil {
			line += " (" + r.Err.Error() + ")"
		}
		fmt.Fprintln(w, line)

		switch r.Outcome {
		case OutcomePassed:
			passed++
		case OutcomeSkipped:
			skipped++
		default:
			failed++
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d skipped, %d failed\n", passed, skipped, failed)

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrSmokeFailed, failed, len(results))
	}
	return nil
}
