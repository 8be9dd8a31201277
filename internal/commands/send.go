package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaborage/apiprobe/httpbin"
	"github.com/gaborage/apiprobe/httpclient"
	"github.com/gaborage/apiprobe/retry"
)

// SendOptions holds options for the send command
type SendOptions struct {
	Query    []string
	Headers  []string
	JSON     string
	Data     string
	Timeout  time.Duration
	Insecure bool
	Attempts int
	Expect   int
}

// NewSendCommand creates the send command
func NewSendCommand(rt *Runtime) *cobra.Command {
	opts := &SendOptions{}

	cmd := &cobra.Command{
		Use:   "send METHOD PATH",
		Short: "Send one retrying request and print the response",
		Long: `Sends a single logical request to the configured base URL. Gateway
statuses and transport errors are retried according to the retry policy.`,
		Example: `  # Echo query parameters
  apiprobe send GET /get -q ping=pong

  # Post a JSON body with a custom header
  apiprobe send POST /post --json '{"name":"Ada"}' -H X-Test:1`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, rt, opts, args[0], args[1])
		},
	}

	cmd.Flags().StringArrayVarP(&opts.Query, "query", "q", nil, "Query parameter as key=value (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.Headers, "header", "H", nil, "Header as key:value (repeatable)")
	cmd.Flags().StringVar(&opts.JSON, "json", "", "JSON request body")
	cmd.Flags().StringVar(&opts.Data, "data", "", "Raw request body")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "Per-attempt timeout (default from config)")
	cmd.Flags().BoolVar(&opts.Insecure, "insecure", false, "Skip TLS certificate verification")
	cmd.Flags().IntVar(&opts.Attempts, "attempts", 0, "Override the number of attempts")
	cmd.Flags().IntVar(&opts.Expect, "expect", 0, "Fail unless the response has this status")
	cmd.MarkFlagsMutuallyExclusive("json", "data")

	return cmd
}

func runSend(cmd *cobra.Command, rt *Runtime, opts *SendOptions, method, path string) error {
	reqOpts, err := opts.requestOptions()
	if err != nil {
		return err
	}

	client, err := rt.NewClient()
	if err != nil {
		return err
	}

	resp, err := client.Do(cmd.Context(), method, path, reqOpts...)
	if err != nil {
		if httpbin.ExhaustedOnUnavailable(err) {
			return fmt.Errorf("service unavailable after retries: %w", err)
		}
		return err
	}

	printResponse(cmd.OutOrStdout(), resp)

	if opts.Expect != 0 {
		return resp.ExpectStatus(opts.Expect)
	}
	return nil
}

func (o *SendOptions) requestOptions() ([]httpclient.RequestOption, error) {
	var out []httpclient.RequestOption

	if len(o.Query) > 0 {
		query, err := parsePairs(o.Query, "=")
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		out = append(out, httpclient.WithQuery(query))
	}
	if len(o.Headers) > 0 {
		headers, err := parsePairs(o.Headers, ":")
		if err != nil {
			return nil, fmt.Errorf("header: %w", err)
		}
		out = append(out, httpclient.WithHeaders(headers))
	}

	switch {
	case o.JSON != "":
		var body any
		if err := json.Unmarshal([]byte(o.JSON), &body); err != nil {
			return nil, fmt.Errorf("invalid --json body: %w", err)
		}
		out = append(out, httpclient.WithJSON(body))
	case o.Data != "":
		out = append(out, httpclient.WithBody([]byte(o.Data)))
	}

	if o.Timeout > 0 {
		out = append(out, httpclient.WithTimeout(o.Timeout))
	}
	if o.Insecure {
		out = append(out, httpclient.WithVerifyTLS(false))
	}
	if o.Attempts > 0 {
		out = append(out, httpclient.WithRetry(retry.WithAttempts(o.Attempts)))
	}
	return out, nil
}

// parsePairs splits "key<sep>value" items; later duplicates win.
func parsePairs(items []string, sep string) (map[string]string, error) {
	out := make(map[string]string, len(items))
	for _, item := range items {
		k, v, ok := strings.Cut(item, sep)
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("%q is not key%svalue", item, sep)
		}
		out[k] = strings.TrimSpace(v)
	}
	return out, nil
}

func printResponse(w io.Writer, resp *httpclient.Response) {
	fmt.Fprintf(w, "HTTP %d (attempt %d, %s)\n", resp.StatusCode, resp.Stats.Attempt,
		resp.Stats.ElapsedTime.Round(time.Millisecond))
	if ct := resp.Headers.Get("Content-Type"); ct != "" {
		fmt.Fprintf(w, "Content-Type: %s\n", ct)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, resp.Text())
}
