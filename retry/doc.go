// Package retry runs operations under a bounded retry policy.
//
// A Policy decides how many attempts an operation gets, how long to wait
// between them and which outcomes count as transient. Errors are classified
// by ErrorKind predicates; successful results that expose a status code
// (StatusCoder) are retried when the status is listed in the policy. The
// Executor applies a policy, logging each retry and recording one span per
// logical call.
//
//	exec := retry.NewExecutor(policy, log)
//	resp, err := retry.Do(ctx, exec, "GET /status/503", func(ctx context.Context) (*httpclient.Response, error) {
//		return send(ctx)
//	})
package retry
