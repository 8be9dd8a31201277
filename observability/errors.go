package observability

import "errors"

// ErrMissingServiceName is returned when telemetry is enabled without a service name.
var ErrMissingServiceName = errors.New("observability: service name is required when observability is enabled")

// ErrMissingEndpoint is returned when telemetry is enabled without an endpoint.
var ErrMissingEndpoint = errors.New("observability: endpoint is required when observability is enabled")

// ErrInvalidSampleRate is returned when the trace sample rate is outside [0.0, 1.0].
var ErrInvalidSampleRate = errors.New("observability: trace sample rate must be between 0.0 and 1.0")

// ErrInvalidProtocol is returned when the protocol is not "http" or "grpc".
var ErrInvalidProtocol = errors.New("observability: protocol must be either 'http' or 'grpc'")

// ErrInvalidEndpointFormat is returned when a gRPC endpoint carries a URL scheme.
// gRPC endpoints use the "host:port" form.
var ErrInvalidEndpointFormat = errors.New("observability: invalid endpoint format for protocol")
