// Package testing provides test utilities for apiprobe packages.
//
// # Mocks
//
// The mocks subpackage provides a capturing logger.Logger that records every
// emitted entry and a testify-based evidence.Recorder.
//
// # Fixtures
//
// The fixtures subpackage provides a scripted http.RoundTripper that answers
// requests from a queue of canned responses and errors, and helpers to build
// those responses.
//
// # Usage
//
//	import (
//		"github.com/gaborage/apiprobe/testing/mocks"
//		"github.com/gaborage/apiprobe/testing/fixtures"
//	)
package testing
