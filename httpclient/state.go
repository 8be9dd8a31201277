package httpclient

// CallState is the lifecycle of one logical call.
//
//	PENDING -> SENDING -> {SUCCEEDED, RETRYING, FAILED}
//	RETRYING -> SENDING
type CallState string

const (
	StatePending   CallState = "PENDING"
	StateSending   CallState = "SENDING"
	StateRetrying  CallState = "RETRYING"
	StateSucceeded CallState = "SUCCEEDED"
	StateFailed    CallState = "FAILED"
)

func (s CallState) String() string { return string(s) }

// Terminal reports whether no further transition can happen.
func (s CallState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}
