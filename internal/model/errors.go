package model

import "errors"

// Error classes. Wrap with fmt.Errorf("%w: ...") and test with errors.Is.
var (
	// ErrConfig covers missing or invalid configuration. Fatal for a run.
	ErrConfig = errors.New("config error")
	// ErrInitTimeout means instance bootstrap never left the waiting state.
	ErrInitTimeout = errors.New("init timeout")
	// ErrData covers invalid timestamps and out-of-range history indexes.
	ErrData = errors.New("data error")
	// ErrOrderRejected is a local, non-fatal refusal of an order operation.
	ErrOrderRejected = errors.New("order rejected")
	// ErrResource means a container could not grow.
	ErrResource = errors.New("resource error")
)
