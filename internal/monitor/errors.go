package monitor

import "errors"

// Policy violations. Never retried.
var (
	ErrUnsafeURL      = errors.New("unsafe url")
	ErrSourceDisabled = errors.New("source is disabled")
)

// Data and configuration faults. Never retried.
var (
	ErrNotFound       = errors.New("record not found")
	ErrSourceNotFound = errors.New("source not found")
	ErrTenantMismatch = errors.New("source belongs to a different org")
	ErrUnknownAdapter = errors.New("unknown adapter kind")
	ErrInvalidConfig  = errors.New("invalid source config")
)

// ErrInvalidTransition is returned by stores when a state change is not
// allowed from the record's current state.
var ErrInvalidTransition = errors.New("invalid state transition")

var permanent = []error{
	ErrUnsafeURL,
	ErrSourceDisabled,
	ErrSourceNotFound,
	ErrTenantMismatch,
	ErrUnknownAdapter,
	ErrInvalidConfig,
}

// IsPermanent reports whether err must dead-letter without another attempt.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range permanent {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
