package dispatcher

import "fmt"

// PanicError reports a processor that panicked during a tick.
type PanicError struct {
	Job   string
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("processor %s panicked: %v", e.Job, e.Value)
}
