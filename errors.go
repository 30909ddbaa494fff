package statusx

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no status record exists for a job id. This is
// a normal outcome for expired or never-enqueued ids, not a fault.
var ErrNotFound = errors.New("status record not found")

// ErrAlreadyExists is returned when creating a record for a job id that is
// already tracked. Guards a live record against being reset by a duplicate
// enqueue.
var ErrAlreadyExists = errors.New("status record already exists")

// ErrKilled is returned by Tick once a kill has been requested. Job bodies
// should return it (or an error wrapping it) to stop; the processor treats
// it as a kill, not a failure.
var ErrKilled = errors.New("job killed")

// IllegalTransitionError reports an attempted status change that violates
// the transition graph. It indicates a programming error in the caller.
type IllegalTransitionError struct {
	From Status
	To   Status
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal status transition %s -> %s", e.From, e.To)
}
