package session

import (
	"fmt"

	"github.com/vineeshareddyy/eduapp-standup-service/internal/model"
)

// InvalidStateTransitionError reports an operation invoked in a state that
// does not permit it. This is a caller error, never swallowed silently.
type InvalidStateTransitionError struct {
	Op   string
	From model.SessionState
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("session: operation %q not valid in state %s", e.Op, e.From)
}
