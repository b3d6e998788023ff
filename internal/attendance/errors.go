package attendance

import "errors"

// ErrInvalidTransition rejects status changes the lifecycle does not allow:
// resolving a slot that was never booked, or moving between terminal states.
var ErrInvalidTransition = errors.New("attendance: invalid status transition")
