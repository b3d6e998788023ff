package users

import "errors"

// ErrUserNotFound is returned when no user matches the given name.
var ErrUserNotFound = errors.New("users: user not found")

// ErrNotRegistered is returned when an operation names a patient that never
// registered. Kept distinct from ErrUserNotFound so handlers can answer 400
// instead of 404: the appointment exists, the booker does not.
var ErrNotRegistered = errors.New("users: user not registered")
