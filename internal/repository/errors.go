// Package repository defines the persistence contracts used by the
// reservation engine and its MySQL implementation.  The sentinel errors
// below let higher layers tell a missing row from a genuine failure
// without depending on a particular driver.
package repository

import "errors"

// ErrNotFound is returned when a requested offering, time slot or
// booking does not exist.  The engine translates it into a validation
// or authorization error depending on the operation.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert collides with a uniqueness
// constraint, such as a second time slot for the same offering and
// start time.  Handlers should translate this into an HTTP 409
// response.
var ErrConflict = errors.New("conflict")
