package dispatch

import "errors"

var (
	// ErrNotAssignedRider is returned when a status advance comes from a
	// rider other than the one holding the delivery.
	ErrNotAssignedRider = errors.New("rider is not assigned to this delivery")
	// ErrPersistence is returned when the coupled registry and order-store
	// mutations could not both be applied; any partial change has been
	// rolled back.
	ErrPersistence = errors.New("persistence failure, assignment rolled back")
)
