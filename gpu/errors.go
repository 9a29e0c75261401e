package gpu

import "errors"

// Native API errors. Drivers wrap these with call-site context; callers
// test for them with errors.Is.
var (
	// ErrNoDriver is returned when no registered driver matches a request.
	ErrNoDriver = errors.New("gpu: no such driver")

	// ErrDeviceRemoved is returned by every call after the device was lost.
	// It is not recoverable.
	ErrDeviceRemoved = errors.New("gpu: device removed")

	// ErrUnsupported is returned when a driver does not implement a feature.
	ErrUnsupported = errors.New("gpu: operation not supported by driver")

	// ErrOutOfMemory is returned when a heap or resource cannot be allocated.
	ErrOutOfMemory = errors.New("gpu: out of memory")

	// ErrInvalidArgument is returned for malformed descriptors and for
	// invalid commands detected at Close or Execute time.
	ErrInvalidArgument = errors.New("gpu: invalid argument")

	// ErrInvalidState is returned when a resource is used in a state that
	// does not match the recorded barriers.
	ErrInvalidState = errors.New("gpu: resource state mismatch")

	// ErrNotMappable is returned when mapping a resource outside the
	// upload or readback heaps.
	ErrNotMappable = errors.New("gpu: resource is not CPU visible")
)
