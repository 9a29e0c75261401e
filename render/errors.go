package render

import "errors"

var (
	// ErrHeapExhausted is returned when a descriptor heap has no room
	// left. Heaps never grow.
	ErrHeapExhausted = errors.New("render: descriptor heap exhausted")

	// ErrInvalidUsage is returned for empty or conflicting usage flags.
	ErrInvalidUsage = errors.New("render: invalid usage")

	// ErrOutOfBounds is returned when a copy or write exceeds a resource.
	ErrOutOfBounds = errors.New("render: out of bounds")

	// ErrListClosed is returned when recording on or closing a closed
	// command list.
	ErrListClosed = errors.New("render: command list is closed")

	// ErrListInFlight is returned when resetting a command list whose
	// work has not completed.
	ErrListInFlight = errors.New("render: command list is in flight")

	// ErrQueueClosed is returned by a command queue after Close.
	ErrQueueClosed = errors.New("render: command queue is closed")
)
