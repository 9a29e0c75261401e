package rtcore

import "errors"

// Renderer errors.
var (
	// ErrClosed is returned by every Renderer method after Close.
	ErrClosed = errors.New("rtcore: renderer is closed")

	// ErrNoScene is returned by Render before a scene was loaded.
	ErrNoScene = errors.New("rtcore: no scene loaded")

	// ErrInvalidView is returned for a camera that does not define a view
	// direction.
	ErrInvalidView = errors.New("rtcore: invalid view")
)
