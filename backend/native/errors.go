package native

import "errors"

// Package errors for the HAL driver.
var (
	// ErrNoHALBackend is returned when no HAL backend is compiled in for this platform.
	ErrNoHALBackend = errors.New("native: no HAL backend available")

	// ErrProviderNotHAL is returned when a device provider does not expose HAL types.
	ErrProviderNotHAL = errors.New("native: provider does not expose HAL device")

	// errUnknownID is returned when an ID does not name a live native object.
	errUnknownID = errors.New("native: unknown object")

	// errPassOpen is returned when a transfer command is recorded inside a pass.
	errPassOpen = errors.New("native: pass still open")

	// errNoPipeline is returned when bindings are set before a pipeline.
	errNoPipeline = errors.New("native: no pipeline set")
)
