package backend

import (
	"errors"
	"log/slog"

	"github.com/gogpu/blade/gpucore"
)

// Driver names.
const (
	// DriverNative is the HAL driver (Metal on darwin, Vulkan elsewhere).
	DriverNative = "native"

	// DriverSoftware is the in-memory reference driver.
	DriverSoftware = "software"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested driver is not registered.
	ErrBackendNotAvailable = errors.New("backend: not available")
)

// Options configures how a driver opens its device.
type Options struct {
	// Validation enables driver-side validation such as WGSL
	// front-end checks at shader creation.
	Validation bool

	// Label is used for the native device and queue debug labels.
	Label string

	// Logger receives driver diagnostics. Nil discards them.
	Logger *slog.Logger
}

// Driver opens native devices.
//
// Drivers must be registered via Register() and are selected via
// Get() or Default(), or handed to blade.New directly.
type Driver interface {
	// Name returns the driver identifier (e.g., "native", "software").
	Name() string

	// Open opens the default device of the driver.
	// It returns an error wrapping gpucore.ErrNoDevice when no compatible
	// adapter is present.
	Open(opts *Options) (gpucore.OpenDevice, error)
}
