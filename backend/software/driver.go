package software

import (
	"sync"

	"github.com/gogpu/blade/backend"
	"github.com/gogpu/blade/gpucore"
)

func init() {
	backend.Register(backend.DriverSoftware, func() backend.Driver {
		return New()
	})
}

// DefaultCapabilities are the limits reported by devices of a driver
// created with New.
var DefaultCapabilities = gpucore.Capabilities{
	Name:                      "Software Reference Device",
	Backend:                   backend.DriverSoftware,
	MaxBufferSize:             1 << 30,
	MaxTextureDimension2D:     8192,
	MaxWorkgroupSize:          [3]uint32{256, 256, 64},
	MaxWorkgroupsPerDimension: 65535,
}

// Driver opens in-memory devices.
//
// Driver is safe for concurrent use.
type Driver struct {
	mu   sync.Mutex
	caps gpucore.Capabilities
	last *Device
}

// New creates a driver whose devices report DefaultCapabilities.
func New() *Driver {
	return NewWithCapabilities(DefaultCapabilities)
}

// NewWithCapabilities creates a driver whose devices report caps.
func NewWithCapabilities(caps gpucore.Capabilities) *Driver {
	return &Driver{caps: caps}
}

// Name returns the driver identifier.
func (d *Driver) Name() string {
	return backend.DriverSoftware
}

// Open creates a new device and its queue.
func (d *Driver) Open(opts *backend.Options) (gpucore.OpenDevice, error) {
	var o backend.Options
	if opts != nil {
		o = *opts
	}

	dev := newDevice(d.caps, o)

	d.mu.Lock()
	d.last = dev
	d.mu.Unlock()

	return gpucore.OpenDevice{Device: dev, Queue: &Queue{dev: dev}}, nil
}

// Device returns the most recently opened device, or nil.
func (d *Driver) Device() *Device {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}
