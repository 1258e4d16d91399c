package native

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/blade/backend"
	"github.com/gogpu/blade/gpucore"
)

func init() {
	backend.Register(backend.DriverNative, func() backend.Driver {
		return New()
	})
}

// Driver opens HAL devices.
type Driver struct {
	backends []gputypes.Backend

	// external is set for drivers created by Adopt or FromProvider.
	external *adopted
}

type adopted struct {
	device hal.Device
	queue  hal.Queue
	name   string
}

// New creates a driver that opens the first available adapter of the
// platform's preferred HAL backend.
func New() *Driver {
	return &Driver{backends: preferredBackends}
}

// Adopt creates a driver that serves an existing HAL device and queue.
// Devices opened from the driver never destroy them.
func Adopt(device hal.Device, queue hal.Queue) *Driver {
	return &Driver{external: &adopted{device: device, queue: queue, name: "external"}}
}

// FromProvider creates a driver sharing the device of a gpucontext provider.
// The provider must implement HalDevice() any and HalQueue() any returning
// hal.Device and hal.Queue.
func FromProvider(provider gpucontext.DeviceProvider) (*Driver, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, ErrProviderNotHAL
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok || device == nil {
		return nil, fmt.Errorf("%w: HalDevice is %T", ErrProviderNotHAL, hp.HalDevice())
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("%w: HalQueue is %T", ErrProviderNotHAL, hp.HalQueue())
	}
	return Adopt(device, queue), nil
}

// Name returns the driver identifier.
func (d *Driver) Name() string {
	return backend.DriverNative
}

// Open opens the default device.
func (d *Driver) Open(opts *backend.Options) (gpucore.OpenDevice, error) {
	var o backend.Options
	if opts != nil {
		o = *opts
	}
	log := o.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	if d.external != nil {
		dev := newDevice(d.external.device, d.external.queue, nil, o, log)
		dev.caps.Name = d.external.name
		dev.caps.Backend = "external"
		return dev.open(), nil
	}

	for _, b := range d.backends {
		halBackend, ok := hal.GetBackend(b)
		if !ok {
			continue
		}
		instance, err := halBackend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
		if err != nil {
			log.Warn("native: create instance failed", "backend", backendName(b), "err", err)
			continue
		}
		adapters := instance.EnumerateAdapters(nil)
		if len(adapters) == 0 {
			instance.Destroy()
			continue
		}
		selected := selectAdapter(adapters)

		openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
		if err != nil {
			instance.Destroy()
			return gpucore.OpenDevice{}, fmt.Errorf("native: open device %q: %w: %w",
				selected.Info.Name, gpucore.ErrNoDevice, err)
		}

		log.Info("native: device opened", "adapter", selected.Info.Name, "backend", backendName(b))
		dev := newDevice(openDev.Device, openDev.Queue, instance, o, log)
		dev.caps.Name = selected.Info.Name
		dev.caps.Backend = backendName(b)
		return dev.open(), nil
	}

	return gpucore.OpenDevice{}, fmt.Errorf("%w: %w", ErrNoHALBackend, gpucore.ErrNoDevice)
}

// selectAdapter prefers discrete, then integrated GPUs, then the first adapter.
func selectAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for _, want := range []gputypes.DeviceType{gputypes.DeviceTypeDiscreteGPU, gputypes.DeviceTypeIntegratedGPU} {
		for i := range adapters {
			if adapters[i].Info.DeviceType == want {
				return &adapters[i]
			}
		}
	}
	return &adapters[0]
}
