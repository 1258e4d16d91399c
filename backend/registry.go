package backend

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/multierr"

	"github.com/gogpu/blade/gpucore"
)

// DriverFactory creates a new driver instance.
type DriverFactory func() Driver

var (
	registryMu sync.RWMutex
	drivers    = make(map[string]DriverFactory)
)

// priority is the order Open tries drivers in. Drivers missing from it
// follow in name order.
var priority = []string{DriverNative, DriverSoftware}

// Register makes a driver available under name. It is called from the
// init function of driver packages and panics on an empty name, a nil
// factory or a name registered twice.
func Register(name string, factory DriverFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if name == "" || factory == nil {
		panic("backend: Register with empty name or nil factory")
	}
	if _, dup := drivers[name]; dup {
		panic(fmt.Sprintf("backend: driver %q registered twice", name))
	}
	drivers[name] = factory
}

// Available returns the registered driver names in the order Open tries
// them.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return orderLocked()
}

func orderLocked() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return names
}

// rank is the position of name in priority, or len(priority) if absent.
func rank(name string) int {
	if i := slices.Index(priority, name); i >= 0 {
		return i
	}
	return len(priority)
}

// IsRegistered reports whether a driver is registered under name.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := drivers[name]
	return ok
}

// Get returns a new instance of the named driver, or nil.
func Get(name string) Driver {
	registryMu.RLock()
	factory, ok := drivers[name]
	registryMu.RUnlock()
	if !ok {
		return nil
	}
	return factory()
}

// Default returns the highest priority registered driver, or nil.
func Default() Driver {
	for _, name := range Available() {
		if d := Get(name); d != nil {
			return d
		}
	}
	return nil
}

// Open opens the first registered driver that finds a device, trying them
// in Available order. A driver reporting gpucore.ErrNoDevice is skipped;
// any other error ends the search and is returned with that driver.
//
// When no driver finds a device the error wraps gpucore.ErrNoDevice and
// carries each driver's reason. With nothing registered it is
// ErrBackendNotAvailable.
func Open(opts *Options) (Driver, gpucore.OpenDevice, error) {
	names := Available()
	if len(names) == 0 {
		return nil, gpucore.OpenDevice{}, ErrBackendNotAvailable
	}
	var skipped error
	for _, name := range names {
		d := Get(name)
		if d == nil {
			continue
		}
		od, err := d.Open(opts)
		if err == nil {
			if opts != nil && opts.Logger != nil && skipped != nil {
				opts.Logger.Info("backend: fell back to driver", "driver", name, "skipped", skipped)
			}
			return d, od, nil
		}
		if !errors.Is(err, gpucore.ErrNoDevice) {
			return d, gpucore.OpenDevice{}, err
		}
		skipped = multierr.Append(skipped, fmt.Errorf("%s: %w", name, err))
	}
	if skipped == nil {
		return nil, gpucore.OpenDevice{}, ErrBackendNotAvailable
	}
	return nil, gpucore.OpenDevice{}, skipped
}
