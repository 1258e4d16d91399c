// Package software provides an in-memory reference driver for blade.
//
// The driver implements the gpucore contract without a GPU. Buffer and
// texture bytes live in Go slices, transfer commands (fill, copy) execute
// at submission, and compute dispatches and draws are appended to a trace
// that tests can inspect through [Device.Trace].
//
// Importing the package registers the driver under the name "software":
//
//	import _ "github.com/gogpu/blade/backend/software"
//
// Tests usually construct the driver directly so they can inspect the
// device after use:
//
//	drv := software.New()
//	ctx, err := blade.New(blade.ContextDesc{Driver: drv})
//	...
//	if n := drv.Device().Live(); n != 0 {
//		t.Errorf("%d resources leaked", n)
//	}
package software
