// Package native provides the hardware driver for blade on top of the
// pure Go gogpu/wgpu HAL.
//
// On darwin the driver opens a Metal device; elsewhere it opens Vulkan.
// Importing the package registers the driver under the name "native":
//
//	import _ "github.com/gogpu/blade/backend/native"
//
// # Device Sharing
//
// A host that already owns a wgpu device (for example a gogpu window)
// can hand it to blade instead of letting the driver open a second one:
//
//	drv, err := native.FromProvider(app.DeviceProvider())
//	ctx, err := blade.New(blade.ContextDesc{Driver: drv})
//
// The adopted device is never destroyed by blade.
//
// # Submission
//
// Every submission signals one fence with a monotonically increasing
// value. Transient objects (fill staging buffers, uniform buffers, bind
// groups, command buffers) and resources destroyed while still in flight
// are released once the GPU has passed their fence value. Completion is
// polled without blocking at each submit and drained by WaitIdle.
package native
