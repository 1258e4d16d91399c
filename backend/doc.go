// Package backend provides the pluggable driver registry behind blade.
//
// Drivers register themselves from init() functions and are selected at
// runtime by name or by priority:
//
//	import _ "github.com/gogpu/blade/backend/native"
//
//	d, dev, err := backend.Open(opts) // first driver that finds a device
//	d = backend.Get("software")       // or a specific one
//
// Open tries native before software, so a host without a usable GPU falls
// back to the software driver when both are linked in.
//
// # Available Drivers
//
//   - native: gogpu/wgpu HAL device (Metal on darwin, Vulkan elsewhere)
//   - software: in-memory reference driver used by tests and on hosts
//     without a GPU
//
// A Driver only opens devices. Everything above the device (resource
// tracking, command encoders, shader data) lives in package blade.
package backend
