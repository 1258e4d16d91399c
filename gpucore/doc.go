// Package gpucore defines the native driver contract behind blade.
//
// This package is the boundary between the backend-agnostic API in
// github.com/gogpu/blade and the drivers that talk to actual hardware:
//   - backend/native (gogpu/wgpu HAL, Metal preferred)
//   - backend/software (pure Go reference driver used by tests)
//
// # Architecture
//
//	               +-----------------+
//	               |      blade      |
//	               | Context/Encoder |
//	               +--------+--------+
//	                        |
//	               +--------v--------+
//	               |     gpucore     |
//	               | Device / Queue  |
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	|  native driver  |          | software driver |
//	|  (hal.Device)   |          |   (in memory)   |
//	+--------+--------+          +-----------------+
//	         |
//	+--------v--------+
//	|   gogpu/wgpu    |
//	| Metal / Vulkan  |
//	+-----------------+
//
// # Resource Management
//
// Native resources are named by opaque IDs ([BufferID], [TextureID], etc.).
// Drivers hand out IDs starting at 1; [InvalidID] is never a live resource.
// Each Create* call takes one reference which the matching Destroy* call
// releases. Drivers are not required to detect double destruction; the
// blade Context guarantees each ID is destroyed at most once.
//
// # Command Recording
//
// A [CommandBuffer] is obtained from a [Queue], records transfer commands
// and at most one open pass at a time, and is consumed by [Queue.Submit].
// Submission is asynchronous: drivers return as soon as the work is queued.
package gpucore
