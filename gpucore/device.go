package gpucore

import (
	"errors"
	"time"
)

// Driver error kinds. Drivers wrap these so the core can classify failures.
var (
	// ErrNoDevice is returned when no compatible adapter is present.
	ErrNoDevice = errors.New("gpucore: no compatible device")

	// ErrOutOfMemory is returned when an allocation fails.
	ErrOutOfMemory = errors.New("gpucore: out of memory")

	// ErrDeviceLost is returned after the device became unusable.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrCompile is returned when the driver rejects a shader or pipeline.
	ErrCompile = errors.New("gpucore: compilation failed")

	// ErrTimeout is returned when a wait did not complete in time.
	ErrTimeout = errors.New("gpucore: timeout")

	// ErrUnsupported is returned when the device cannot provide a requested
	// pipeline state or feature.
	ErrUnsupported = errors.New("gpucore: unsupported by device")
)

// OpenDevice is a device and its queue, as returned by a driver.
type OpenDevice struct {
	Device Device
	Queue  Queue
}

// Device abstracts a native GPU device.
//
// Resource lifecycle:
//   - Resources are created via Create* methods
//   - Resources must be explicitly destroyed via Destroy* methods
//   - Destroying a resource still referenced by queued work is allowed;
//     the driver keeps it alive until the work completes
//   - IDs become invalid after destruction and must not be reused
//
// Calls are serialized by the caller.
type Device interface {
	// Capabilities returns the limits of the device.
	Capabilities() Capabilities

	// CreateBuffer creates a buffer.
	CreateBuffer(desc *BufferDesc) (BufferID, error)

	// DestroyBuffer releases a buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer copies data into a host-visible buffer.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// ReadBuffer copies bytes out of a host-visible buffer into dst.
	// The caller waits for the queue to drain first. Drivers may block
	// on a staging copy of their own.
	ReadBuffer(id BufferID, offset uint64, dst []byte) error

	// CreateTexture creates a texture.
	CreateTexture(desc *TextureDesc) (TextureID, error)

	// DestroyTexture releases a texture.
	DestroyTexture(id TextureID)

	// CreateTextureView creates a view of a texture.
	CreateTextureView(desc *TextureViewDesc) (TextureViewID, error)

	// DestroyTextureView releases a texture view.
	DestroyTextureView(id TextureViewID)

	// CreateShaderModule compiles a shader module.
	CreateShaderModule(desc *ShaderModuleDesc) (ShaderModuleID, error)

	// DestroyShaderModule releases a shader module.
	DestroyShaderModule(id ShaderModuleID)

	// CreateComputePipeline creates a compute pipeline.
	CreateComputePipeline(desc *ComputePipelineDesc) (ComputePipelineID, error)

	// DestroyComputePipeline releases a compute pipeline.
	DestroyComputePipeline(id ComputePipelineID)

	// CreateRenderPipeline creates a render pipeline.
	CreateRenderPipeline(desc *RenderPipelineDesc) (RenderPipelineID, error)

	// DestroyRenderPipeline releases a render pipeline.
	DestroyRenderPipeline(id RenderPipelineID)

	// Destroy releases the device. The queue must be idle.
	Destroy()
}

// Queue abstracts a native command queue.
type Queue interface {
	// CreateCommandBuffer begins a new command buffer.
	CreateCommandBuffer(label string) (CommandBuffer, error)

	// Submit enqueues a finished command buffer and returns without waiting.
	Submit(cb CommandBuffer) error

	// WaitIdle blocks until all submitted work has completed
	// or the timeout elapses (ErrTimeout).
	WaitIdle(timeout time.Duration) error
}

// CommandBuffer records native commands in call order.
type CommandBuffer interface {
	// FillBuffer sets size bytes starting at offset to value.
	FillBuffer(id BufferID, offset, size uint64, value byte) error

	// CopyBufferToBuffer copies size bytes between buffers.
	CopyBufferToBuffer(src BufferID, srcOffset uint64, dst BufferID, dstOffset uint64, size uint64) error

	// CopyBufferToTexture copies texel rows from a buffer into a texture.
	CopyBufferToTexture(region *BufferTextureCopy) error

	// BeginComputePass opens a compute pass.
	BeginComputePass(label string) ComputePassEncoder

	// BeginRenderPass opens a render pass.
	BeginRenderPass(desc *RenderPassDesc) RenderPassEncoder

	// Discard abandons the recording and releases native memory.
	Discard()
}

// ComputePassEncoder records compute commands.
type ComputePassEncoder interface {
	SetPipeline(id ComputePipelineID)
	SetBindings(group uint32, bindings []Binding) error
	Dispatch(x, y, z uint32)
	End()
}

// RenderPassEncoder records draw commands.
type RenderPassEncoder interface {
	SetPipeline(id RenderPipelineID)
	SetBindings(group uint32, bindings []Binding) error
	Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32)
	End()
}
