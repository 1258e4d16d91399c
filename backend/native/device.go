package native

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/blade/backend"
	"github.com/gogpu/blade/gpucore"
)

// maxWorkgroupsPerDimension is the WebGPU default limit for dispatch sizes.
const maxWorkgroupsPerDimension = 65535

// destroyTimeout bounds the wait for in-flight work in Destroy.
const destroyTimeout = 5 * time.Second

// readTimeout bounds the wait for a staging copy in ReadBuffer.
const readTimeout = 5 * time.Second

// copyAlignment is the required alignment of buffer copy offsets and sizes.
const copyAlignment = 4

// shared is a HAL object referenced by the device table and by command
// buffers that recorded it. free runs once the last reference is dropped.
type shared struct {
	refs int // guarded by Device.mu
	free func()
}

func newShared(free func()) shared {
	return shared{refs: 1, free: free}
}

type bufferEntry struct {
	shared
	raw    hal.Buffer
	size   uint64
	memory gpucore.MemoryKind
}

type textureEntry struct {
	shared
	raw  hal.Texture
	desc gpucore.TextureDesc
}

// viewEntry holds a reference on its texture until the view is freed.
type viewEntry struct {
	shared
	raw hal.TextureView
}

// pipelineLayout is the HAL layout state shared by both pipeline kinds.
type pipelineLayout struct {
	groups []hal.BindGroupLayout
	layout hal.PipelineLayout
	descs  []gpucore.BindGroupLayoutDesc
}

type computeEntry struct {
	shared
	pipelineLayout
	raw hal.ComputePipeline
}

type renderEntry struct {
	shared
	pipelineLayout
	raw hal.RenderPipeline
}

// Device implements gpucore.Device on a hal.Device.
//
// Thread Safety: Device is safe for concurrent use from multiple goroutines.
// All resource maps are protected by a mutex.
type Device struct {
	mu       sync.RWMutex
	device   hal.Device
	queue    hal.Queue
	instance hal.Instance
	caps     gpucore.Capabilities
	opts     backend.Options
	log      *slog.Logger
	tracker  *tracker

	// ID generation
	nextID atomic.Uint64

	// Resource tracking maps gpucore IDs to hal resources
	buffers  map[gpucore.BufferID]*bufferEntry
	textures map[gpucore.TextureID]*textureEntry
	views    map[gpucore.TextureViewID]*viewEntry
	modules  map[gpucore.ShaderModuleID]hal.ShaderModule
	computes map[gpucore.ComputePipelineID]*computeEntry
	renders  map[gpucore.RenderPipelineID]*renderEntry
}

// newDevice wraps an open HAL device. instance is nil for adopted devices,
// which are never destroyed.
func newDevice(device hal.Device, queue hal.Queue, instance hal.Instance, opts backend.Options, log *slog.Logger) *Device {
	lim := gputypes.DefaultLimits()
	d := &Device{
		device:   device,
		queue:    queue,
		instance: instance,
		opts:     opts,
		log:      log,
		caps: gpucore.Capabilities{
			MaxBufferSize:             lim.MaxBufferSize,
			MaxTextureDimension2D:     lim.MaxTextureDimension2D,
			MaxWorkgroupSize:          [3]uint32{lim.MaxComputeWorkgroupSizeX, lim.MaxComputeWorkgroupSizeY, lim.MaxComputeWorkgroupSizeZ},
			MaxWorkgroupsPerDimension: maxWorkgroupsPerDimension,
		},
		buffers:  make(map[gpucore.BufferID]*bufferEntry),
		textures: make(map[gpucore.TextureID]*textureEntry),
		views:    make(map[gpucore.TextureViewID]*viewEntry),
		modules:  make(map[gpucore.ShaderModuleID]hal.ShaderModule),
		computes: make(map[gpucore.ComputePipelineID]*computeEntry),
		renders:  make(map[gpucore.RenderPipelineID]*renderEntry),
	}

	// Start ID generation at 1 (0 is invalid)
	d.nextID.Store(1)
	return d
}

// open starts submission tracking and returns the device with its queue.
func (d *Device) open() gpucore.OpenDevice {
	d.tracker = newTracker(d.queue, d.log)
	return gpucore.OpenDevice{Device: d, Queue: &Queue{dev: d}}
}

// drop releases one reference from each object and frees those that
// reached zero. Free functions run without the device lock.
func (d *Device) drop(objs ...*shared) {
	var frees []func()
	d.mu.Lock()
	for _, o := range objs {
		o.refs--
		if o.refs == 0 {
			frees = append(frees, o.free)
		}
	}
	d.mu.Unlock()
	run(frees)
}

// newID generates a unique resource ID.
func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Capabilities returns the limits of the device.
func (d *Device) Capabilities() gpucore.Capabilities {
	return d.caps
}

// label prefixes a debug label with the device label, if any.
func (d *Device) label(s string) string {
	if d.opts.Label == "" || s == "" {
		return s
	}
	return d.opts.Label + "/" + s
}

// CreateBuffer creates a buffer in the heap matching desc.Memory.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: d.label(desc.Label),
		Size:  desc.Size,
		Usage: bufferUsage(desc.Memory),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create buffer %q: %w: %w", desc.Label, gpucore.ErrOutOfMemory, err)
	}

	id := gpucore.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = &bufferEntry{
		shared: newShared(func() { d.device.DestroyBuffer(raw) }),
		raw:    raw,
		size:   desc.Size,
		memory: desc.Memory,
	}
	d.mu.Unlock()

	d.log.Debug("native: buffer created", "id", id, "label", desc.Label, "size", desc.Size, "memory", desc.Memory)
	return id, nil
}

// DestroyBuffer releases a buffer once no recorded or in-flight command
// buffer uses it.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	entry, ok := d.buffers[id]
	delete(d.buffers, id)
	d.mu.Unlock()
	if ok {
		d.drop(&entry.shared)
	}
}

func (d *Device) buffer(id gpucore.BufferID) (*bufferEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	entry, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %d", errUnknownID, id)
	}
	return entry, nil
}

// WriteBuffer copies data into a host-visible buffer through the queue.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	entry, err := d.buffer(id)
	if err != nil {
		return err
	}
	if err := d.queue.WriteBuffer(entry.raw, offset, data); err != nil {
		return fmt.Errorf("native: write buffer %d: %w", id, err)
	}
	return nil
}

// ReadBuffer copies bytes out of a host-visible buffer. Shared buffers are
// mapped directly; other buffers are copied into a mapped staging buffer
// first.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	entry, err := d.buffer(id)
	if err != nil {
		return err
	}
	if offset+uint64(len(dst)) > entry.size {
		return fmt.Errorf("native: read %d bytes at %d exceeds buffer of %d", len(dst), offset, entry.size)
	}
	if entry.memory == gpucore.MemoryShared {
		return d.readMapped(entry.raw, offset, dst)
	}
	return d.readStaged(entry, offset, dst)
}

// readMapped copies len(dst) bytes at offset out of a mappable buffer.
// Non-coherent memory is read as is; the HAL exposes no invalidate call.
func (d *Device) readMapped(raw hal.Buffer, offset uint64, dst []byte) error {
	m, err := d.device.MapBuffer(raw, offset, uint64(len(dst)))
	if err != nil {
		return fmt.Errorf("native: map buffer: %w", err)
	}
	copy(dst, unsafe.Slice((*byte)(m.Ptr), len(dst)))
	if err := d.device.UnmapBuffer(raw); err != nil {
		return fmt.Errorf("native: unmap buffer: %w", err)
	}
	return nil
}

// readStaged copies the range into a MapRead staging buffer, waits for the
// copy and reads the staging buffer.
func (d *Device) readStaged(src *bufferEntry, offset uint64, dst []byte) error {
	start := offset &^ (copyAlignment - 1)
	end := min(alignUp(offset+uint64(len(dst)), copyAlignment), src.size)
	span := end - start

	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: d.label("read_staging"),
		Size:  span,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("native: read staging: %w: %w", gpucore.ErrOutOfMemory, err)
	}
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: d.label("readback")})
	if err != nil {
		d.device.DestroyBuffer(staging)
		return fmt.Errorf("native: readback encoder: %w: %w", gpucore.ErrDeviceLost, err)
	}
	if err := enc.BeginEncoding(d.label("readback")); err != nil {
		d.device.DestroyBuffer(staging)
		return fmt.Errorf("native: begin readback: %w: %w", gpucore.ErrDeviceLost, err)
	}
	enc.CopyBufferToBuffer(src.raw, staging, []hal.BufferCopy{{SrcOffset: start, DstOffset: 0, Size: span}})
	cb, err := enc.EndEncoding()
	if err != nil {
		d.device.DestroyBuffer(staging)
		return fmt.Errorf("native: end readback: %w", err)
	}
	index, err := d.tracker.submit([]hal.CommandBuffer{cb})
	if err != nil {
		d.device.FreeCommandBuffer(cb)
		d.device.DestroyBuffer(staging)
		return fmt.Errorf("native: submit readback: %w: %w", gpucore.ErrDeviceLost, err)
	}
	defer d.tracker.after(index, func() {
		d.device.FreeCommandBuffer(cb)
		d.device.DestroyBuffer(staging)
	})

	if err := d.tracker.wait(index, readTimeout); err != nil {
		return err
	}
	return d.readMapped(staging, offset-start, dst)
}

// CreateTexture creates a texture.
func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	depth := desc.Size.Depth
	if desc.Dimension != gpucore.TextureDimension3D {
		depth = desc.ArrayLayerCount
	}
	raw, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         d.label(desc.Label),
		Size:          hal.Extent3D{Width: desc.Size.Width, Height: desc.Size.Height, DepthOrArrayLayers: depth},
		MipLevelCount: desc.MipLevelCount,
		SampleCount:   1,
		Dimension:     textureDimension(desc.Dimension),
		Format:        textureFormat(desc.Format),
		Usage:         textureUsage(desc.Usage),
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: create texture %q: %w: %w", desc.Label, gpucore.ErrOutOfMemory, err)
	}

	id := gpucore.TextureID(d.newID())
	d.mu.Lock()
	d.textures[id] = &textureEntry{
		shared: newShared(func() { d.device.DestroyTexture(raw) }),
		raw:    raw,
		desc:   *desc,
	}
	d.mu.Unlock()

	d.log.Debug("native: texture created", "id", id, "label", desc.Label, "format", desc.Format)
	return id, nil
}

// DestroyTexture releases a texture once its views are gone and no
// recorded or in-flight command buffer uses it.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	entry, ok := d.textures[id]
	delete(d.textures, id)
	d.mu.Unlock()
	if ok {
		d.drop(&entry.shared)
	}
}

// CreateTextureView creates a view of a texture.
func (d *Device) CreateTextureView(desc *gpucore.TextureViewDesc) (gpucore.TextureViewID, error) {
	d.mu.Lock()
	tex, ok := d.textures[desc.Texture]
	if ok {
		tex.refs++
	}
	d.mu.Unlock()
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w: texture %d", errUnknownID, desc.Texture)
	}

	raw, err := d.device.CreateTextureView(tex.raw, &hal.TextureViewDescriptor{
		Label:           d.label(desc.Label),
		Format:          textureFormat(desc.Format),
		Dimension:       viewDimension(desc.Dimension),
		Aspect:          gputypes.TextureAspectAll,
		BaseMipLevel:    desc.BaseMipLevel,
		MipLevelCount:   desc.MipLevelCount,
		BaseArrayLayer:  desc.BaseArrayLayer,
		ArrayLayerCount: desc.ArrayLayerCount,
	})
	if err != nil {
		d.drop(&tex.shared)
		return gpucore.InvalidID, fmt.Errorf("native: create texture view %q: %w: %w", desc.Label, gpucore.ErrOutOfMemory, err)
	}

	id := gpucore.TextureViewID(d.newID())
	d.mu.Lock()
	d.views[id] = &viewEntry{
		shared: newShared(func() {
			d.device.DestroyTextureView(raw)
			d.drop(&tex.shared)
		}),
		raw: raw,
	}
	d.mu.Unlock()
	return id, nil
}

// DestroyTextureView releases a view once no recorded or in-flight command
// buffer uses it.
func (d *Device) DestroyTextureView(id gpucore.TextureViewID) {
	d.mu.Lock()
	entry, ok := d.views[id]
	delete(d.views, id)
	d.mu.Unlock()
	if ok {
		d.drop(&entry.shared)
	}
}

// CreateShaderModule compiles WGSL source.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	raw, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  d.label(desc.Label),
		Source: hal.ShaderSource{WGSL: desc.WGSL},
	})
	if err != nil {
		return gpucore.InvalidID, fmt.Errorf("native: compile %q: %w: %w", desc.Label, gpucore.ErrCompile, err)
	}

	id := gpucore.ShaderModuleID(d.newID())
	d.mu.Lock()
	d.modules[id] = raw
	d.mu.Unlock()
	return id, nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	raw, ok := d.modules[id]
	delete(d.modules, id)
	d.mu.Unlock()
	if ok {
		d.device.DestroyShaderModule(raw)
	}
}

func (d *Device) module(id gpucore.ShaderModuleID) (hal.ShaderModule, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	raw, ok := d.modules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %w: shader module %d", gpucore.ErrCompile, errUnknownID, id)
	}
	return raw, nil
}

// createLayout creates one bind group layout per group and the pipeline layout.
func (d *Device) createLayout(label string, descs []gpucore.BindGroupLayoutDesc, render bool) (pipelineLayout, error) {
	pl := pipelineLayout{descs: descs}
	for i, desc := range descs {
		bgl, err := d.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
			Label:   fmt.Sprintf("%s/group%d", label, i),
			Entries: layoutEntries(desc, render),
		})
		if err != nil {
			d.destroyLayout(pl)
			return pipelineLayout{}, fmt.Errorf("native: bind group layout %d: %w: %w", i, gpucore.ErrCompile, err)
		}
		pl.groups = append(pl.groups, bgl)
	}

	layout, err := d.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: pl.groups,
	})
	if err != nil {
		d.destroyLayout(pl)
		return pipelineLayout{}, fmt.Errorf("native: pipeline layout: %w: %w", gpucore.ErrCompile, err)
	}
	pl.layout = layout
	return pl, nil
}

func (d *Device) destroyLayout(pl pipelineLayout) {
	if pl.layout != nil {
		d.device.DestroyPipelineLayout(pl.layout)
	}
	for _, g := range pl.groups {
		d.device.DestroyBindGroupLayout(g)
	}
}

// CreateComputePipeline creates a compute pipeline.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	module, err := d.module(desc.ShaderModule)
	if err != nil {
		return gpucore.InvalidID, err
	}
	pl, err := d.createLayout(d.label(desc.Label), desc.Layouts, false)
	if err != nil {
		return gpucore.InvalidID, err
	}

	raw, err := d.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  d.label(desc.Label),
		Layout: pl.layout,
		Compute: hal.ComputeState{
			Module:     module,
			EntryPoint: desc.EntryPoint,
		},
	})
	if err != nil {
		d.destroyLayout(pl)
		return gpucore.InvalidID, fmt.Errorf("native: compute pipeline %q: %w: %w", desc.Label, gpucore.ErrCompile, err)
	}

	id := gpucore.ComputePipelineID(d.newID())
	d.mu.Lock()
	d.computes[id] = &computeEntry{
		shared: newShared(func() {
			d.device.DestroyComputePipeline(raw)
			d.destroyLayout(pl)
		}),
		pipelineLayout: pl,
		raw:            raw,
	}
	d.mu.Unlock()

	d.log.Debug("native: compute pipeline created", "id", id, "label", desc.Label, "entry", desc.EntryPoint)
	return id, nil
}

// DestroyComputePipeline releases a compute pipeline and its layouts once
// no command buffer uses them.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	entry, ok := d.computes[id]
	delete(d.computes, id)
	d.mu.Unlock()
	if ok {
		d.drop(&entry.shared)
	}
}

// CreateRenderPipeline creates a render pipeline.
func (d *Device) CreateRenderPipeline(desc *gpucore.RenderPipelineDesc) (gpucore.RenderPipelineID, error) {
	vs, err := d.module(desc.VertexModule)
	if err != nil {
		return gpucore.InvalidID, err
	}
	fs, err := d.module(desc.FragmentModule)
	if err != nil {
		return gpucore.InvalidID, err
	}
	pl, err := d.createLayout(d.label(desc.Label), desc.Layouts, true)
	if err != nil {
		return gpucore.InvalidID, err
	}

	targets := make([]gputypes.ColorTargetState, 0, len(desc.ColorTargets))
	for _, ct := range desc.ColorTargets {
		targets = append(targets, gputypes.ColorTargetState{
			Format:    textureFormat(ct.Format),
			Blend:     blendState(ct.Blend),
			WriteMask: colorWrites(ct.WriteMask),
		})
	}

	if desc.Primitive.Wireframe {
		d.destroyLayout(pl)
		return gpucore.InvalidID, fmt.Errorf("native: render pipeline %q: wireframe fill: %w", desc.Label, gpucore.ErrUnsupported)
	}
	var depth *hal.DepthStencilState
	if ds := desc.DepthStencil; ds != nil {
		keep := hal.StencilFaceState{
			Compare:     gputypes.CompareFunctionAlways,
			FailOp:      hal.StencilOperationKeep,
			DepthFailOp: hal.StencilOperationKeep,
			PassOp:      hal.StencilOperationKeep,
		}
		depth = &hal.DepthStencilState{
			Format:              textureFormat(ds.Format),
			DepthWriteEnabled:   ds.DepthWriteEnabled,
			DepthCompare:        compareFunction(ds.DepthCompare),
			StencilFront:        keep,
			StencilBack:         keep,
			DepthBias:           ds.Bias.Constant,
			DepthBiasSlopeScale: ds.Bias.SlopeScale,
			DepthBiasClamp:      ds.Bias.Clamp,
		}
	}

	raw, err := d.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  d.label(desc.Label),
		Layout: pl.layout,
		Vertex: hal.VertexState{
			Module:     vs,
			EntryPoint: desc.VertexEntry,
		},
		Fragment: &hal.FragmentState{
			Module:     fs,
			EntryPoint: desc.FragmentEntry,
			Targets:    targets,
		},
		DepthStencil: depth,
		Multisample: gputypes.MultisampleState{
			Count: 1,
			Mask:  0xFFFFFFFF,
		},
		Primitive: gputypes.PrimitiveState{
			Topology:       topology(desc.Primitive.Topology),
			FrontFace:      frontFace(desc.Primitive.FrontFace),
			CullMode:       cullMode(desc.Primitive.CullMode),
			UnclippedDepth: desc.Primitive.UnclippedDepth,
		},
	})
	if err != nil {
		d.destroyLayout(pl)
		return gpucore.InvalidID, fmt.Errorf("native: render pipeline %q: %w: %w", desc.Label, gpucore.ErrCompile, err)
	}

	id := gpucore.RenderPipelineID(d.newID())
	d.mu.Lock()
	d.renders[id] = &renderEntry{
		shared: newShared(func() {
			d.device.DestroyRenderPipeline(raw)
			d.destroyLayout(pl)
		}),
		pipelineLayout: pl,
		raw:            raw,
	}
	d.mu.Unlock()

	d.log.Debug("native: render pipeline created", "id", id, "label", desc.Label)
	return id, nil
}

// DestroyRenderPipeline releases a render pipeline and its layouts once
// no command buffer uses them.
func (d *Device) DestroyRenderPipeline(id gpucore.RenderPipelineID) {
	d.mu.Lock()
	entry, ok := d.renders[id]
	delete(d.renders, id)
	d.mu.Unlock()
	if ok {
		d.drop(&entry.shared)
	}
}

// Destroy drains pending retirements and releases the device unless it was adopted.
func (d *Device) Destroy() {
	if d.tracker != nil {
		if err := d.tracker.waitIdle(destroyTimeout); err != nil {
			d.log.Warn("native: device destroyed with work in flight", "err", err)
		}
		d.tracker.destroy()
	}
	d.release()
}

func (d *Device) release() {
	if d.instance == nil {
		return
	}
	d.device.Destroy()
	d.instance.Destroy()
	d.instance = nil
}
