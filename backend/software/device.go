package software

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gogpu/blade/backend"
	"github.com/gogpu/blade/gpucore"
)

var (
	// errUnknownObject is returned when an ID does not name a live object of the expected kind.
	errUnknownObject = errors.New("software: unknown object")

	// errNotHostVisible is returned for CPU access to device memory.
	errNotHostVisible = errors.New("software: buffer is not host visible")

	// errRange is returned when a byte range exceeds a resource.
	errRange = errors.New("software: range out of bounds")
)

type kind uint8

const (
	kindBuffer kind = iota + 1
	kindTexture
	kindTextureView
	kindShaderModule
	kindComputePipeline
	kindRenderPipeline
)

func (k kind) String() string {
	switch k {
	case kindBuffer:
		return "buffer"
	case kindTexture:
		return "texture"
	case kindTextureView:
		return "texture view"
	case kindShaderModule:
		return "shader module"
	case kindComputePipeline:
		return "compute pipeline"
	case kindRenderPipeline:
		return "render pipeline"
	default:
		return "object"
	}
}

// object is one native resource. refs counts the creation reference plus
// references held by recorded, not yet executed, commands.
type object struct {
	kind      kind
	label     string
	refs      int
	destroyed bool

	memory gpucore.MemoryKind
	data   []byte

	texture *gpucore.TextureDesc
	mips    [][]byte

	view *gpucore.TextureViewDesc

	layouts   []gpucore.BindGroupLayoutDesc
	workgroup [3]uint32
	render    *gpucore.RenderPipelineDesc
}

// Device is an in-memory gpucore.Device.
//
// All methods are safe for concurrent use.
type Device struct {
	mu      sync.Mutex
	caps    gpucore.Capabilities
	opts    backend.Options
	log     *slog.Logger
	nextID  uint64
	objects map[uint64]*object

	calls          map[string]int
	trace          []Command
	submissions    int
	doubleDestroys int

	failAllocations int
	lost            bool
	destroyed       bool
}

func newDevice(caps gpucore.Capabilities, opts backend.Options) *Device {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Device{
		caps:    caps,
		opts:    opts,
		log:     log,
		nextID:  1,
		objects: make(map[uint64]*object),
		calls:   make(map[string]int),
	}
}

// Capabilities returns the limits of the device.
func (d *Device) Capabilities() gpucore.Capabilities {
	return d.caps
}

// Validation reports whether the device was opened with validation enabled.
func (d *Device) Validation() bool {
	return d.opts.Validation
}

// insertLocked registers obj and returns its new ID.
func (d *Device) insertLocked(obj *object) uint64 {
	id := d.nextID
	d.nextID++
	obj.refs = 1
	d.objects[id] = obj
	return id
}

// lookupLocked returns the live object with the given ID and kind.
func (d *Device) lookupLocked(id uint64, k kind) (*object, error) {
	obj, ok := d.objects[id]
	if !ok || obj.kind != k || obj.destroyed {
		return nil, fmt.Errorf("%w: %s %d", errUnknownObject, k, id)
	}
	return obj, nil
}

// releaseLocked drops one reference from the object.
func (d *Device) releaseLocked(id uint64) {
	obj, ok := d.objects[id]
	if !ok {
		return
	}
	obj.refs--
	if obj.refs > 0 {
		return
	}
	delete(d.objects, id)
	if obj.kind == kindTextureView {
		d.releaseLocked(uint64(obj.view.Texture))
	}
}

// destroyLocked drops the creation reference of the object.
func (d *Device) destroyLocked(name string, id uint64, k kind) {
	d.calls[name]++
	obj, ok := d.objects[id]
	if !ok || obj.kind != k || obj.destroyed {
		d.doubleDestroys++
		return
	}
	obj.destroyed = true
	d.releaseLocked(id)
}

// allocLocked applies fault injection and the lost state to an allocation.
func (d *Device) allocLocked(size uint64) error {
	if d.lost {
		return gpucore.ErrDeviceLost
	}
	if d.failAllocations > 0 {
		d.failAllocations--
		return fmt.Errorf("software: injected allocation failure: %w", gpucore.ErrOutOfMemory)
	}
	if size > d.caps.MaxBufferSize {
		return fmt.Errorf("software: %d bytes exceeds limit %d: %w", size, d.caps.MaxBufferSize, gpucore.ErrOutOfMemory)
	}
	return nil
}

// CreateBuffer creates a zero-initialized buffer.
func (d *Device) CreateBuffer(desc *gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["CreateBuffer"]++

	if err := d.allocLocked(desc.Size); err != nil {
		return gpucore.InvalidID, err
	}
	id := d.insertLocked(&object{
		kind:   kindBuffer,
		label:  desc.Label,
		memory: desc.Memory,
		data:   make([]byte, desc.Size),
	})
	return gpucore.BufferID(id), nil
}

// DestroyBuffer releases a buffer.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyLocked("DestroyBuffer", uint64(id), kindBuffer)
}

// WriteBuffer copies data into a host-visible buffer.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["WriteBuffer"]++

	obj, err := d.lookupLocked(uint64(id), kindBuffer)
	if err != nil {
		return err
	}
	if !obj.memory.HostVisible() {
		return errNotHostVisible
	}
	if offset+uint64(len(data)) > uint64(len(obj.data)) {
		return fmt.Errorf("%w: write %d bytes at %d", errRange, len(data), offset)
	}
	copy(obj.data[offset:], data)
	return nil
}

// ReadBuffer copies bytes out of a host-visible buffer.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset uint64, dst []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["ReadBuffer"]++

	obj, err := d.lookupLocked(uint64(id), kindBuffer)
	if err != nil {
		return err
	}
	if !obj.memory.HostVisible() {
		return errNotHostVisible
	}
	if offset+uint64(len(dst)) > uint64(len(obj.data)) {
		return fmt.Errorf("%w: read %d bytes at %d", errRange, len(dst), offset)
	}
	copy(dst, obj.data[offset:])
	return nil
}

// mipExtent returns the extent of a mip level and the number of slices
// (array layers or depth) it stores.
func mipExtent(desc *gpucore.TextureDesc, level uint32) (w, h, slices uint32) {
	w = max(1, desc.Size.Width>>level)
	h = max(1, desc.Size.Height>>level)
	if desc.Dimension == gpucore.TextureDimension3D {
		return w, h, max(1, desc.Size.Depth>>level)
	}
	return w, h, max(1, desc.ArrayLayerCount)
}

// CreateTexture creates a zero-initialized texture with all mip levels.
func (d *Device) CreateTexture(desc *gpucore.TextureDesc) (gpucore.TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["CreateTexture"]++

	block := uint64(desc.Format.BlockSize())
	if block == 0 {
		return gpucore.InvalidID, fmt.Errorf("software: unsupported format %s", desc.Format)
	}

	levels := max(1, desc.MipLevelCount)
	sizes := make([]uint64, levels)
	var total uint64
	for l := range levels {
		w, h, s := mipExtent(desc, l)
		sizes[l] = uint64(w) * uint64(h) * uint64(s) * block
		total += sizes[l]
	}
	if err := d.allocLocked(total); err != nil {
		return gpucore.InvalidID, err
	}
	mips := make([][]byte, levels)
	for l, n := range sizes {
		mips[l] = make([]byte, n)
	}

	descCopy := *desc
	id := d.insertLocked(&object{
		kind:    kindTexture,
		label:   desc.Label,
		texture: &descCopy,
		mips:    mips,
	})
	return gpucore.TextureID(id), nil
}

// DestroyTexture releases a texture.
func (d *Device) DestroyTexture(id gpucore.TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyLocked("DestroyTexture", uint64(id), kindTexture)
}

// CreateTextureView creates a view that keeps its texture alive.
func (d *Device) CreateTextureView(desc *gpucore.TextureViewDesc) (gpucore.TextureViewID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["CreateTextureView"]++

	tex, err := d.lookupLocked(uint64(desc.Texture), kindTexture)
	if err != nil {
		return gpucore.InvalidID, err
	}
	if desc.BaseMipLevel+desc.MipLevelCount > max(1, tex.texture.MipLevelCount) {
		return gpucore.InvalidID, fmt.Errorf("%w: mip range", errRange)
	}
	tex.refs++

	descCopy := *desc
	id := d.insertLocked(&object{
		kind:  kindTextureView,
		label: desc.Label,
		view:  &descCopy,
	})
	return gpucore.TextureViewID(id), nil
}

// DestroyTextureView releases a texture view and its texture reference.
func (d *Device) DestroyTextureView(id gpucore.TextureViewID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.destroyLocked("DestroyTextureView", uint64(id), kindTextureView)
}

// CreateShaderModule stores the module source.
func (d *Device) CreateShaderModule(desc *gpucore.ShaderModuleDesc) (gpucore.ShaderModuleID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["CreateShaderModule"]++

	if d.lost {
		return gpucore.InvalidID, gpucore.ErrDeviceLost
	}
	if desc.WGSL == "" {
		return gpucore.InvalidID, fmt.Errorf("software: empty shader source: %w", gpucore.ErrCompile)
	}
	id := d.insertLocked(&object{kind: kindShaderModule, label: desc.Label})
	return gpucore.ShaderModuleID(id), nil
}

// DestroyShaderModule releases a shader module.
func (d *Device) DestroyShaderModule(id gpucore.ShaderModuleID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyLocked("DestroyShaderModule", uint64(id), kindShaderModule)
}

// CreateComputePipeline creates a compute pipeline.
func (d *Device) CreateComputePipeline(desc *gpucore.ComputePipelineDesc) (gpucore.ComputePipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["CreateComputePipeline"]++

	if _, err := d.lookupLocked(uint64(desc.ShaderModule), kindShaderModule); err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: %w", gpucore.ErrCompile, err)
	}
	for i, n := range desc.WorkgroupSize {
		if n == 0 || n > d.caps.MaxWorkgroupSize[i] {
			return gpucore.InvalidID, fmt.Errorf("software: workgroup size %v exceeds %v: %w",
				desc.WorkgroupSize, d.caps.MaxWorkgroupSize, gpucore.ErrCompile)
		}
	}

	id := d.insertLocked(&object{
		kind:      kindComputePipeline,
		label:     desc.Label,
		layouts:   desc.Layouts,
		workgroup: desc.WorkgroupSize,
	})
	return gpucore.ComputePipelineID(id), nil
}

// DestroyComputePipeline releases a compute pipeline.
func (d *Device) DestroyComputePipeline(id gpucore.ComputePipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyLocked("DestroyComputePipeline", uint64(id), kindComputePipeline)
}

// CreateRenderPipeline creates a render pipeline.
func (d *Device) CreateRenderPipeline(desc *gpucore.RenderPipelineDesc) (gpucore.RenderPipelineID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["CreateRenderPipeline"]++

	if _, err := d.lookupLocked(uint64(desc.VertexModule), kindShaderModule); err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: vertex: %w", gpucore.ErrCompile, err)
	}
	if _, err := d.lookupLocked(uint64(desc.FragmentModule), kindShaderModule); err != nil {
		return gpucore.InvalidID, fmt.Errorf("%w: fragment: %w", gpucore.ErrCompile, err)
	}

	descCopy := *desc
	id := d.insertLocked(&object{
		kind:    kindRenderPipeline,
		label:   desc.Label,
		layouts: desc.Layouts,
		render:  &descCopy,
	})
	return gpucore.RenderPipelineID(id), nil
}

// DestroyRenderPipeline releases a render pipeline.
func (d *Device) DestroyRenderPipeline(id gpucore.RenderPipelineID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyLocked("DestroyRenderPipeline", uint64(id), kindRenderPipeline)
}

// Destroy marks the device destroyed. Live objects stay visible to Live.
func (d *Device) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls["Destroy"]++
	d.destroyed = true

	live := 0
	for _, obj := range d.objects {
		if !obj.destroyed {
			live++
		}
	}
	if live > 0 || d.doubleDestroys > 0 {
		d.log.Warn("software: device destroyed with live objects",
			"live", live, "double_destroys", d.doubleDestroys)
	}
}

// --- Inspection and fault injection ---

// Live returns the number of created and not yet destroyed objects.
func (d *Device) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for _, obj := range d.objects {
		if !obj.destroyed {
			n++
		}
	}
	return n
}

// LiveLabels returns the sorted labels of live objects, for leak reports.
func (d *Device) LiveLabels() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	var labels []string
	for _, obj := range d.objects {
		if !obj.destroyed {
			labels = append(labels, obj.kind.String()+" "+obj.label)
		}
	}
	sort.Strings(labels)
	return labels
}

// Calls returns how many times the named Device method was invoked.
func (d *Device) Calls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[method]
}

// DoubleDestroys returns how many destroy calls named a dead object.
func (d *Device) DoubleDestroys() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.doubleDestroys
}

// Destroyed reports whether Destroy was called.
func (d *Device) Destroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

// Submissions returns the number of submitted command buffers.
func (d *Device) Submissions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submissions
}

// BufferData returns a copy of the contents of a live buffer.
func (d *Device) BufferData(id gpucore.BufferID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, err := d.lookupLocked(uint64(id), kindBuffer)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), obj.data...), nil
}

// TextureData returns a copy of one mip level of a live texture.
func (d *Device) TextureData(id gpucore.TextureID, level uint32) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	obj, err := d.lookupLocked(uint64(id), kindTexture)
	if err != nil {
		return nil, err
	}
	if int(level) >= len(obj.mips) {
		return nil, fmt.Errorf("%w: mip level %d", errRange, level)
	}
	return append([]byte(nil), obj.mips[level]...), nil
}

// FailAllocations makes the next n allocations fail with gpucore.ErrOutOfMemory.
func (d *Device) FailAllocations(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failAllocations = n
}

// Lose puts the device into the lost state.
func (d *Device) Lose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}
