package software

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gogpu/blade/gpucore"
)

var (
	errPassOpen       = errors.New("software: pass still open")
	errNoPipeline     = errors.New("software: no pipeline set")
	errBindingLayout  = errors.New("software: bindings do not match pipeline layout")
	errCommandsClosed = errors.New("software: command buffer already submitted or discarded")
)

// Op identifies a traced command.
type Op uint8

// Traced operations.
const (
	OpFillBuffer Op = iota + 1
	OpCopyBufferToBuffer
	OpCopyBufferToTexture
	OpDispatch
	OpDraw
	OpClear
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpFillBuffer:
		return "FillBuffer"
	case OpCopyBufferToBuffer:
		return "CopyBufferToBuffer"
	case OpCopyBufferToTexture:
		return "CopyBufferToTexture"
	case OpDispatch:
		return "Dispatch"
	case OpDraw:
		return "Draw"
	case OpClear:
		return "Clear"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Command is one executed command as seen by the device.
type Command struct {
	Op Op

	// Pass is the label of the pass the command was recorded in.
	Pass string

	Src, Dst         gpucore.BufferID
	SrcOffset, Size  uint64
	DstOffset        uint64
	Value            byte
	TextureCopy      gpucore.BufferTextureCopy
	ComputePipeline  gpucore.ComputePipelineID
	RenderPipeline   gpucore.RenderPipelineID
	Groups           [3]uint32
	WorkgroupSize    [3]uint32
	VertexCount      uint32
	InstanceCount    uint32
	FirstVertex      uint32
	FirstInstance    uint32
	Bindings         map[uint32][]gpucore.Binding
	ColorAttachments []gpucore.Attachment
}

// Invocations returns the number of shader invocations a dispatch launched.
func (c Command) Invocations() uint64 {
	n := uint64(1)
	for i := range 3 {
		n *= uint64(c.Groups[i]) * uint64(c.WorkgroupSize[i])
	}
	return n
}

// Trace returns a copy of all executed commands in execution order.
func (d *Device) Trace() []Command {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Command(nil), d.trace...)
}

// ResetTrace clears the command trace.
func (d *Device) ResetTrace() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.trace = nil
}

// Queue executes command buffers on a Device.
type Queue struct {
	dev *Device
}

// CreateCommandBuffer begins a new command buffer.
func (q *Queue) CreateCommandBuffer(label string) (gpucore.CommandBuffer, error) {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if q.dev.lost {
		return nil, gpucore.ErrDeviceLost
	}
	return &commandBuffer{dev: q.dev, label: label}, nil
}

// Submit executes the recorded commands in order.
func (q *Queue) Submit(cb gpucore.CommandBuffer) error {
	c, ok := cb.(*commandBuffer)
	if !ok || c.dev != q.dev {
		return fmt.Errorf("software: foreign command buffer %T", cb)
	}

	d := q.dev
	d.mu.Lock()
	defer d.mu.Unlock()

	if c.closed {
		return errCommandsClosed
	}
	c.closed = true
	defer c.releaseLocked()

	if d.lost {
		return gpucore.ErrDeviceLost
	}
	if c.open {
		return errPassOpen
	}
	if c.err != nil {
		return c.err
	}

	for i := range c.cmds {
		if err := d.executeLocked(&c.cmds[i]); err != nil {
			return err
		}
		d.trace = append(d.trace, c.cmds[i])
	}
	d.submissions++
	return nil
}

// WaitIdle returns immediately; submission is synchronous.
func (q *Queue) WaitIdle(time.Duration) error {
	q.dev.mu.Lock()
	defer q.dev.mu.Unlock()
	if q.dev.lost {
		return gpucore.ErrDeviceLost
	}
	return nil
}

// executeLocked applies the memory effects of a command.
func (d *Device) executeLocked(cmd *Command) error {
	switch cmd.Op {
	case OpFillBuffer:
		buf := d.objects[uint64(cmd.Dst)]
		data := buf.data[cmd.DstOffset : cmd.DstOffset+cmd.Size]
		for i := range data {
			data[i] = cmd.Value
		}
	case OpCopyBufferToBuffer:
		src := d.objects[uint64(cmd.Src)]
		dst := d.objects[uint64(cmd.Dst)]
		copy(dst.data[cmd.DstOffset:cmd.DstOffset+cmd.Size], src.data[cmd.SrcOffset:cmd.SrcOffset+cmd.Size])
	case OpCopyBufferToTexture:
		return d.copyToTextureLocked(&cmd.TextureCopy)
	case OpClear:
		for _, a := range cmd.ColorAttachments {
			d.clearViewLocked(a.View, a.ClearColor)
		}
	}
	return nil
}

func (d *Device) copyToTextureLocked(r *gpucore.BufferTextureCopy) error {
	src := d.objects[uint64(r.Buffer)]
	tex := d.objects[uint64(r.Texture)]
	desc := tex.texture
	block := uint64(desc.Format.BlockSize())
	w, h, slices := mipExtent(desc, r.MipLevel)

	if r.Origin[0]+r.Size.Width > w || r.Origin[1]+r.Size.Height > h || r.Origin[2]+r.Size.Depth > slices {
		return fmt.Errorf("%w: texture copy %v at %v", errRange, r.Size, r.Origin)
	}
	rows := uint64(max(r.RowsPerImage, r.Size.Height))
	mip := tex.mips[r.MipLevel]
	rowBytes := uint64(r.Size.Width) * block
	for z := range uint64(r.Size.Depth) {
		for y := range uint64(r.Size.Height) {
			from := r.Offset + (z*rows+y)*uint64(r.BytesPerRow)
			if from+rowBytes > uint64(len(src.data)) {
				return fmt.Errorf("%w: texture copy source", errRange)
			}
			to := ((uint64(r.Origin[2])+z)*uint64(h)+uint64(r.Origin[1])+y)*uint64(w)*block + uint64(r.Origin[0])*block
			copy(mip[to:to+rowBytes], src.data[from:from+rowBytes])
		}
	}
	return nil
}

// clearViewLocked fills the first mip level and layer of a view with color.
func (d *Device) clearViewLocked(id gpucore.TextureViewID, color [4]float64) {
	view, ok := d.objects[uint64(id)]
	if !ok || view.kind != kindTextureView {
		return
	}
	tex := d.objects[uint64(view.view.Texture)]
	w, h, _ := mipExtent(tex.texture, view.view.BaseMipLevel)
	texel := encodeTexel(tex.texture.Format, color)
	n := uint64(w) * uint64(h) * uint64(len(texel))
	base := uint64(view.view.BaseArrayLayer) * n
	mip := tex.mips[view.view.BaseMipLevel]
	for off := base; off+uint64(len(texel)) <= base+n && off+uint64(len(texel)) <= uint64(len(mip)); off += uint64(len(texel)) {
		copy(mip[off:], texel)
	}
}

// encodeTexel converts a linear color to the byte layout of format.
func encodeTexel(format gpucore.TextureFormat, c [4]float64) []byte {
	unorm := func(v float64) byte {
		return byte(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	switch format {
	case gpucore.TextureFormatBGRA8Unorm:
		return []byte{unorm(c[2]), unorm(c[1]), unorm(c[0]), unorm(c[3])}
	case gpucore.TextureFormatR32Float, gpucore.TextureFormatDepth32Float:
		bits := math.Float32bits(float32(c[0]))
		return []byte{byte(bits), byte(bits >> 8), byte(bits >> 16), byte(bits >> 24)}
	default:
		return []byte{unorm(c[0]), unorm(c[1]), unorm(c[2]), unorm(c[3])}
	}
}

// commandBuffer records commands and the object references they need.
type commandBuffer struct {
	dev    *Device
	label  string
	cmds   []Command
	refs   []uint64
	open   bool
	closed bool
	err    error
}

// retainLocked takes a reference on a live object for the lifetime of the buffer.
func (c *commandBuffer) retainLocked(id uint64, k kind) (*object, error) {
	obj, err := c.dev.lookupLocked(id, k)
	if err != nil {
		return nil, err
	}
	obj.refs++
	c.refs = append(c.refs, id)
	return obj, nil
}

func (c *commandBuffer) releaseLocked() {
	for _, id := range c.refs {
		c.dev.releaseLocked(id)
	}
	c.refs = nil
}

func (c *commandBuffer) checkLocked() error {
	if c.closed {
		return errCommandsClosed
	}
	if c.open {
		return errPassOpen
	}
	return nil
}

// fail records the first deferred error; Submit returns it.
func (c *commandBuffer) fail(err error) {
	if c.err == nil {
		c.err = err
	}
}

func (c *commandBuffer) FillBuffer(id gpucore.BufferID, offset, size uint64, value byte) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()

	if err := c.checkLocked(); err != nil {
		return err
	}
	buf, err := c.retainLocked(uint64(id), kindBuffer)
	if err != nil {
		return err
	}
	if offset+size > uint64(len(buf.data)) {
		return fmt.Errorf("%w: fill %d bytes at %d", errRange, size, offset)
	}
	c.cmds = append(c.cmds, Command{Op: OpFillBuffer, Dst: id, DstOffset: offset, Size: size, Value: value})
	return nil
}

func (c *commandBuffer) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()

	if err := c.checkLocked(); err != nil {
		return err
	}
	s, err := c.retainLocked(uint64(src), kindBuffer)
	if err != nil {
		return err
	}
	d, err := c.retainLocked(uint64(dst), kindBuffer)
	if err != nil {
		return err
	}
	if srcOffset+size > uint64(len(s.data)) || dstOffset+size > uint64(len(d.data)) {
		return fmt.Errorf("%w: copy %d bytes", errRange, size)
	}
	c.cmds = append(c.cmds, Command{
		Op: OpCopyBufferToBuffer, Src: src, SrcOffset: srcOffset, Dst: dst, DstOffset: dstOffset, Size: size,
	})
	return nil
}

func (c *commandBuffer) CopyBufferToTexture(region *gpucore.BufferTextureCopy) error {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()

	if err := c.checkLocked(); err != nil {
		return err
	}
	if _, err := c.retainLocked(uint64(region.Buffer), kindBuffer); err != nil {
		return err
	}
	tex, err := c.retainLocked(uint64(region.Texture), kindTexture)
	if err != nil {
		return err
	}
	if int(region.MipLevel) >= len(tex.mips) {
		return fmt.Errorf("%w: mip level %d", errRange, region.MipLevel)
	}
	c.cmds = append(c.cmds, Command{Op: OpCopyBufferToTexture, TextureCopy: *region})
	return nil
}

func (c *commandBuffer) BeginComputePass(label string) gpucore.ComputePassEncoder {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()

	if err := c.checkLocked(); err != nil {
		c.fail(err)
	}
	c.open = true
	return &computePass{cb: c, label: label, bindings: make(map[uint32][]gpucore.Binding)}
}

func (c *commandBuffer) BeginRenderPass(desc *gpucore.RenderPassDesc) gpucore.RenderPassEncoder {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()

	if err := c.checkLocked(); err != nil {
		c.fail(err)
	}
	c.open = true
	p := &renderPass{cb: c, label: desc.Label, bindings: make(map[uint32][]gpucore.Binding)}
	p.colors = append(p.colors, desc.Colors...)
	var clears []gpucore.Attachment
	for _, a := range desc.Colors {
		if _, err := c.retainLocked(uint64(a.View), kindTextureView); err != nil {
			c.fail(err)
		}
		if a.Load == gpucore.LoadOpClear {
			clears = append(clears, a)
		}
	}
	if len(clears) > 0 {
		c.cmds = append(c.cmds, Command{Op: OpClear, Pass: desc.Label, ColorAttachments: clears})
	}
	if desc.DepthStencil != nil {
		if _, err := c.retainLocked(uint64(desc.DepthStencil.View), kindTextureView); err != nil {
			c.fail(err)
		}
	}
	return p
}

// Discard releases the references held by recorded commands.
func (c *commandBuffer) Discard() {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.releaseLocked()
}

// setBindingsLocked checks bindings against a pipeline layout and retains
// the referenced resources.
func (c *commandBuffer) setBindingsLocked(layouts []gpucore.BindGroupLayoutDesc, group uint32, bindings []gpucore.Binding) error {
	if int(group) >= len(layouts) {
		return fmt.Errorf("%w: group %d not declared", errBindingLayout, group)
	}
	entries := layouts[group].Entries
	if len(entries) != len(bindings) {
		return fmt.Errorf("%w: group %d has %d entries, got %d", errBindingLayout, group, len(entries), len(bindings))
	}
	for i, e := range entries {
		b := bindings[i]
		if b.Binding != e.Binding || b.Type != e.Type {
			return fmt.Errorf("%w: group %d binding %d", errBindingLayout, group, e.Binding)
		}
		switch b.Type {
		case gpucore.BindingTypePlain:
			if uint64(len(b.Data)) != e.MinBindingSize {
				return fmt.Errorf("%w: plain binding %d is %d bytes, want %d", errBindingLayout, e.Binding, len(b.Data), e.MinBindingSize)
			}
		case gpucore.BindingTypeStorageBuffer:
			buf, err := c.retainLocked(uint64(b.Buffer), kindBuffer)
			if err != nil {
				return err
			}
			if b.Offset+b.Size > uint64(len(buf.data)) {
				return fmt.Errorf("%w: buffer binding %d", errRange, e.Binding)
			}
		case gpucore.BindingTypeSampledTexture:
			if _, err := c.retainLocked(uint64(b.View), kindTextureView); err != nil {
				return err
			}
		}
	}
	return nil
}

func snapshot(m map[uint32][]gpucore.Binding) map[uint32][]gpucore.Binding {
	out := make(map[uint32][]gpucore.Binding, len(m))
	for g, b := range m {
		out[g] = b
	}
	return out
}

type computePass struct {
	cb       *commandBuffer
	label    string
	pipeline gpucore.ComputePipelineID
	obj      *object
	bindings map[uint32][]gpucore.Binding
}

func (p *computePass) SetPipeline(id gpucore.ComputePipelineID) {
	p.cb.dev.mu.Lock()
	defer p.cb.dev.mu.Unlock()

	obj, err := p.cb.retainLocked(uint64(id), kindComputePipeline)
	if err != nil {
		p.cb.fail(err)
		return
	}
	p.pipeline = id
	p.obj = obj
}

func (p *computePass) SetBindings(group uint32, bindings []gpucore.Binding) error {
	p.cb.dev.mu.Lock()
	defer p.cb.dev.mu.Unlock()

	if p.obj == nil {
		return errNoPipeline
	}
	if err := p.cb.setBindingsLocked(p.obj.layouts, group, bindings); err != nil {
		return err
	}
	p.bindings[group] = append([]gpucore.Binding(nil), bindings...)
	return nil
}

func (p *computePass) Dispatch(x, y, z uint32) {
	p.cb.dev.mu.Lock()
	defer p.cb.dev.mu.Unlock()

	if p.obj == nil {
		p.cb.fail(errNoPipeline)
		return
	}
	p.cb.cmds = append(p.cb.cmds, Command{
		Op:              OpDispatch,
		Pass:            p.label,
		ComputePipeline: p.pipeline,
		Groups:          [3]uint32{x, y, z},
		WorkgroupSize:   p.obj.workgroup,
		Bindings:        snapshot(p.bindings),
	})
}

func (p *computePass) End() {
	p.cb.dev.mu.Lock()
	defer p.cb.dev.mu.Unlock()
	p.cb.open = false
}

type renderPass struct {
	cb       *commandBuffer
	label    string
	colors   []gpucore.Attachment
	pipeline gpucore.RenderPipelineID
	obj      *object
	bindings map[uint32][]gpucore.Binding
}

func (p *renderPass) SetPipeline(id gpucore.RenderPipelineID) {
	p.cb.dev.mu.Lock()
	defer p.cb.dev.mu.Unlock()

	obj, err := p.cb.retainLocked(uint64(id), kindRenderPipeline)
	if err != nil {
		p.cb.fail(err)
		return
	}
	p.pipeline = id
	p.obj = obj
}

func (p *renderPass) SetBindings(group uint32, bindings []gpucore.Binding) error {
	p.cb.dev.mu.Lock()
	defer p.cb.dev.mu.Unlock()

	if p.obj == nil {
		return errNoPipeline
	}
	if err := p.cb.setBindingsLocked(p.obj.layouts, group, bindings); err != nil {
		return err
	}
	p.bindings[group] = append([]gpucore.Binding(nil), bindings...)
	return nil
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	p.cb.dev.mu.Lock()
	defer p.cb.dev.mu.Unlock()

	if p.obj == nil {
		p.cb.fail(errNoPipeline)
		return
	}
	p.cb.cmds = append(p.cb.cmds, Command{
		Op:               OpDraw,
		Pass:             p.label,
		RenderPipeline:   p.pipeline,
		VertexCount:      vertexCount,
		InstanceCount:    instanceCount,
		FirstVertex:      firstVertex,
		FirstInstance:    firstInstance,
		Bindings:         snapshot(p.bindings),
		ColorAttachments: p.colors,
	})
}

func (p *renderPass) End() {
	p.cb.dev.mu.Lock()
	defer p.cb.dev.mu.Unlock()
	p.cb.open = false
}
