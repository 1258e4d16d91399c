package native

import (
	"errors"
	"fmt"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/blade/gpucore"
)

var (
	errCommandsClosed = errors.New("native: command buffer already submitted or discarded")
	errBindingLayout  = errors.New("native: bindings do not match pipeline layout")
)

// Queue submits command buffers to a Device's HAL queue.
type Queue struct {
	dev *Device
}

// CreateCommandBuffer begins a new command buffer.
func (q *Queue) CreateCommandBuffer(label string) (gpucore.CommandBuffer, error) {
	d := q.dev
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: d.label(label),
	})
	if err != nil {
		return nil, fmt.Errorf("native: create command encoder: %w: %w", gpucore.ErrDeviceLost, err)
	}
	if err := enc.BeginEncoding(d.label(label)); err != nil {
		return nil, fmt.Errorf("native: begin encoding: %w: %w", gpucore.ErrDeviceLost, err)
	}
	return &commandBuffer{dev: d, label: label, enc: enc, held: make(map[*shared]struct{})}, nil
}

// Submit ends encoding and hands the command buffer to the queue. Transient
// objects and the references taken while recording are released once the
// submission completes.
func (q *Queue) Submit(cb gpucore.CommandBuffer) error {
	c, ok := cb.(*commandBuffer)
	if !ok || c.dev != q.dev {
		return fmt.Errorf("native: foreign command buffer %T", cb)
	}
	if c.closed {
		return errCommandsClosed
	}
	if c.open || c.err != nil {
		err := c.err
		if err == nil {
			err = errPassOpen
		}
		c.Discard()
		return err
	}
	c.closed = true

	d := q.dev
	raw, err := c.enc.EndEncoding()
	if err != nil {
		c.retire()
		return fmt.Errorf("native: end encoding %q: %w", c.label, err)
	}

	index, err := d.tracker.submit([]hal.CommandBuffer{raw})
	if err != nil {
		d.device.FreeCommandBuffer(raw)
		c.retire()
		return fmt.Errorf("native: submit %q: %w: %w", c.label, gpucore.ErrDeviceLost, err)
	}

	d.tracker.after(index, func() {
		d.device.FreeCommandBuffer(raw)
		c.retire()
	})
	return nil
}

// WaitIdle blocks until the queue completes the last submission.
func (q *Queue) WaitIdle(timeout time.Duration) error {
	return q.dev.tracker.waitIdle(timeout)
}

// commandBuffer records into a HAL command encoder. Objects created while
// recording, such as uniform buffers, bind groups and fill staging buffers,
// live until the submission that uses them retires. Every device object
// the recording names is held until then as well.
type commandBuffer struct {
	dev        *Device
	label      string
	enc        hal.CommandEncoder
	transients []func()
	held       map[*shared]struct{}
	open       bool
	closed     bool
	err        error
}

// counted is implemented by every device table entry.
type counted interface {
	ref() *shared
}

func (s *shared) ref() *shared { return s }

// use looks up id in table and holds the entry until the recording retires.
func use[K ~uint64, E counted](c *commandBuffer, table map[K]E, id K, kind string) (E, error) {
	c.dev.mu.Lock()
	defer c.dev.mu.Unlock()
	entry, ok := table[id]
	if !ok {
		var zero E
		return zero, fmt.Errorf("%w: %s %d", errUnknownID, kind, id)
	}
	s := entry.ref()
	if _, held := c.held[s]; !held {
		s.refs++
		c.held[s] = struct{}{}
	}
	return entry, nil
}

func (c *commandBuffer) buffer(id gpucore.BufferID) (*bufferEntry, error) {
	return use(c, c.dev.buffers, id, "buffer")
}

func (c *commandBuffer) texture(id gpucore.TextureID) (*textureEntry, error) {
	return use(c, c.dev.textures, id, "texture")
}

func (c *commandBuffer) view(id gpucore.TextureViewID) (*viewEntry, error) {
	return use(c, c.dev.views, id, "texture view")
}

func (c *commandBuffer) check() error {
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

func (c *commandBuffer) keep(release func()) {
	c.transients = append(c.transients, release)
}

// retire releases the transient objects, then the held references.
func (c *commandBuffer) retire() {
	release(c.transients)
	c.transients = nil
	held := make([]*shared, 0, len(c.held))
	for s := range c.held {
		held = append(held, s)
	}
	c.held = nil
	c.dev.drop(held...)
}

// release runs functions in reverse order of registration.
func release(fns []func()) {
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i]()
	}
}

// FillBuffer clears aligned ranges to zero on the GPU. Other patterns go
// into a staging buffer through the queue and are copied into place.
func (c *commandBuffer) FillBuffer(id gpucore.BufferID, offset, size uint64, value byte) error {
	if err := c.check(); err != nil {
		return err
	}
	dst, err := c.buffer(id)
	if err != nil {
		return err
	}
	if offset+size > dst.size {
		return fmt.Errorf("native: fill %d bytes at %d exceeds buffer of %d", size, offset, dst.size)
	}
	if size == 0 {
		return nil
	}
	if value == 0 && offset%copyAlignment == 0 && size%copyAlignment == 0 {
		c.enc.ClearBuffer(dst.raw, offset, size)
		return nil
	}

	staging, err := c.dev.device.CreateBuffer(&hal.BufferDescriptor{
		Label: c.dev.label("fill_staging"),
		Size:  size,
		Usage: gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("native: fill staging: %w: %w", gpucore.ErrOutOfMemory, err)
	}
	c.keep(func() { c.dev.device.DestroyBuffer(staging) })

	pattern := make([]byte, size)
	for i := range pattern {
		pattern[i] = value
	}
	if err := c.dev.queue.WriteBuffer(staging, 0, pattern); err != nil {
		return fmt.Errorf("native: fill staging upload: %w", err)
	}
	c.enc.CopyBufferToBuffer(staging, dst.raw, []hal.BufferCopy{{
		SrcOffset: 0,
		DstOffset: offset,
		Size:      size,
	}})
	return nil
}

func (c *commandBuffer) CopyBufferToBuffer(src gpucore.BufferID, srcOffset uint64, dst gpucore.BufferID, dstOffset, size uint64) error {
	if err := c.check(); err != nil {
		return err
	}
	s, err := c.buffer(src)
	if err != nil {
		return err
	}
	t, err := c.buffer(dst)
	if err != nil {
		return err
	}
	if srcOffset+size > s.size || dstOffset+size > t.size {
		return fmt.Errorf("native: copy of %d bytes out of range", size)
	}
	c.enc.CopyBufferToBuffer(s.raw, t.raw, []hal.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
	return nil
}

func (c *commandBuffer) CopyBufferToTexture(r *gpucore.BufferTextureCopy) error {
	if err := c.check(); err != nil {
		return err
	}
	buf, err := c.buffer(r.Buffer)
	if err != nil {
		return err
	}
	tex, err := c.texture(r.Texture)
	if err != nil {
		return err
	}
	c.enc.CopyBufferToTexture(buf.raw, tex.raw, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			Offset:       r.Offset,
			BytesPerRow:  r.BytesPerRow,
			RowsPerImage: r.RowsPerImage,
		},
		TextureBase: hal.ImageCopyTexture{
			Texture:  tex.raw,
			MipLevel: r.MipLevel,
			Origin:   hal.Origin3D{X: r.Origin[0], Y: r.Origin[1], Z: r.Origin[2]},
			Aspect:   gputypes.TextureAspectAll,
		},
		Size: hal.Extent3D{Width: r.Size.Width, Height: r.Size.Height, DepthOrArrayLayers: r.Size.Depth},
	}})
	return nil
}

func (c *commandBuffer) BeginComputePass(label string) gpucore.ComputePassEncoder {
	if err := c.check(); err != nil {
		c.fail(err)
		return &computePass{cb: c}
	}
	c.open = true
	raw := c.enc.BeginComputePass(&hal.ComputePassDescriptor{Label: c.dev.label(label)})
	return &computePass{cb: c, raw: raw}
}

func (c *commandBuffer) BeginRenderPass(desc *gpucore.RenderPassDesc) gpucore.RenderPassEncoder {
	if err := c.check(); err != nil {
		c.fail(err)
		return &renderPass{cb: c}
	}

	rp := &hal.RenderPassDescriptor{Label: c.dev.label(desc.Label)}
	for _, a := range desc.Colors {
		view, err := c.view(a.View)
		if err != nil {
			c.fail(err)
			return &renderPass{cb: c}
		}
		rp.ColorAttachments = append(rp.ColorAttachments, hal.RenderPassColorAttachment{
			View:    view.raw,
			LoadOp:  loadOp(a.Load),
			StoreOp: storeOp(a.Store),
			ClearValue: gputypes.Color{
				R: a.ClearColor[0], G: a.ClearColor[1], B: a.ClearColor[2], A: a.ClearColor[3],
			},
		})
	}
	if ds := desc.DepthStencil; ds != nil {
		view, err := c.view(ds.View)
		if err != nil {
			c.fail(err)
			return &renderPass{cb: c}
		}
		rp.DepthStencilAttachment = &hal.RenderPassDepthStencilAttachment{
			View:            view.raw,
			DepthLoadOp:     loadOp(ds.Load),
			DepthStoreOp:    storeOp(ds.Store),
			DepthClearValue: ds.ClearDepth,
			StencilLoadOp:   gputypes.LoadOpLoad,
			StencilStoreOp:  gputypes.StoreOpStore,
		}
	}

	c.open = true
	return &renderPass{cb: c, raw: c.enc.BeginRenderPass(rp)}
}

// Discard abandons the recording and releases transient objects and held
// references.
func (c *commandBuffer) Discard() {
	if c.closed {
		return
	}
	c.closed = true
	c.enc.DiscardEncoding()
	c.retire()
}

// bindGroup creates a HAL bind group for one group of a pipeline layout.
// Plain data is uploaded into a uniform buffer owned by the command buffer.
func (c *commandBuffer) bindGroup(pl *pipelineLayout, group uint32, bindings []gpucore.Binding) (hal.BindGroup, error) {
	if int(group) >= len(pl.descs) {
		return nil, fmt.Errorf("%w: group %d not declared", errBindingLayout, group)
	}
	decl := pl.descs[group].Entries
	if len(decl) != len(bindings) {
		return nil, fmt.Errorf("%w: group %d has %d entries, got %d", errBindingLayout, group, len(decl), len(bindings))
	}

	entries := make([]gputypes.BindGroupEntry, 0, len(bindings))
	for i, b := range bindings {
		if b.Binding != decl[i].Binding || b.Type != decl[i].Type {
			return nil, fmt.Errorf("%w: group %d binding %d", errBindingLayout, group, decl[i].Binding)
		}
		entry := gputypes.BindGroupEntry{Binding: b.Binding}
		switch b.Type {
		case gpucore.BindingTypePlain:
			size := alignUp(uint64(len(b.Data)), uniformAlignment)
			ub, err := c.dev.device.CreateBuffer(&hal.BufferDescriptor{
				Label: c.dev.label("plain_data"),
				Size:  size,
				Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
			})
			if err != nil {
				return nil, fmt.Errorf("native: plain data buffer: %w: %w", gpucore.ErrOutOfMemory, err)
			}
			c.keep(func() { c.dev.device.DestroyBuffer(ub) })
			data := make([]byte, size)
			copy(data, b.Data)
			if err := c.dev.queue.WriteBuffer(ub, 0, data); err != nil {
				return nil, fmt.Errorf("native: plain data upload: %w", err)
			}
			entry.Resource = gputypes.BufferBinding{Buffer: ub.NativeHandle(), Offset: 0, Size: size}
		case gpucore.BindingTypeStorageBuffer:
			buf, err := c.buffer(b.Buffer)
			if err != nil {
				return nil, err
			}
			if b.Offset+b.Size > buf.size {
				return nil, fmt.Errorf("native: buffer binding %d out of range", b.Binding)
			}
			entry.Resource = gputypes.BufferBinding{Buffer: buf.raw.NativeHandle(), Offset: b.Offset, Size: b.Size}
		case gpucore.BindingTypeSampledTexture:
			view, err := c.view(b.View)
			if err != nil {
				return nil, err
			}
			entry.Resource = gputypes.TextureViewBinding{
				TextureView: view.raw.NativeHandle(),
			}
		}
		entries = append(entries, entry)
	}

	bg, err := c.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   fmt.Sprintf("%s/group%d", c.dev.label(c.label), group),
		Layout:  pl.groups[group],
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("native: create bind group %d: %w", group, err)
	}
	c.keep(func() { c.dev.device.DestroyBindGroup(bg) })
	return bg, nil
}

type computePass struct {
	cb       *commandBuffer
	raw      hal.ComputePassEncoder
	pipeline *computeEntry
}

func (p *computePass) SetPipeline(id gpucore.ComputePipelineID) {
	if p.raw == nil {
		return
	}
	entry, err := use(p.cb, p.cb.dev.computes, id, "compute pipeline")
	if err != nil {
		p.cb.fail(err)
		return
	}
	p.raw.SetPipeline(entry.raw)
	p.pipeline = entry
}

func (p *computePass) SetBindings(group uint32, bindings []gpucore.Binding) error {
	if p.raw == nil {
		return p.cb.err
	}
	if p.pipeline == nil {
		return errNoPipeline
	}
	bg, err := p.cb.bindGroup(&p.pipeline.pipelineLayout, group, bindings)
	if err != nil {
		return err
	}
	p.raw.SetBindGroup(group, bg, nil)
	return nil
}

func (p *computePass) Dispatch(x, y, z uint32) {
	if p.raw == nil {
		return
	}
	if p.pipeline == nil {
		p.cb.fail(errNoPipeline)
		return
	}
	p.raw.Dispatch(x, y, z)
}

func (p *computePass) End() {
	if p.raw == nil {
		return
	}
	p.raw.End()
	p.cb.open = false
}

type renderPass struct {
	cb       *commandBuffer
	raw      hal.RenderPassEncoder
	pipeline *renderEntry
}

func (p *renderPass) SetPipeline(id gpucore.RenderPipelineID) {
	if p.raw == nil {
		return
	}
	entry, err := use(p.cb, p.cb.dev.renders, id, "render pipeline")
	if err != nil {
		p.cb.fail(err)
		return
	}
	p.raw.SetPipeline(entry.raw)
	p.pipeline = entry
}

func (p *renderPass) SetBindings(group uint32, bindings []gpucore.Binding) error {
	if p.raw == nil {
		return p.cb.err
	}
	if p.pipeline == nil {
		return errNoPipeline
	}
	bg, err := p.cb.bindGroup(&p.pipeline.pipelineLayout, group, bindings)
	if err != nil {
		return err
	}
	p.raw.SetBindGroup(group, bg, nil)
	return nil
}

func (p *renderPass) Draw(vertexCount, instanceCount, firstVertex, firstInstance uint32) {
	if p.raw == nil {
		return
	}
	if p.pipeline == nil {
		p.cb.fail(errNoPipeline)
		return
	}
	p.raw.Draw(vertexCount, instanceCount, firstVertex, firstInstance)
}

func (p *renderPass) End() {
	if p.raw == nil {
		return
	}
	p.raw.End()
	p.cb.open = false
}
