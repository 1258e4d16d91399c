package blade

import (
	"errors"
	"fmt"

	"github.com/gogpu/blade/gpucore"
)

// encoderState is the recording state of a CommandEncoder.
type encoderState uint8

const (
	stateEmpty encoderState = iota
	stateRecording
	statePassOpen
	stateSubmitted
)

func (s encoderState) String() string {
	switch s {
	case stateEmpty:
		return "empty"
	case stateRecording:
		return "recording"
	case statePassOpen:
		return "pass open"
	case stateSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("encoderState(%d)", uint8(s))
	}
}

// CommandEncoder records passes into one native command buffer.
//
// An encoder moves from empty to recording with Start, opens passes one at
// a time, and is spent once it has been submitted or discarded. Passes
// borrow the encoder until their End; opening a second pass before that
// fails with ErrPassInProgress.
//
// A CommandEncoder is not safe for concurrent use. Encoders created from
// the same Context may be recorded and submitted from different goroutines.
type CommandEncoder struct {
	ctx    *Context
	queue  *queue
	name   string
	raw    gpucore.CommandBuffer
	state  encoderState
	passes int
}

// Name returns the encoder name.
func (e *CommandEncoder) Name() string { return e.name }

// Passes returns the number of passes opened so far.
func (e *CommandEncoder) Passes() int { return e.passes }

// Start begins recording a native command buffer.
func (e *CommandEncoder) Start() error {
	switch e.state {
	case stateEmpty:
	case stateSubmitted:
		return fmt.Errorf("%w: encoder %q", ErrEncoderSubmitted, e.name)
	default:
		return fmt.Errorf("%w: encoder %q", ErrEncoderStarted, e.name)
	}
	raw, err := e.queue.createCommandBuffer(e.name)
	if err != nil {
		if errors.Is(err, ErrContextClosed) {
			return err
		}
		return deviceError("start encoder", err)
	}
	e.raw = raw
	e.state = stateRecording
	return nil
}

// Discard abandons the recording. The encoder is spent afterwards.
// Discarding a spent encoder does nothing.
func (e *CommandEncoder) Discard() {
	if e.raw != nil {
		e.raw.Discard()
		e.raw = nil
	}
	e.state = stateSubmitted
}

// take moves the native command buffer out for submission.
func (e *CommandEncoder) take() (gpucore.CommandBuffer, error) {
	switch e.state {
	case stateEmpty:
		return nil, fmt.Errorf("%w: encoder %q", ErrEncoderNotStarted, e.name)
	case statePassOpen:
		return nil, fmt.Errorf("%w: encoder %q", ErrPassInProgress, e.name)
	case stateSubmitted:
		return nil, fmt.Errorf("%w: encoder %q", ErrEncoderSubmitted, e.name)
	}
	raw := e.raw
	e.raw = nil
	e.state = stateSubmitted
	return raw, nil
}

// canBegin reports whether a new pass may open.
func (e *CommandEncoder) canBegin() error {
	switch e.state {
	case stateEmpty:
		return fmt.Errorf("%w: encoder %q", ErrEncoderNotStarted, e.name)
	case statePassOpen:
		return fmt.Errorf("%w: encoder %q", ErrPassInProgress, e.name)
	case stateSubmitted:
		return fmt.Errorf("%w: encoder %q", ErrEncoderSubmitted, e.name)
	}
	return nil
}

// beginPass marks a new pass open.
func (e *CommandEncoder) beginPass() error {
	if err := e.canBegin(); err != nil {
		return err
	}
	e.state = statePassOpen
	e.passes++
	return nil
}

func (e *CommandEncoder) passLabel(kind string) string {
	if e.name == "" {
		return kind
	}
	return fmt.Sprintf("%s/%s%d", e.name, kind, e.passes)
}

// pass is the state shared by all pass kinds.
type pass struct {
	enc   *CommandEncoder
	ended bool
}

func (p *pass) check() error {
	if p.ended {
		return ErrPassEnded
	}
	if p.enc.state == stateSubmitted {
		return fmt.Errorf("%w: encoder %q", ErrEncoderSubmitted, p.enc.name)
	}
	return nil
}

func (p *pass) finish() {
	p.ended = true
	p.enc.state = stateRecording
}

// TransferPass records buffer and texture copies.
type TransferPass struct {
	pass
}

// Transfer opens a transfer pass.
func (e *CommandEncoder) Transfer() (*TransferPass, error) {
	if err := e.beginPass(); err != nil {
		return nil, err
	}
	return &TransferPass{pass{enc: e}}, nil
}

// FillBuffer sets size bytes starting at dst to value.
func (p *TransferPass) FillBuffer(dst BufferPiece, size uint64, value byte) error {
	if err := p.check(); err != nil {
		return err
	}
	if size == 0 {
		return fmt.Errorf("%w: fill of zero bytes", ErrInvalidSize)
	}
	if _, err := p.enc.ctx.bufferRange(dst, size); err != nil {
		return err
	}
	return deviceError("fill buffer", p.enc.raw.FillBuffer(dst.Buffer.id, dst.Offset, size, value))
}

// CopyBufferToBuffer copies size bytes from src to dst.
func (p *TransferPass) CopyBufferToBuffer(src, dst BufferPiece, size uint64) error {
	if err := p.check(); err != nil {
		return err
	}
	if size == 0 {
		return fmt.Errorf("%w: copy of zero bytes", ErrInvalidSize)
	}
	if _, err := p.enc.ctx.bufferRange(src, size); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	if _, err := p.enc.ctx.bufferRange(dst, size); err != nil {
		return fmt.Errorf("copy destination: %w", err)
	}
	return deviceError("copy buffer", p.enc.raw.CopyBufferToBuffer(src.Buffer.id, src.Offset, dst.Buffer.id, dst.Offset, size))
}

// CopyBufferToTexture copies a block of texels from src, laid out in rows
// of bytesPerRow bytes, into dst. A zero size.Depth copies one layer.
func (p *TransferPass) CopyBufferToTexture(src BufferPiece, bytesPerRow uint32, dst TexturePiece, size Extent) error {
	if err := p.check(); err != nil {
		return err
	}
	if size.Depth == 0 {
		size.Depth = 1
	}
	if size.Width == 0 || size.Height == 0 {
		return fmt.Errorf("%w: texture copy extent %v", ErrInvalidSize, size)
	}
	tex, err := p.enc.ctx.textureDesc(dst.Texture)
	if err != nil {
		return err
	}
	if tex.Usage&TextureUsageCopy == 0 {
		return fmt.Errorf("%w: texture %q lacks copy usage", ErrInvalidDescriptor, tex.Label)
	}
	if dst.MipLevel >= tex.MipLevelCount {
		return fmt.Errorf("%w: mip level %d of %d", ErrOutOfRange, dst.MipLevel, tex.MipLevelCount)
	}
	mip := mipExtent(&tex, dst.MipLevel)
	if uint64(dst.Origin[0])+uint64(size.Width) > uint64(mip.Width) ||
		uint64(dst.Origin[1])+uint64(size.Height) > uint64(mip.Height) ||
		uint64(dst.Origin[2])+uint64(size.Depth) > uint64(mip.Depth) {
		return fmt.Errorf("%w: %v at %v in mip %d of %v", ErrOutOfRange, size, dst.Origin, dst.MipLevel, mip)
	}
	row := uint64(size.Width) * uint64(tex.Format.BlockSize())
	if uint64(bytesPerRow) < row {
		return fmt.Errorf("%w: %d bytes per row, rows need %d", ErrInvalidSize, bytesPerRow, row)
	}
	need := uint64(bytesPerRow)*(uint64(size.Height)*uint64(size.Depth)-1) + row
	if _, err := p.enc.ctx.bufferRange(src, need); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}
	return deviceError("copy buffer to texture", p.enc.raw.CopyBufferToTexture(&gpucore.BufferTextureCopy{
		Buffer:       src.Buffer.id,
		Offset:       src.Offset,
		BytesPerRow:  bytesPerRow,
		RowsPerImage: size.Height,
		Texture:      dst.Texture.id,
		MipLevel:     dst.MipLevel,
		Origin:       dst.Origin,
		Size:         size,
	}))
}

// End closes the pass.
func (p *TransferPass) End() error {
	if err := p.check(); err != nil {
		return err
	}
	p.finish()
	return nil
}

// ComputePass records dispatches.
type ComputePass struct {
	pass
	raw     gpucore.ComputePassEncoder
	current *ComputePipelineContext
}

// Compute opens a compute pass.
func (e *CommandEncoder) Compute() (*ComputePass, error) {
	if err := e.beginPass(); err != nil {
		return nil, err
	}
	return &ComputePass{pass: pass{enc: e}, raw: e.raw.BeginComputePass(e.passLabel("compute"))}, nil
}

// With binds a pipeline for the following Bind and Dispatch calls.
// Errors are reported by the first call on the returned context.
func (p *ComputePass) With(pipeline *ComputePipeline) *ComputePipelineContext {
	pc := &ComputePipelineContext{pass: p, pipeline: pipeline}
	if pc.err = p.check(); pc.err != nil {
		return pc
	}
	var owner *Context
	var id uint64
	if pipeline != nil {
		owner, id = pipeline.ctx, uint64(pipeline.id)
	}
	if pc.err = p.enc.ctx.livePipeline(pipeline == nil, owner, id, kindComputePipeline); pc.err != nil {
		return pc
	}
	p.raw.SetPipeline(pipeline.id)
	p.current = pc
	return pc
}

// End closes the pass.
func (p *ComputePass) End() error {
	if err := p.check(); err != nil {
		return err
	}
	p.raw.End()
	p.current = nil
	p.finish()
	return nil
}

// ComputePipelineContext is a compute pipeline bound in a pass. It stays
// valid until the pass binds another pipeline or ends.
type ComputePipelineContext struct {
	pass     *ComputePass
	pipeline *ComputePipeline
	err      error
}

func (pc *ComputePipelineContext) check() error {
	if pc.err != nil {
		return pc.err
	}
	if err := pc.pass.check(); err != nil {
		return err
	}
	if pc.pass.current != pc {
		return fmt.Errorf("%w: pipeline %q was replaced", ErrNoPipeline, pc.pipeline.name)
	}
	return nil
}

// Bind fills data and binds it at group. The data layout must be the one
// the pipeline declared for that group.
func (pc *ComputePipelineContext) Bind(group uint32, data ShaderData) error {
	if err := pc.check(); err != nil {
		return err
	}
	bindings, err := encodeShaderData(pc.pass.enc.ctx, pc.pipeline.layouts, group, data)
	if err != nil {
		return fmt.Errorf("pipeline %q group %d: %w", pc.pipeline.name, group, err)
	}
	return deviceError("set bindings", pc.pass.raw.SetBindings(group, bindings))
}

// Dispatch schedules groups workgroups. Use ComputePipeline.WorkgroupCount
// to size the grid for a domain.
func (pc *ComputePipelineContext) Dispatch(groups [3]uint32) error {
	if err := pc.check(); err != nil {
		return err
	}
	if limit := pc.pass.enc.ctx.caps.MaxWorkgroupsPerDimension; limit > 0 {
		for i, n := range groups {
			if n > limit {
				return fmt.Errorf("%w: %d workgroups on axis %d, limit %d", ErrOutOfRange, n, i, limit)
			}
		}
	}
	pc.pass.raw.Dispatch(groups[0], groups[1], groups[2])
	return nil
}

// InitOp is how a render target is initialized when a render pass opens.
type InitOp struct {
	// Clear clears the target instead of loading its contents.
	Clear bool

	// ClearColor is the clear value of color targets.
	ClearColor [4]float64

	// ClearDepth is the clear value of depth targets.
	ClearDepth float32
}

// FinishOp is what happens to a render target when a render pass ends.
type FinishOp uint8

// Finish operations.
const (
	FinishStore FinishOp = iota
	FinishDiscard
)

// RenderTarget is one attachment of a render pass.
type RenderTarget struct {
	View   TextureView
	Init   InitOp
	Finish FinishOp
}

func (t RenderTarget) native() gpucore.Attachment {
	a := gpucore.Attachment{
		View:       t.View.id,
		ClearColor: t.Init.ClearColor,
		ClearDepth: t.Init.ClearDepth,
	}
	if t.Init.Clear {
		a.Load = gpucore.LoadOpClear
	}
	if t.Finish == FinishDiscard {
		a.Store = gpucore.StoreOpDiscard
	}
	return a
}

// RenderTargetSet is the attachments of a render pass.
type RenderTargetSet struct {
	Colors       []RenderTarget
	DepthStencil *RenderTarget
}

// RenderPass records draws into a set of render targets.
type RenderPass struct {
	pass
	raw     gpucore.RenderPassEncoder
	colors  []TextureFormat
	depth   TextureFormat
	current *RenderPipelineContext
}

// Render opens a render pass drawing into targets. All targets must be
// live views with render target usage and equal extents.
func (e *CommandEncoder) Render(targets RenderTargetSet) (*RenderPass, error) {
	if len(targets.Colors) == 0 && targets.DepthStencil == nil {
		return nil, fmt.Errorf("%w: render pass without targets", ErrTargetMismatch)
	}
	if err := e.canBegin(); err != nil {
		return nil, err
	}

	var (
		extent Extent
		sized  bool
	)
	check := func(t RenderTarget, depth bool) (TextureFormat, error) {
		view, tex, err := e.ctx.viewTarget(t.View)
		if err != nil {
			return TextureFormatUndefined, err
		}
		if tex.Usage&TextureUsageTarget == 0 {
			return TextureFormatUndefined, fmt.Errorf("%w: view %q of texture without target usage", ErrInvalidDescriptor, view.Label)
		}
		if view.Format.IsDepth() != depth {
			return TextureFormatUndefined, fmt.Errorf("%w: view %q format %v", ErrTargetMismatch, view.Label, view.Format)
		}
		size := mipExtent(&tex, view.BaseMipLevel)
		size.Depth = 1
		if sized && size != extent {
			return TextureFormatUndefined, fmt.Errorf("%w: view %q is %v, other targets %v", ErrTargetMismatch, view.Label, size, extent)
		}
		extent, sized = size, true
		return view.Format, nil
	}

	rp := &RenderPass{pass: pass{enc: e}}
	desc := &gpucore.RenderPassDesc{}
	for _, t := range targets.Colors {
		f, err := check(t, false)
		if err != nil {
			return nil, err
		}
		rp.colors = append(rp.colors, f)
		desc.Colors = append(desc.Colors, t.native())
	}
	if t := targets.DepthStencil; t != nil {
		f, err := check(*t, true)
		if err != nil {
			return nil, err
		}
		rp.depth = f
		a := t.native()
		desc.DepthStencil = &a
	}

	if err := e.beginPass(); err != nil {
		return nil, err
	}
	desc.Label = e.passLabel("render")
	rp.raw = e.raw.BeginRenderPass(desc)
	return rp, nil
}

// With binds a pipeline for the following Bind and Draw calls. The
// pipeline's color targets and depth format must match the pass targets.
// Errors are reported by the first call on the returned context.
func (p *RenderPass) With(pipeline *RenderPipeline) *RenderPipelineContext {
	pc := &RenderPipelineContext{pass: p, pipeline: pipeline}
	if pc.err = p.check(); pc.err != nil {
		return pc
	}
	var owner *Context
	var id uint64
	if pipeline != nil {
		owner, id = pipeline.ctx, uint64(pipeline.id)
	}
	if pc.err = p.enc.ctx.livePipeline(pipeline == nil, owner, id, kindRenderPipeline); pc.err != nil {
		return pc
	}
	if pc.err = p.matches(pipeline); pc.err != nil {
		return pc
	}
	p.raw.SetPipeline(pipeline.id)
	p.current = pc
	return pc
}

func (p *RenderPass) matches(pipeline *RenderPipeline) error {
	if len(pipeline.colorTargets) != len(p.colors) {
		return fmt.Errorf("%w: pipeline %q has %d color targets, pass has %d",
			ErrTargetMismatch, pipeline.name, len(pipeline.colorTargets), len(p.colors))
	}
	for i, ct := range pipeline.colorTargets {
		if ct.Format != p.colors[i] {
			return fmt.Errorf("%w: pipeline %q color target %d is %v, pass target is %v",
				ErrTargetMismatch, pipeline.name, i, ct.Format, p.colors[i])
		}
	}
	want := TextureFormatUndefined
	if pipeline.depthStencil != nil {
		want = pipeline.depthStencil.Format
	}
	if want != p.depth {
		return fmt.Errorf("%w: pipeline %q depth format %v, pass depth %v", ErrTargetMismatch, pipeline.name, want, p.depth)
	}
	return nil
}

// End closes the pass.
func (p *RenderPass) End() error {
	if err := p.check(); err != nil {
		return err
	}
	p.raw.End()
	p.current = nil
	p.finish()
	return nil
}

// RenderPipelineContext is a render pipeline bound in a pass. It stays
// valid until the pass binds another pipeline or ends.
type RenderPipelineContext struct {
	pass     *RenderPass
	pipeline *RenderPipeline
	err      error
}

func (pc *RenderPipelineContext) check() error {
	if pc.err != nil {
		return pc.err
	}
	if err := pc.pass.check(); err != nil {
		return err
	}
	if pc.pass.current != pc {
		return fmt.Errorf("%w: pipeline %q was replaced", ErrNoPipeline, pc.pipeline.name)
	}
	return nil
}

// Bind fills data and binds it at group.
func (pc *RenderPipelineContext) Bind(group uint32, data ShaderData) error {
	if err := pc.check(); err != nil {
		return err
	}
	bindings, err := encodeShaderData(pc.pass.enc.ctx, pc.pipeline.layouts, group, data)
	if err != nil {
		return fmt.Errorf("pipeline %q group %d: %w", pc.pipeline.name, group, err)
	}
	return deviceError("set bindings", pc.pass.raw.SetBindings(group, bindings))
}

// Draw draws instanceCount instances of vertexCount vertices.
func (pc *RenderPipelineContext) Draw(startVertex, vertexCount, startInstance, instanceCount uint32) error {
	if err := pc.check(); err != nil {
		return err
	}
	pc.pass.raw.Draw(vertexCount, instanceCount, startVertex, startInstance)
	return nil
}

// livePipeline checks that a pipeline belongs to c and is not destroyed.
func (c *Context) livePipeline(null bool, owner *Context, id uint64, kind resourceKind) error {
	if null {
		return fmt.Errorf("%w: %s", ErrNullHandle, kind)
	}
	if owner != c {
		return fmt.Errorf("%w: %s belongs to another context", ErrInvalidDescriptor, kind)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.resources.lookup(id, kind)
	return err
}

// textureDesc returns the resolved descriptor of a live texture.
func (c *Context) textureDesc(t Texture) (gpucore.TextureDesc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.resources.lookup(uint64(t.id), kindTexture)
	if err != nil {
		return gpucore.TextureDesc{}, err
	}
	return r.texture, nil
}

// viewTarget returns the descriptors of a live view and its texture.
func (c *Context) viewTarget(v TextureView) (gpucore.TextureViewDesc, gpucore.TextureDesc, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.resources.lookup(uint64(v.id), kindTextureView)
	if err != nil {
		return gpucore.TextureViewDesc{}, gpucore.TextureDesc{}, err
	}
	return r.view, r.texture, nil
}
