package blade

import (
	"errors"
	"fmt"

	"github.com/gogpu/blade/gpucore"
)

// PrimitiveTopology selects how vertices are assembled into primitives.
type PrimitiveTopology = gpucore.PrimitiveTopology

// Primitive topologies.
const (
	TopologyPointList     = gpucore.TopologyPointList
	TopologyLineList      = gpucore.TopologyLineList
	TopologyLineStrip     = gpucore.TopologyLineStrip
	TopologyTriangleList  = gpucore.TopologyTriangleList
	TopologyTriangleStrip = gpucore.TopologyTriangleStrip
)

// FrontFace is the winding order of front-facing triangles.
type FrontFace = gpucore.FrontFace

// Winding orders.
const (
	FrontFaceCCW = gpucore.FrontFaceCCW
	FrontFaceCW  = gpucore.FrontFaceCW
)

// CullMode selects which faces are discarded.
type CullMode = gpucore.CullMode

// Cull modes.
const (
	CullModeNone  = gpucore.CullModeNone
	CullModeFront = gpucore.CullModeFront
	CullModeBack  = gpucore.CullModeBack
)

// PrimitiveState is the rasterizer state baked into a render pipeline.
type PrimitiveState = gpucore.PrimitiveState

// CompareFunction is a depth test.
type CompareFunction = gpucore.CompareFunction

// Depth tests.
const (
	CompareAlways       = gpucore.CompareAlways
	CompareNever        = gpucore.CompareNever
	CompareLess         = gpucore.CompareLess
	CompareLessEqual    = gpucore.CompareLessEqual
	CompareEqual        = gpucore.CompareEqual
	CompareGreaterEqual = gpucore.CompareGreaterEqual
	CompareGreater      = gpucore.CompareGreater
	CompareNotEqual     = gpucore.CompareNotEqual
)

// DepthBiasState is the constant and slope-scaled depth bias.
type DepthBiasState = gpucore.DepthBiasState

// DepthStencilState is the depth configuration of a render pipeline.
type DepthStencilState = gpucore.DepthStencilState

// BlendMode is a color blending preset.
type BlendMode = gpucore.BlendMode

// Blend modes.
const (
	BlendReplace       = gpucore.BlendReplace
	BlendAlpha         = gpucore.BlendAlpha
	BlendPremultiplied = gpucore.BlendPremultiplied
	BlendAdditive      = gpucore.BlendAdditive
)

// ColorWrites is a channel write mask. A zero mask in a ColorTargetState
// means ColorWriteAll.
type ColorWrites = gpucore.ColorWrites

// Color write masks.
const (
	ColorWriteRed   = gpucore.ColorWriteRed
	ColorWriteGreen = gpucore.ColorWriteGreen
	ColorWriteBlue  = gpucore.ColorWriteBlue
	ColorWriteAlpha = gpucore.ColorWriteAlpha
	ColorWriteAll   = gpucore.ColorWriteAll
)

// ColorTargetState describes one color target of a render pipeline.
type ColorTargetState = gpucore.ColorTargetState

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	Name        string
	DataLayouts []*ShaderDataLayout
	Compute     ShaderFunction
}

// ComputePipeline is an immutable compute pipeline.
type ComputePipeline struct {
	ctx       *Context
	name      string
	id        gpucore.ComputePipelineID
	shader    *Shader
	layouts   []*ShaderDataLayout
	workgroup [3]uint32

	// guarded by ctx.mu
	destroyed bool
}

// Name returns the pipeline name.
func (p *ComputePipeline) Name() string { return p.name }

// WorkgroupSize returns the workgroup size of the compute entry point.
func (p *ComputePipeline) WorkgroupSize() [3]uint32 { return p.workgroup }

// WorkgroupCount returns the number of workgroups needed to cover domain,
// rounding up on each axis.
func (p *ComputePipeline) WorkgroupCount(domain [3]uint32) [3]uint32 {
	return WorkgroupCount(domain, p.workgroup)
}

// WorkgroupCount divides domain by size on each axis, rounding up.
// The result times size covers domain. A zero size counts as 1.
func WorkgroupCount(domain, size [3]uint32) [3]uint32 {
	var out [3]uint32
	for i := range out {
		s := uint64(max(size[i], 1))
		out[i] = uint32((uint64(domain[i]) + s - 1) / s)
	}
	return out
}

// validateLayouts checks each data layout and converts them for the driver.
func validateLayouts(layouts []*ShaderDataLayout) ([]gpucore.BindGroupLayoutDesc, error) {
	out := make([]gpucore.BindGroupLayoutDesc, len(layouts))
	for i, l := range layouts {
		if l == nil {
			return nil, fmt.Errorf("%w: data layout %d is nil", ErrBindingMismatch, i)
		}
		if err := l.validate(); err != nil {
			return nil, fmt.Errorf("data layout %d: %w", i, err)
		}
		out[i] = l.native()
	}
	return out, nil
}

// CreateComputePipeline builds a compute pipeline from a compute entry point.
// Failures are returned as *PipelineCreationError.
func (c *Context) CreateComputePipeline(desc ComputePipelineDesc) (*ComputePipeline, error) {
	fail := func(stage ShaderStage, err error) (*ComputePipeline, error) {
		return nil, &PipelineCreationError{Name: desc.Name, Stage: stage, Err: err}
	}
	layouts, err := validateLayouts(desc.DataLayouts)
	if err != nil {
		return fail(0, err)
	}
	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	ep, err := c.resolveFunction(desc.Compute, StageCompute)
	if err != nil {
		return fail(StageCompute, err)
	}
	shader := desc.Compute.Shader
	id, err := c.device.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label:         desc.Name,
		Layouts:       layouts,
		ShaderModule:  shader.module,
		EntryPoint:    ep.Name,
		WorkgroupSize: ep.WorkgroupSize,
	})
	if err != nil {
		return fail(StageCompute, err)
	}
	shader.refs++
	c.resources.add(uint64(id), &resource{kind: kindComputePipeline, name: desc.Name})
	c.log.Debug("blade: compute pipeline created", "name", desc.Name, "entry", ep.Name, "workgroup", ep.WorkgroupSize)

	return &ComputePipeline{
		ctx:       c,
		name:      desc.Name,
		id:        id,
		shader:    shader,
		layouts:   append([]*ShaderDataLayout(nil), desc.DataLayouts...),
		workgroup: ep.WorkgroupSize,
	}, nil
}

// DestroyComputePipeline releases a compute pipeline and its shader reference.
func (c *Context) DestroyComputePipeline(p *ComputePipeline) error {
	if p == nil {
		return fmt.Errorf("%w: compute pipeline", ErrNullHandle)
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if p.ctx != c {
		return fmt.Errorf("%w: compute pipeline %q belongs to another context", ErrInvalidDescriptor, p.name)
	}
	if _, err := c.resources.retire(uint64(p.id), kindComputePipeline); err != nil {
		return err
	}
	p.destroyed = true
	c.device.DestroyComputePipeline(p.id)
	c.releaseShaderLocked(p.shader)
	return nil
}

// RenderPipelineDesc describes a render pipeline.
type RenderPipelineDesc struct {
	Name         string
	DataLayouts  []*ShaderDataLayout
	Primitive    PrimitiveState
	Vertex       ShaderFunction
	Fragment     ShaderFunction
	ColorTargets []ColorTargetState

	// DepthStencil is nil for pipelines without a depth target.
	DepthStencil *DepthStencilState
}

// RenderPipeline is an immutable render pipeline.
type RenderPipeline struct {
	ctx          *Context
	name         string
	id           gpucore.RenderPipelineID
	shaders      [2]*Shader
	layouts      []*ShaderDataLayout
	primitive    PrimitiveState
	colorTargets []ColorTargetState
	depthStencil *DepthStencilState

	// guarded by ctx.mu
	destroyed bool
}

// Name returns the pipeline name.
func (p *RenderPipeline) Name() string { return p.name }

// Primitive returns the rasterizer state the pipeline was built with.
func (p *RenderPipeline) Primitive() PrimitiveState { return p.primitive }

// ColorTargets returns the color target states of the pipeline.
func (p *RenderPipeline) ColorTargets() []ColorTargetState {
	return append([]ColorTargetState(nil), p.colorTargets...)
}

// DepthStencil returns the depth state of the pipeline, or nil.
func (p *RenderPipeline) DepthStencil() *DepthStencilState {
	if p.depthStencil == nil {
		return nil
	}
	ds := *p.depthStencil
	return &ds
}

func validateRenderState(desc *RenderPipelineDesc) error {
	if desc.Primitive.Topology > TopologyTriangleStrip {
		return fmt.Errorf("%w: topology %d", ErrInvalidDescriptor, desc.Primitive.Topology)
	}
	if desc.Primitive.FrontFace > FrontFaceCW || desc.Primitive.CullMode > CullModeBack {
		return fmt.Errorf("%w: rasterizer state %+v", ErrInvalidDescriptor, desc.Primitive)
	}
	for i, ct := range desc.ColorTargets {
		if ct.Format.BlockSize() == 0 || ct.Format.IsDepth() {
			return fmt.Errorf("%w: color target %d format %v", ErrInvalidDescriptor, i, ct.Format)
		}
		if ct.Blend > BlendAdditive {
			return fmt.Errorf("%w: color target %d blend %d", ErrInvalidDescriptor, i, ct.Blend)
		}
	}
	if ds := desc.DepthStencil; ds != nil {
		if !ds.Format.IsDepth() {
			return fmt.Errorf("%w: depth format %v", ErrInvalidDescriptor, ds.Format)
		}
		if ds.DepthCompare > CompareNotEqual {
			return fmt.Errorf("%w: depth compare %d", ErrInvalidDescriptor, ds.DepthCompare)
		}
	}
	return nil
}

// CreateRenderPipeline builds a render pipeline from a vertex and a
// fragment entry point. The rasterizer, color target and depth state are
// fixed for the lifetime of the pipeline. Failures are returned as
// *PipelineCreationError.
func (c *Context) CreateRenderPipeline(desc RenderPipelineDesc) (*RenderPipeline, error) {
	fail := func(stage ShaderStage, err error) (*RenderPipeline, error) {
		return nil, &PipelineCreationError{Name: desc.Name, Stage: stage, Err: err}
	}
	layouts, err := validateLayouts(desc.DataLayouts)
	if err != nil {
		return fail(0, err)
	}
	if err := validateRenderState(&desc); err != nil {
		return fail(0, err)
	}
	targets := append([]ColorTargetState(nil), desc.ColorTargets...)
	for i := range targets {
		if targets[i].WriteMask == 0 {
			targets[i].WriteMask = ColorWriteAll
		}
	}
	var depth *DepthStencilState
	if desc.DepthStencil != nil {
		ds := *desc.DepthStencil
		depth = &ds
	}

	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	vs, err := c.resolveFunction(desc.Vertex, StageVertex)
	if err != nil {
		return fail(StageVertex, err)
	}
	fs, err := c.resolveFunction(desc.Fragment, StageFragment)
	if err != nil {
		return fail(StageFragment, err)
	}

	id, err := c.device.CreateRenderPipeline(&gpucore.RenderPipelineDesc{
		Label:          desc.Name,
		Layouts:        layouts,
		VertexModule:   desc.Vertex.Shader.module,
		VertexEntry:    vs.Name,
		FragmentModule: desc.Fragment.Shader.module,
		FragmentEntry:  fs.Name,
		Primitive:      desc.Primitive,
		ColorTargets:   targets,
		DepthStencil:   depth,
	})
	if errors.Is(err, gpucore.ErrUnsupported) {
		return fail(0, &NotSupportedError{Reason: "render pipeline state", Err: err})
	}
	if err != nil {
		return fail(0, err)
	}
	shaders := [2]*Shader{desc.Vertex.Shader, desc.Fragment.Shader}
	for _, s := range shaders {
		s.refs++
	}
	c.resources.add(uint64(id), &resource{kind: kindRenderPipeline, name: desc.Name})
	c.log.Debug("blade: render pipeline created", "name", desc.Name,
		"vertex", vs.Name, "fragment", fs.Name, "targets", len(targets))

	return &RenderPipeline{
		ctx:          c,
		name:         desc.Name,
		id:           id,
		shaders:      shaders,
		layouts:      append([]*ShaderDataLayout(nil), desc.DataLayouts...),
		primitive:    desc.Primitive,
		colorTargets: targets,
		depthStencil: depth,
	}, nil
}

// DestroyRenderPipeline releases a render pipeline and its shader references.
func (c *Context) DestroyRenderPipeline(p *RenderPipeline) error {
	if p == nil {
		return fmt.Errorf("%w: render pipeline", ErrNullHandle)
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if p.ctx != c {
		return fmt.Errorf("%w: render pipeline %q belongs to another context", ErrInvalidDescriptor, p.name)
	}
	if _, err := c.resources.retire(uint64(p.id), kindRenderPipeline); err != nil {
		return err
	}
	p.destroyed = true
	c.device.DestroyRenderPipeline(p.id)
	for _, s := range p.shaders {
		c.releaseShaderLocked(s)
	}
	return nil
}
