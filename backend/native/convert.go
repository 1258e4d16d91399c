package native

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/blade/gpucore"
)

// uniformAlignment is the size granularity of plain-data uniform buffers.
const uniformAlignment = 16

// bufferUsage maps a storage mode to HAL usage flags. Host-visible memory
// gets map usages so the HAL picks a CPU-visible heap.
func bufferUsage(m gpucore.MemoryKind) gputypes.BufferUsage {
	base := gputypes.BufferUsageStorage | gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst
	switch m {
	case gpucore.MemoryShared:
		return base | gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite
	case gpucore.MemoryUpload:
		return gputypes.BufferUsageCopySrc | gputypes.BufferUsageCopyDst | gputypes.BufferUsageMapWrite
	default:
		return base | gputypes.BufferUsageVertex
	}
}

func textureFormat(f gpucore.TextureFormat) gputypes.TextureFormat {
	switch f {
	case gpucore.TextureFormatRGBA8Unorm:
		return gputypes.TextureFormatRGBA8Unorm
	case gpucore.TextureFormatRGBA8UnormSRGB:
		return gputypes.TextureFormatRGBA8UnormSrgb
	case gpucore.TextureFormatBGRA8Unorm:
		return gputypes.TextureFormatBGRA8Unorm
	case gpucore.TextureFormatR32Float:
		return gputypes.TextureFormatR32Float
	case gpucore.TextureFormatDepth32Float:
		return gputypes.TextureFormatDepth32Float
	default:
		return gputypes.TextureFormatUndefined
	}
}

func textureUsage(u gpucore.TextureUsage) gputypes.TextureUsage {
	var out gputypes.TextureUsage
	if u&gpucore.TextureUsageCopy != 0 {
		out |= gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst
	}
	if u&gpucore.TextureUsageResource != 0 {
		out |= gputypes.TextureUsageTextureBinding
	}
	if u&gpucore.TextureUsageStorage != 0 {
		out |= gputypes.TextureUsageStorageBinding
	}
	if u&gpucore.TextureUsageTarget != 0 {
		out |= gputypes.TextureUsageRenderAttachment
	}
	return out
}

func textureDimension(d gpucore.TextureDimension) gputypes.TextureDimension {
	switch d {
	case gpucore.TextureDimension1D:
		return gputypes.TextureDimension1D
	case gpucore.TextureDimension3D:
		return gputypes.TextureDimension3D
	default:
		return gputypes.TextureDimension2D
	}
}

func viewDimension(d gpucore.ViewDimension) gputypes.TextureViewDimension {
	switch d {
	case gpucore.ViewDimension1D:
		return gputypes.TextureViewDimension1D
	case gpucore.ViewDimension2DArray:
		return gputypes.TextureViewDimension2DArray
	case gpucore.ViewDimensionCube:
		return gputypes.TextureViewDimensionCube
	case gpucore.ViewDimension3D:
		return gputypes.TextureViewDimension3D
	default:
		return gputypes.TextureViewDimension2D
	}
}

func topology(t gpucore.PrimitiveTopology) gputypes.PrimitiveTopology {
	switch t {
	case gpucore.TopologyPointList:
		return gputypes.PrimitiveTopologyPointList
	case gpucore.TopologyLineList:
		return gputypes.PrimitiveTopologyLineList
	case gpucore.TopologyLineStrip:
		return gputypes.PrimitiveTopologyLineStrip
	case gpucore.TopologyTriangleStrip:
		return gputypes.PrimitiveTopologyTriangleStrip
	default:
		return gputypes.PrimitiveTopologyTriangleList
	}
}

func frontFace(f gpucore.FrontFace) gputypes.FrontFace {
	if f == gpucore.FrontFaceCW {
		return gputypes.FrontFaceCW
	}
	return gputypes.FrontFaceCCW
}

func cullMode(c gpucore.CullMode) gputypes.CullMode {
	switch c {
	case gpucore.CullModeFront:
		return gputypes.CullModeFront
	case gpucore.CullModeBack:
		return gputypes.CullModeBack
	default:
		return gputypes.CullModeNone
	}
}

func compareFunction(c gpucore.CompareFunction) gputypes.CompareFunction {
	switch c {
	case gpucore.CompareNever:
		return gputypes.CompareFunctionNever
	case gpucore.CompareLess:
		return gputypes.CompareFunctionLess
	case gpucore.CompareLessEqual:
		return gputypes.CompareFunctionLessEqual
	case gpucore.CompareEqual:
		return gputypes.CompareFunctionEqual
	case gpucore.CompareGreaterEqual:
		return gputypes.CompareFunctionGreaterEqual
	case gpucore.CompareGreater:
		return gputypes.CompareFunctionGreater
	case gpucore.CompareNotEqual:
		return gputypes.CompareFunctionNotEqual
	default:
		return gputypes.CompareFunctionAlways
	}
}

// blendState returns nil for BlendReplace.
func blendState(m gpucore.BlendMode) *gputypes.BlendState {
	switch m {
	case gpucore.BlendPremultiplied:
		s := gputypes.BlendStatePremultiplied()
		return &s
	case gpucore.BlendAlpha:
		return &gputypes.BlendState{
			Color: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorSrcAlpha,
				DstFactor: gputypes.BlendFactorOneMinusSrcAlpha,
				Operation: gputypes.BlendOperationAdd,
			},
			Alpha: gputypes.BlendComponent{
				SrcFactor: gputypes.BlendFactorOne,
				DstFactor: gputypes.BlendFactorOneMinusSrcAlpha,
				Operation: gputypes.BlendOperationAdd,
			},
		}
	case gpucore.BlendAdditive:
		add := gputypes.BlendComponent{
			SrcFactor: gputypes.BlendFactorOne,
			DstFactor: gputypes.BlendFactorOne,
			Operation: gputypes.BlendOperationAdd,
		}
		return &gputypes.BlendState{Color: add, Alpha: add}
	default:
		return nil
	}
}

func colorWrites(w gpucore.ColorWrites) gputypes.ColorWriteMask {
	if w == gpucore.ColorWriteAll {
		return gputypes.ColorWriteMaskAll
	}
	var out gputypes.ColorWriteMask
	if w&gpucore.ColorWriteRed != 0 {
		out |= gputypes.ColorWriteMaskRed
	}
	if w&gpucore.ColorWriteGreen != 0 {
		out |= gputypes.ColorWriteMaskGreen
	}
	if w&gpucore.ColorWriteBlue != 0 {
		out |= gputypes.ColorWriteMaskBlue
	}
	if w&gpucore.ColorWriteAlpha != 0 {
		out |= gputypes.ColorWriteMaskAlpha
	}
	return out
}

func loadOp(op gpucore.LoadOp) gputypes.LoadOp {
	if op == gpucore.LoadOpClear {
		return gputypes.LoadOpClear
	}
	return gputypes.LoadOpLoad
}

func storeOp(op gpucore.StoreOp) gputypes.StoreOp {
	if op == gpucore.StoreOpDiscard {
		return gputypes.StoreOpDiscard
	}
	return gputypes.StoreOpStore
}

// layoutEntries converts a bind group layout. Render layouts are visible to
// the vertex and fragment stages and bind storage buffers read-only.
func layoutEntries(desc gpucore.BindGroupLayoutDesc, render bool) []gputypes.BindGroupLayoutEntry {
	visibility := gputypes.ShaderStageCompute
	if render {
		visibility = gputypes.ShaderStageVertex | gputypes.ShaderStageFragment
	}
	entries := make([]gputypes.BindGroupLayoutEntry, 0, len(desc.Entries))
	for _, e := range desc.Entries {
		entry := gputypes.BindGroupLayoutEntry{Binding: e.Binding, Visibility: visibility}
		switch e.Type {
		case gpucore.BindingTypePlain:
			entry.Buffer = &gputypes.BufferBindingLayout{
				Type:           gputypes.BufferBindingTypeUniform,
				MinBindingSize: alignUp(e.MinBindingSize, uniformAlignment),
			}
		case gpucore.BindingTypeStorageBuffer:
			kind := gputypes.BufferBindingTypeStorage
			if render {
				kind = gputypes.BufferBindingTypeReadOnlyStorage
			}
			entry.Buffer = &gputypes.BufferBindingLayout{Type: kind}
		case gpucore.BindingTypeSampledTexture:
			entry.Texture = &gputypes.TextureBindingLayout{
				SampleType:    gputypes.TextureSampleTypeFloat,
				ViewDimension: gputypes.TextureViewDimension2D,
			}
		}
		entries = append(entries, entry)
	}
	return entries
}

func alignUp(n, a uint64) uint64 {
	return (n + a - 1) &^ (a - 1)
}
