package gpucore

import "fmt"

// Resource IDs
//
// These opaque IDs represent native resources. Each driver maintains a
// mapping between IDs and actual backend objects.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// TextureID is an opaque handle to a GPU texture.
type TextureID uint64

// TextureViewID is an opaque handle to a texture view.
type TextureViewID uint64

// ShaderModuleID is an opaque handle to a compiled shader module.
type ShaderModuleID uint64

// ComputePipelineID is an opaque handle to a compute pipeline.
type ComputePipelineID uint64

// RenderPipelineID is an opaque handle to a render pipeline.
type RenderPipelineID uint64

// InvalidID is the zero value, representing an invalid/null resource.
const InvalidID = 0

// MemoryKind classifies where buffer bytes live and who can touch them.
type MemoryKind uint8

const (
	// MemoryDevice is GPU-private memory. The CPU cannot map it.
	MemoryDevice MemoryKind = iota

	// MemoryShared is visible to both CPU and GPU.
	MemoryShared

	// MemoryUpload is CPU-visible, write-combined memory meant for uploads.
	MemoryUpload
)

// String returns the string representation of MemoryKind.
func (m MemoryKind) String() string {
	switch m {
	case MemoryDevice:
		return "Device"
	case MemoryShared:
		return "Shared"
	case MemoryUpload:
		return "Upload"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// HostVisible reports whether the CPU may read or write the memory.
func (m MemoryKind) HostVisible() bool {
	return m == MemoryShared || m == MemoryUpload
}

// BufferDesc describes a buffer to create.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Memory selects the storage mode.
	Memory MemoryKind
}

// TextureFormat specifies the format of texture data.
type TextureFormat uint32

// Texture formats.
const (
	// TextureFormatUndefined means "inherit" where a format is optional.
	TextureFormatUndefined TextureFormat = iota

	// TextureFormatRGBA8Unorm is 8-bit RGBA, normalized unsigned integer.
	TextureFormatRGBA8Unorm

	// TextureFormatRGBA8UnormSRGB is 8-bit RGBA, normalized unsigned integer in sRGB color space.
	TextureFormatRGBA8UnormSRGB

	// TextureFormatBGRA8Unorm is 8-bit BGRA, normalized unsigned integer.
	TextureFormatBGRA8Unorm

	// TextureFormatR32Float is 32-bit red channel only, floating point.
	TextureFormatR32Float

	// TextureFormatDepth32Float is a 32-bit floating point depth format.
	TextureFormatDepth32Float
)

// BlockSize returns the number of bytes per texel, or 0 for unknown formats.
func (f TextureFormat) BlockSize() uint32 {
	switch f {
	case TextureFormatRGBA8Unorm, TextureFormatRGBA8UnormSRGB, TextureFormatBGRA8Unorm,
		TextureFormatR32Float, TextureFormatDepth32Float:
		return 4
	default:
		return 0
	}
}

// IsDepth reports whether the format carries depth data.
func (f TextureFormat) IsDepth() bool {
	return f == TextureFormatDepth32Float
}

// String returns the string representation of TextureFormat.
func (f TextureFormat) String() string {
	switch f {
	case TextureFormatUndefined:
		return "Undefined"
	case TextureFormatRGBA8Unorm:
		return "RGBA8Unorm"
	case TextureFormatRGBA8UnormSRGB:
		return "RGBA8UnormSRGB"
	case TextureFormatBGRA8Unorm:
		return "BGRA8Unorm"
	case TextureFormatR32Float:
		return "R32Float"
	case TextureFormatDepth32Float:
		return "Depth32Float"
	default:
		return fmt.Sprintf("Unknown(%d)", int(f))
	}
}

// TextureUsage is a bitmask specifying how a texture will be used.
type TextureUsage uint32

// Texture usage flags.
const (
	// TextureUsageCopy allows the texture to be a copy source or destination.
	TextureUsageCopy TextureUsage = 1 << 0

	// TextureUsageResource allows the texture to be bound for sampling.
	TextureUsageResource TextureUsage = 1 << 1

	// TextureUsageStorage allows the texture to be bound as a storage texture.
	TextureUsageStorage TextureUsage = 1 << 2

	// TextureUsageTarget allows the texture to be used as a render target.
	TextureUsageTarget TextureUsage = 1 << 3
)

// TextureDimension is the dimensionality of a texture.
type TextureDimension uint8

const (
	TextureDimension1D TextureDimension = iota + 1
	TextureDimension2D
	TextureDimension3D
)

// ViewDimension is the dimensionality of a texture view.
type ViewDimension uint8

const (
	// ViewDimensionUndefined inherits the texture's dimension.
	ViewDimensionUndefined ViewDimension = iota
	ViewDimension1D
	ViewDimension2D
	ViewDimension2DArray
	ViewDimensionCube
	ViewDimension3D
)

// Extent is a texture size in texels.
type Extent struct {
	Width  uint32
	Height uint32
	Depth  uint32
}

// TextureDesc describes a texture to create.
type TextureDesc struct {
	Label           string
	Format          TextureFormat
	Size            Extent
	Dimension       TextureDimension
	ArrayLayerCount uint32
	MipLevelCount   uint32
	Usage           TextureUsage
}

// TextureViewDesc describes a texture view to create.
// Counts are already resolved by the caller; drivers receive non-zero values.
type TextureViewDesc struct {
	Label           string
	Texture         TextureID
	Format          TextureFormat
	Dimension       ViewDimension
	BaseMipLevel    uint32
	MipLevelCount   uint32
	BaseArrayLayer  uint32
	ArrayLayerCount uint32
}

// BindingType specifies the type of a shader binding.
type BindingType uint32

// Binding types.
const (
	// BindingTypePlain is a small uniform block written by value.
	BindingTypePlain BindingType = iota + 1

	// BindingTypeStorageBuffer is a storage buffer binding (read-write).
	BindingTypeStorageBuffer

	// BindingTypeSampledTexture is a sampled texture binding.
	BindingTypeSampledTexture
)

// BindGroupLayoutEntry describes a single binding in a bind group layout.
type BindGroupLayoutEntry struct {
	// Binding is the binding index.
	Binding uint32

	// Type is the type of resource bound at this index.
	Type BindingType

	// MinBindingSize is the byte size of plain bindings.
	// Set to 0 for non-plain bindings.
	MinBindingSize uint64
}

// BindGroupLayoutDesc describes a bind group layout.
type BindGroupLayoutDesc struct {
	// Label is an optional debug label.
	Label string

	// Entries defines the bindings in this layout.
	Entries []BindGroupLayoutEntry
}

// Binding is one resolved resource binding recorded into a pass.
type Binding struct {
	// Binding is the binding index.
	Binding uint32

	// Type selects which of the fields below is meaningful.
	Type BindingType

	// Data is the encoded value of a plain binding.
	Data []byte

	// Buffer, Offset and Size describe a storage buffer range.
	Buffer BufferID
	Offset uint64
	Size   uint64

	// View is the bound texture view.
	View TextureViewID
}

// ShaderModuleDesc describes a shader module.
type ShaderModuleDesc struct {
	Label string

	// WGSL is the shader source.
	WGSL string
}

// ComputePipelineDesc describes a compute pipeline.
type ComputePipelineDesc struct {
	// Label is an optional debug label.
	Label string

	// Layouts has one bind group layout per data group.
	Layouts []BindGroupLayoutDesc

	// ShaderModule contains the compute shader.
	ShaderModule ShaderModuleID

	// EntryPoint is the name of the shader entry point function.
	EntryPoint string

	// WorkgroupSize is the reflected workgroup size of EntryPoint.
	WorkgroupSize [3]uint32
}

// PrimitiveTopology selects how vertices are assembled.
type PrimitiveTopology uint8

const (
	TopologyPointList PrimitiveTopology = iota
	TopologyLineList
	TopologyLineStrip
	TopologyTriangleList
	TopologyTriangleStrip
)

// FrontFace is the winding order considered front-facing.
type FrontFace uint8

const (
	FrontFaceCCW FrontFace = iota
	FrontFaceCW
)

// CullMode selects which faces are discarded.
type CullMode uint8

const (
	CullModeNone CullMode = iota
	CullModeFront
	CullModeBack
)

// PrimitiveState is the fixed-function rasterizer state of a render pipeline.
type PrimitiveState struct {
	Topology       PrimitiveTopology
	FrontFace      FrontFace
	CullMode       CullMode
	Wireframe      bool
	UnclippedDepth bool
}

// CompareFunction is a depth comparison.
type CompareFunction uint8

const (
	CompareAlways CompareFunction = iota
	CompareNever
	CompareLess
	CompareLessEqual
	CompareEqual
	CompareGreaterEqual
	CompareGreater
	CompareNotEqual
)

// DepthBiasState is the constant and slope-scaled depth bias.
type DepthBiasState struct {
	Constant   int32
	SlopeScale float32
	Clamp      float32
}

// DepthStencilState is the optional depth configuration of a render pipeline.
type DepthStencilState struct {
	Format            TextureFormat
	DepthWriteEnabled bool
	DepthCompare      CompareFunction
	Bias              DepthBiasState
}

// BlendMode selects a color blending preset.
type BlendMode uint8

const (
	BlendReplace BlendMode = iota
	BlendAlpha
	BlendPremultiplied
	BlendAdditive
)

// ColorWrites is a channel write mask.
type ColorWrites uint8

const (
	ColorWriteRed ColorWrites = 1 << iota
	ColorWriteGreen
	ColorWriteBlue
	ColorWriteAlpha

	ColorWriteAll = ColorWriteRed | ColorWriteGreen | ColorWriteBlue | ColorWriteAlpha
)

// ColorTargetState describes one color attachment of a render pipeline.
type ColorTargetState struct {
	Format    TextureFormat
	Blend     BlendMode
	WriteMask ColorWrites
}

// RenderPipelineDesc describes a render pipeline.
type RenderPipelineDesc struct {
	Label          string
	Layouts        []BindGroupLayoutDesc
	VertexModule   ShaderModuleID
	VertexEntry    string
	FragmentModule ShaderModuleID
	FragmentEntry  string
	Primitive      PrimitiveState
	ColorTargets   []ColorTargetState
	DepthStencil   *DepthStencilState
}

// LoadOp is how an attachment is initialized at the start of a pass.
type LoadOp uint8

const (
	LoadOpLoad LoadOp = iota
	LoadOpClear
)

// StoreOp is what happens to an attachment at the end of a pass.
type StoreOp uint8

const (
	StoreOpStore StoreOp = iota
	StoreOpDiscard
)

// Attachment is one render pass target.
type Attachment struct {
	View       TextureViewID
	Load       LoadOp
	Store      StoreOp
	ClearColor [4]float64
	ClearDepth float32
}

// RenderPassDesc describes a render pass.
type RenderPassDesc struct {
	Label        string
	Colors       []Attachment
	DepthStencil *Attachment
}

// BufferTextureCopy describes a buffer to texture copy.
type BufferTextureCopy struct {
	Buffer       BufferID
	Offset       uint64
	BytesPerRow  uint32
	RowsPerImage uint32
	Texture      TextureID
	MipLevel     uint32
	Origin       [3]uint32
	Size         Extent
}

// Capabilities describes device limits the core validates against.
type Capabilities struct {
	// Name is the adapter name reported by the driver.
	Name string

	// Backend is the native API in use (e.g. "metal", "software").
	Backend string

	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64

	// MaxTextureDimension2D is the largest 2D texture edge.
	MaxTextureDimension2D uint32

	// MaxWorkgroupSize is the maximum workgroup size in each dimension.
	MaxWorkgroupSize [3]uint32

	// MaxWorkgroupsPerDimension is the maximum dispatch size per axis.
	MaxWorkgroupsPerDimension uint32
}
