package blade

import (
	"fmt"
	"math/bits"

	"github.com/gogpu/blade/gpucore"
)

// TextureFormat is the texel format of a texture.
type TextureFormat = gpucore.TextureFormat

// Texture formats.
const (
	TextureFormatUndefined      = gpucore.TextureFormatUndefined
	TextureFormatRGBA8Unorm     = gpucore.TextureFormatRGBA8Unorm
	TextureFormatRGBA8UnormSRGB = gpucore.TextureFormatRGBA8UnormSRGB
	TextureFormatBGRA8Unorm     = gpucore.TextureFormatBGRA8Unorm
	TextureFormatR32Float       = gpucore.TextureFormatR32Float
	TextureFormatDepth32Float   = gpucore.TextureFormatDepth32Float
)

// TextureUsage is a set of ways a texture may be used.
type TextureUsage = gpucore.TextureUsage

// Texture usages.
const (
	TextureUsageCopy     = gpucore.TextureUsageCopy
	TextureUsageResource = gpucore.TextureUsageResource
	TextureUsageStorage  = gpucore.TextureUsageStorage
	TextureUsageTarget   = gpucore.TextureUsageTarget
)

// TextureDimension is the dimensionality of a texture.
type TextureDimension = gpucore.TextureDimension

// Texture dimensions. The zero value selects 2D.
const (
	TextureDimension1D = gpucore.TextureDimension1D
	TextureDimension2D = gpucore.TextureDimension2D
	TextureDimension3D = gpucore.TextureDimension3D
)

// ViewDimension is the dimensionality of a texture view.
type ViewDimension = gpucore.ViewDimension

// View dimensions. The zero value is derived from the texture.
const (
	ViewDimensionUndefined = gpucore.ViewDimensionUndefined
	ViewDimension1D        = gpucore.ViewDimension1D
	ViewDimension2D        = gpucore.ViewDimension2D
	ViewDimension2DArray   = gpucore.ViewDimension2DArray
	ViewDimensionCube      = gpucore.ViewDimensionCube
	ViewDimension3D        = gpucore.ViewDimension3D
)

// Extent is a size in texels.
type Extent = gpucore.Extent

// TextureDesc describes a texture.
type TextureDesc struct {
	Name      string
	Format    TextureFormat
	Size      Extent
	Dimension TextureDimension

	// ArrayLayerCount is the number of layers of a 1D or 2D texture.
	// Zero means 1.
	ArrayLayerCount uint32

	// MipLevelCount is the number of mip levels. Zero means 1.
	MipLevelCount uint32

	Usage TextureUsage
}

// MaxMipLevels returns the length of the full mip chain for a texture of
// the given size and dimension.
func MaxMipLevels(size Extent, dim TextureDimension) uint32 {
	m := size.Width
	switch dim {
	case TextureDimension1D:
	case TextureDimension3D:
		m = max(m, size.Height, size.Depth)
	default:
		m = max(m, size.Height)
	}
	if m == 0 {
		return 0
	}
	return uint32(bits.Len32(m))
}

// resolveTextureDesc validates desc and fills in defaults.
func resolveTextureDesc(desc TextureDesc, caps gpucore.Capabilities) (gpucore.TextureDesc, error) {
	out := gpucore.TextureDesc{
		Label:           desc.Name,
		Format:          desc.Format,
		Size:            desc.Size,
		Dimension:       desc.Dimension,
		ArrayLayerCount: max(desc.ArrayLayerCount, 1),
		MipLevelCount:   max(desc.MipLevelCount, 1),
		Usage:           desc.Usage,
	}
	if out.Dimension == 0 {
		out.Dimension = TextureDimension2D
	}
	if out.Size.Depth == 0 {
		out.Size.Depth = 1
	}

	if out.Format.BlockSize() == 0 {
		return out, fmt.Errorf("%w: texture %q format %v", ErrInvalidDescriptor, desc.Name, desc.Format)
	}
	if out.Usage == 0 {
		return out, fmt.Errorf("%w: texture %q has no usage", ErrInvalidDescriptor, desc.Name)
	}
	if out.Size.Width == 0 || out.Size.Height == 0 {
		return out, fmt.Errorf("%w: texture %q extent %v", ErrInvalidSize, desc.Name, desc.Size)
	}
	if limit := caps.MaxTextureDimension2D; limit > 0 && (out.Size.Width > limit || out.Size.Height > limit) {
		return out, fmt.Errorf("%w: texture %q extent %v exceeds %d", ErrInvalidSize, desc.Name, desc.Size, limit)
	}

	switch out.Dimension {
	case TextureDimension1D:
		if out.Size.Height != 1 || out.Size.Depth != 1 {
			return out, fmt.Errorf("%w: 1D texture %q extent %v", ErrInvalidSize, desc.Name, desc.Size)
		}
	case TextureDimension2D:
		if out.Size.Depth != 1 {
			return out, fmt.Errorf("%w: 2D texture %q has depth %d; use array layers", ErrInvalidSize, desc.Name, out.Size.Depth)
		}
	case TextureDimension3D:
		if out.ArrayLayerCount != 1 {
			return out, fmt.Errorf("%w: 3D texture %q has %d layers", ErrInvalidDescriptor, desc.Name, out.ArrayLayerCount)
		}
	default:
		return out, fmt.Errorf("%w: texture %q dimension %d", ErrInvalidDescriptor, desc.Name, desc.Dimension)
	}

	if out.Format.IsDepth() && out.Dimension != TextureDimension2D {
		return out, fmt.Errorf("%w: depth texture %q must be 2D", ErrInvalidDescriptor, desc.Name)
	}
	if limit := MaxMipLevels(out.Size, out.Dimension); out.MipLevelCount > limit {
		return out, fmt.Errorf("%w: texture %q has %d mip levels, at most %d", ErrInvalidDescriptor, desc.Name, out.MipLevelCount, limit)
	}
	return out, nil
}

// CreateTexture allocates a texture.
func (c *Context) CreateTexture(desc TextureDesc) (Texture, error) {
	resolved, err := resolveTextureDesc(desc, c.caps)
	if err != nil {
		return Texture{}, err
	}
	if err := c.lock(); err != nil {
		return Texture{}, err
	}
	defer c.mu.Unlock()

	id, err := c.device.CreateTexture(&resolved)
	if err != nil {
		return Texture{}, deviceError("create texture", err)
	}
	c.resources.add(uint64(id), &resource{kind: kindTexture, name: desc.Name, texture: resolved})
	c.log.Debug("blade: texture created", "name", desc.Name, "format", resolved.Format,
		"width", resolved.Size.Width, "height", resolved.Size.Height, "mips", resolved.MipLevelCount)
	return Texture{id: id}, nil
}

// DestroyTexture releases a texture. Views of the texture stay valid
// until they are destroyed.
func (c *Context) DestroyTexture(t Texture) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	r, err := c.resources.retire(uint64(t.id), kindTexture)
	if err != nil {
		return err
	}
	c.device.DestroyTexture(t.id)
	c.log.Debug("blade: texture destroyed", "name", r.name)
	return nil
}

// TextureViewDesc describes a view of a texture.
type TextureViewDesc struct {
	Name    string
	Texture Texture

	// Format must be undefined (inherit) or equal to the texture format.
	Format TextureFormat

	// Dimension defaults to the texture's dimension, or 2D array for
	// layered 2D textures.
	Dimension ViewDimension

	BaseMipLevel uint32

	// MipLevelCount of zero means all levels from BaseMipLevel.
	MipLevelCount uint32

	BaseArrayLayer uint32

	// ArrayLayerCount of zero means all layers from BaseArrayLayer.
	ArrayLayerCount uint32
}

// resolveViewDesc validates a view against its texture and fills in defaults.
func resolveViewDesc(desc TextureViewDesc, tex *gpucore.TextureDesc) (gpucore.TextureViewDesc, error) {
	out := gpucore.TextureViewDesc{
		Label:           desc.Name,
		Texture:         desc.Texture.id,
		Format:          desc.Format,
		Dimension:       desc.Dimension,
		BaseMipLevel:    desc.BaseMipLevel,
		MipLevelCount:   desc.MipLevelCount,
		BaseArrayLayer:  desc.BaseArrayLayer,
		ArrayLayerCount: desc.ArrayLayerCount,
	}
	if out.Format == TextureFormatUndefined {
		out.Format = tex.Format
	}
	if out.Format != tex.Format {
		return out, fmt.Errorf("%w: view %q format %v of %v texture", ErrInvalidDescriptor, desc.Name, out.Format, tex.Format)
	}

	if out.Dimension == ViewDimensionUndefined {
		switch {
		case tex.Dimension == TextureDimension1D:
			out.Dimension = ViewDimension1D
		case tex.Dimension == TextureDimension3D:
			out.Dimension = ViewDimension3D
		case tex.ArrayLayerCount > 1:
			out.Dimension = ViewDimension2DArray
		default:
			out.Dimension = ViewDimension2D
		}
	}

	if out.BaseMipLevel >= tex.MipLevelCount {
		return out, fmt.Errorf("%w: view %q base mip %d of %d", ErrOutOfRange, desc.Name, out.BaseMipLevel, tex.MipLevelCount)
	}
	if out.MipLevelCount == 0 {
		out.MipLevelCount = tex.MipLevelCount - out.BaseMipLevel
	}
	if out.BaseMipLevel+out.MipLevelCount > tex.MipLevelCount {
		return out, fmt.Errorf("%w: view %q mips [%d,%d) of %d", ErrOutOfRange, desc.Name,
			out.BaseMipLevel, out.BaseMipLevel+out.MipLevelCount, tex.MipLevelCount)
	}

	if out.BaseArrayLayer >= tex.ArrayLayerCount {
		return out, fmt.Errorf("%w: view %q base layer %d of %d", ErrOutOfRange, desc.Name, out.BaseArrayLayer, tex.ArrayLayerCount)
	}
	if out.ArrayLayerCount == 0 {
		out.ArrayLayerCount = tex.ArrayLayerCount - out.BaseArrayLayer
		if out.Dimension == ViewDimension2D || out.Dimension == ViewDimension1D {
			out.ArrayLayerCount = 1
		}
	}
	if out.BaseArrayLayer+out.ArrayLayerCount > tex.ArrayLayerCount {
		return out, fmt.Errorf("%w: view %q layers [%d,%d) of %d", ErrOutOfRange, desc.Name,
			out.BaseArrayLayer, out.BaseArrayLayer+out.ArrayLayerCount, tex.ArrayLayerCount)
	}

	switch out.Dimension {
	case ViewDimension1D:
		if tex.Dimension != TextureDimension1D || out.ArrayLayerCount != 1 {
			return out, fmt.Errorf("%w: 1D view %q", ErrInvalidDescriptor, desc.Name)
		}
	case ViewDimension2D, ViewDimension2DArray:
		if tex.Dimension != TextureDimension2D {
			return out, fmt.Errorf("%w: 2D view %q of %dD texture", ErrInvalidDescriptor, desc.Name, tex.Dimension)
		}
		if out.Dimension == ViewDimension2D && out.ArrayLayerCount != 1 {
			return out, fmt.Errorf("%w: 2D view %q spans %d layers", ErrInvalidDescriptor, desc.Name, out.ArrayLayerCount)
		}
	case ViewDimensionCube:
		if tex.Dimension != TextureDimension2D || out.ArrayLayerCount != 6 || tex.Size.Width != tex.Size.Height {
			return out, fmt.Errorf("%w: cube view %q needs 6 square layers", ErrInvalidDescriptor, desc.Name)
		}
	case ViewDimension3D:
		if tex.Dimension != TextureDimension3D {
			return out, fmt.Errorf("%w: 3D view %q of %dD texture", ErrInvalidDescriptor, desc.Name, tex.Dimension)
		}
	default:
		return out, fmt.Errorf("%w: view %q dimension %d", ErrInvalidDescriptor, desc.Name, desc.Dimension)
	}
	return out, nil
}

// CreateTextureView creates a view of a live texture.
func (c *Context) CreateTextureView(desc TextureViewDesc) (TextureView, error) {
	if err := c.lock(); err != nil {
		return TextureView{}, err
	}
	defer c.mu.Unlock()

	tex, err := c.resources.lookup(uint64(desc.Texture.id), kindTexture)
	if err != nil {
		return TextureView{}, err
	}
	resolved, err := resolveViewDesc(desc, &tex.texture)
	if err != nil {
		return TextureView{}, err
	}
	id, err := c.device.CreateTextureView(&resolved)
	if err != nil {
		return TextureView{}, deviceError("create texture view", err)
	}
	c.resources.add(uint64(id), &resource{kind: kindTextureView, name: desc.Name, texture: tex.texture, view: resolved})
	return TextureView{id: id}, nil
}

// DestroyTextureView releases a texture view.
func (c *Context) DestroyTextureView(v TextureView) error {
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if _, err := c.resources.retire(uint64(v.id), kindTextureView); err != nil {
		return err
	}
	c.device.DestroyTextureView(v.id)
	return nil
}

// viewFormat returns the format of a live view.
func (c *Context) viewFormat(v TextureView) (TextureFormat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, err := c.resources.lookup(uint64(v.id), kindTextureView)
	if err != nil {
		return TextureFormatUndefined, err
	}
	return r.view.Format, nil
}

// mipExtent returns the size of a mip level of a texture, with Depth holding
// the depth of 3D textures or the layer count otherwise.
func mipExtent(desc *gpucore.TextureDesc, level uint32) Extent {
	e := Extent{
		Width:  max(desc.Size.Width>>level, 1),
		Height: max(desc.Size.Height>>level, 1),
		Depth:  desc.ArrayLayerCount,
	}
	if desc.Dimension == TextureDimension3D {
		e.Depth = max(desc.Size.Depth>>level, 1)
	}
	if desc.Dimension == TextureDimension1D {
		e.Height = 1
	}
	return e
}
