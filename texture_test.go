package blade

import (
	"errors"
	"testing"
)

func TestMaxMipLevels(t *testing.T) {
	tests := []struct {
		size Extent
		dim  TextureDimension
		want uint32
	}{
		{Extent{Width: 1, Height: 1, Depth: 1}, TextureDimension2D, 1},
		{Extent{Width: 2, Height: 1, Depth: 1}, TextureDimension2D, 2},
		{Extent{Width: 256, Height: 256, Depth: 1}, TextureDimension2D, 9},
		{Extent{Width: 300, Height: 20, Depth: 1}, TextureDimension2D, 9},
		{Extent{Width: 16, Height: 1, Depth: 1}, TextureDimension1D, 5},
		{Extent{Width: 4, Height: 4, Depth: 64}, TextureDimension3D, 7},
		{Extent{Width: 4, Height: 4, Depth: 64}, TextureDimension2D, 3},
		{Extent{Width: 0, Height: 0, Depth: 0}, TextureDimension2D, 0},
	}
	for _, tt := range tests {
		if got := MaxMipLevels(tt.size, tt.dim); got != tt.want {
			t.Errorf("MaxMipLevels(%v, %d) = %d, want %d", tt.size, tt.dim, got, tt.want)
		}
	}
}

func TestCreateTexture(t *testing.T) {
	ctx, dev := newTestContext(t)

	valid := TextureDesc{
		Name:   "t",
		Format: TextureFormatRGBA8Unorm,
		Size:   Extent{Width: 64, Height: 32},
		Usage:  TextureUsageResource,
	}
	tests := []struct {
		name string
		edit func(*TextureDesc)
		want error
	}{
		{"defaults", func(*TextureDesc) {}, nil},
		{"full mip chain", func(d *TextureDesc) { d.MipLevelCount = 7 }, nil},
		{"array", func(d *TextureDesc) { d.ArrayLayerCount = 6 }, nil},
		{"1d", func(d *TextureDesc) { d.Dimension = TextureDimension1D; d.Size.Height = 1 }, nil},
		{"3d", func(d *TextureDesc) { d.Dimension = TextureDimension3D; d.Size.Depth = 8 }, nil},
		{"depth", func(d *TextureDesc) { d.Format = TextureFormatDepth32Float; d.Usage = TextureUsageTarget }, nil},
		{"too many mips", func(d *TextureDesc) { d.MipLevelCount = 8 }, ErrInvalidDescriptor},
		{"no usage", func(d *TextureDesc) { d.Usage = 0 }, ErrInvalidDescriptor},
		{"undefined format", func(d *TextureDesc) { d.Format = TextureFormatUndefined }, ErrInvalidDescriptor},
		{"zero width", func(d *TextureDesc) { d.Size.Width = 0 }, ErrInvalidSize},
		{"too wide", func(d *TextureDesc) { d.Size.Width = 1 << 20 }, ErrInvalidSize},
		{"tall 1d", func(d *TextureDesc) { d.Dimension = TextureDimension1D }, ErrInvalidSize},
		{"deep 2d", func(d *TextureDesc) { d.Size.Depth = 4 }, ErrInvalidSize},
		{"layered 3d", func(d *TextureDesc) { d.Dimension = TextureDimension3D; d.ArrayLayerCount = 2 }, ErrInvalidDescriptor},
		{"3d depth", func(d *TextureDesc) {
			d.Dimension = TextureDimension3D
			d.Format = TextureFormatDepth32Float
		}, ErrInvalidDescriptor},
		{"unknown dimension", func(d *TextureDesc) { d.Dimension = TextureDimension(7) }, ErrInvalidDescriptor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := valid
			tt.edit(&desc)
			tex, err := ctx.CreateTexture(desc)
			if !errors.Is(err, tt.want) {
				t.Fatalf("CreateTexture() = %v, want %v", err, tt.want)
			}
			if err != nil {
				return
			}
			if tex.IsNull() {
				t.Fatal("CreateTexture returned the null handle")
			}
			if err := ctx.DestroyTexture(tex); err != nil {
				t.Fatalf("DestroyTexture() = %v", err)
			}
			if err := ctx.DestroyTexture(tex); !errors.Is(err, ErrResourceDestroyed) {
				t.Errorf("second DestroyTexture() = %v, want ErrResourceDestroyed", err)
			}
		})
	}
	if n := dev.Live(); n != 0 {
		t.Errorf("Live() = %d, want 0", n)
	}
}

func TestTextureFormats(t *testing.T) {
	ctx, _ := newTestContext(t)

	tests := []struct {
		format TextureFormat
		usage  TextureUsage
		want   error
	}{
		{TextureFormatRGBA8Unorm, TextureUsageResource, nil},
		{TextureFormatRGBA8UnormSRGB, TextureUsageResource, nil},
		{TextureFormatBGRA8Unorm, TextureUsageTarget, nil},
		{TextureFormatR32Float, TextureUsageStorage, nil},
		{TextureFormatDepth32Float, TextureUsageTarget, nil},
		{TextureFormatDepth32Float + 1, TextureUsageResource, ErrInvalidDescriptor},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			tex, err := ctx.CreateTexture(TextureDesc{
				Name:   "fmt",
				Format: tt.format,
				Size:   Extent{Width: 4, Height: 4},
				Usage:  tt.usage,
			})
			if tt.want != nil {
				if !errors.Is(err, tt.want) {
					t.Errorf("CreateTexture() = %v, want %v", err, tt.want)
				}
				return
			}
			if err != nil {
				t.Fatalf("CreateTexture() = %v", err)
			}
			if got := tt.format.BlockSize(); got != 4 {
				t.Errorf("BlockSize() = %d, want 4", got)
			}
			_ = ctx.DestroyTexture(tex)
		})
	}
}

func TestCreateTextureView(t *testing.T) {
	ctx, dev := newTestContext(t)

	mk := func(desc TextureDesc) Texture {
		tex, err := ctx.CreateTexture(desc)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = ctx.DestroyTexture(tex) })
		return tex
	}
	plain := mk(TextureDesc{Name: "plain", Format: TextureFormatRGBA8Unorm, Size: Extent{Width: 16, Height: 16}, MipLevelCount: 5, Usage: TextureUsageResource})
	layered := mk(TextureDesc{Name: "layered", Format: TextureFormatR32Float, Size: Extent{Width: 8, Height: 8}, ArrayLayerCount: 6, Usage: TextureUsageResource})
	wide := mk(TextureDesc{Name: "wide", Format: TextureFormatRGBA8Unorm, Size: Extent{Width: 8, Height: 4}, ArrayLayerCount: 6, Usage: TextureUsageResource})
	volume := mk(TextureDesc{Name: "volume", Format: TextureFormatRGBA8Unorm, Size: Extent{Width: 4, Height: 4, Depth: 4}, Dimension: TextureDimension3D, Usage: TextureUsageResource})

	tests := []struct {
		name      string
		desc      TextureViewDesc
		want      error
		wantDim   ViewDimension
		wantMips  uint32
		wantLayer uint32
	}{
		{"inherit all", TextureViewDesc{Texture: plain}, nil, ViewDimension2D, 5, 1},
		{"mip tail", TextureViewDesc{Texture: plain, BaseMipLevel: 3}, nil, ViewDimension2D, 2, 1},
		{"one mip", TextureViewDesc{Texture: plain, BaseMipLevel: 1, MipLevelCount: 1}, nil, ViewDimension2D, 1, 1},
		{"array derived", TextureViewDesc{Texture: layered}, nil, ViewDimension2DArray, 1, 6},
		{"single layer", TextureViewDesc{Texture: layered, Dimension: ViewDimension2D, BaseArrayLayer: 4}, nil, ViewDimension2D, 1, 1},
		{"cube", TextureViewDesc{Texture: layered, Dimension: ViewDimensionCube}, nil, ViewDimensionCube, 1, 6},
		{"3d", TextureViewDesc{Texture: volume}, nil, ViewDimension3D, 1, 1},
		{"explicit format", TextureViewDesc{Texture: plain, Format: TextureFormatRGBA8Unorm}, nil, ViewDimension2D, 5, 1},
		{"format mismatch", TextureViewDesc{Texture: plain, Format: TextureFormatBGRA8Unorm}, ErrInvalidDescriptor, 0, 0, 0},
		{"base mip past end", TextureViewDesc{Texture: plain, BaseMipLevel: 5}, ErrOutOfRange, 0, 0, 0},
		{"mips past end", TextureViewDesc{Texture: plain, BaseMipLevel: 2, MipLevelCount: 4}, ErrOutOfRange, 0, 0, 0},
		{"layers past end", TextureViewDesc{Texture: layered, BaseArrayLayer: 2, ArrayLayerCount: 5}, ErrOutOfRange, 0, 0, 0},
		{"non-square cube", TextureViewDesc{Texture: wide, Dimension: ViewDimensionCube}, ErrInvalidDescriptor, 0, 0, 0},
		{"3d view of 2d", TextureViewDesc{Texture: plain, Dimension: ViewDimension3D}, ErrInvalidDescriptor, 0, 0, 0},
		{"2d view of 3d", TextureViewDesc{Texture: volume, Dimension: ViewDimension2D}, ErrInvalidDescriptor, 0, 0, 0},
		{"2d view of layers", TextureViewDesc{Texture: layered, Dimension: ViewDimension2D, ArrayLayerCount: 2}, ErrInvalidDescriptor, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.desc.Name = tt.name
			view, err := ctx.CreateTextureView(tt.desc)
			if !errors.Is(err, tt.want) {
				t.Fatalf("CreateTextureView() = %v, want %v", err, tt.want)
			}
			if err != nil {
				return
			}
			defer ctx.DestroyTextureView(view)
			got := ctx.resources.live[uint64(view.id)].view
			if got.Dimension != tt.wantDim || got.MipLevelCount != tt.wantMips || got.ArrayLayerCount != tt.wantLayer {
				t.Errorf("view = {dim %d, mips %d, layers %d}, want {%d, %d, %d}",
					got.Dimension, got.MipLevelCount, got.ArrayLayerCount, tt.wantDim, tt.wantMips, tt.wantLayer)
			}
		})
	}

	before := dev.Calls("CreateTextureView")
	if _, err := ctx.CreateTextureView(TextureViewDesc{Texture: plain, BaseMipLevel: 9}); err == nil {
		t.Fatal("out-of-range view accepted")
	}
	if dev.Calls("CreateTextureView") != before {
		t.Error("rejected view reached the driver")
	}
}

func TestViewOutlivesTexture(t *testing.T) {
	ctx, dev := newTestContext(t)

	tex, err := ctx.CreateTexture(TextureDesc{Name: "t", Format: TextureFormatRGBA8Unorm, Size: Extent{Width: 4, Height: 4}, Usage: TextureUsageResource})
	if err != nil {
		t.Fatal(err)
	}
	view, err := ctx.CreateTextureView(TextureViewDesc{Name: "v", Texture: tex})
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.DestroyTexture(tex); err != nil {
		t.Fatal(err)
	}
	if _, err := ctx.CreateTextureView(TextureViewDesc{Texture: tex}); !errors.Is(err, ErrResourceDestroyed) {
		t.Errorf("view of destroyed texture = %v, want ErrResourceDestroyed", err)
	}
	if f, err := ctx.viewFormat(view); err != nil || f != TextureFormatRGBA8Unorm {
		t.Errorf("viewFormat() = %v, %v", f, err)
	}
	if err := ctx.DestroyTextureView(view); err != nil {
		t.Fatal(err)
	}
	if err := ctx.DestroyTextureView(view); !errors.Is(err, ErrResourceDestroyed) {
		t.Errorf("second DestroyTextureView() = %v, want ErrResourceDestroyed", err)
	}
	if n := dev.Live(); n != 0 {
		t.Errorf("Live() = %d, want 0", n)
	}
}

func TestMipExtent(t *testing.T) {
	desc := TextureDesc{Format: TextureFormatRGBA8Unorm, Size: Extent{Width: 10, Height: 3}, ArrayLayerCount: 2, Usage: TextureUsageCopy}
	resolved, err := resolveTextureDesc(desc, Capabilities{})
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		level uint32
		want  Extent
	}{
		{0, Extent{Width: 10, Height: 3, Depth: 2}},
		{1, Extent{Width: 5, Height: 1, Depth: 2}},
		{3, Extent{Width: 1, Height: 1, Depth: 2}},
	}
	for _, tt := range tests {
		if got := mipExtent(&resolved, tt.level); got != tt.want {
			t.Errorf("mipExtent(%d) = %v, want %v", tt.level, got, tt.want)
		}
	}
}
