package main

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gogpu/blade"

	// Extra formats for imaging.Open on top of the standard gif, jpeg
	// and png decoders.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// copyRowAlignment is the row pitch alignment of buffer-to-texture copies.
const copyRowAlignment = 256

// loadSprite decodes the image at path and fits it into a size×size box,
// keeping its aspect ratio. Images that already fit are not enlarged.
func loadSprite(path string, size int) (*image.NRGBA, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("load sprite: %w", err)
	}
	return imaging.Fit(img, size, size, imaging.Lanczos), nil
}

// sprite is an uploaded image together with its staging buffer.
type sprite struct {
	staging blade.Buffer
	texture blade.Texture
	view    blade.TextureView
	size    blade.Extent
}

// alignedPitch rounds the row size of an RGBA8 image of the given width up
// to copyRowAlignment.
func alignedPitch(width int) uint32 {
	row := uint32(width) * 4
	return (row + copyRowAlignment - 1) / copyRowAlignment * copyRowAlignment
}

// uploadSprite stages img in an upload buffer and records its copy into a
// new RGBA8 texture. The returned sprite owns every resource it created,
// including on error.
func uploadSprite(ctx *blade.Context, pass *blade.TransferPass, img *image.NRGBA) (*sprite, error) {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	pitch := alignedPitch(w)
	s := &sprite{size: blade.Extent{Width: uint32(w), Height: uint32(h), Depth: 1}}

	var err error
	s.staging, err = ctx.CreateBuffer(blade.BufferDesc{
		Name:   "sprite staging",
		Size:   uint64(pitch) * uint64(h),
		Memory: blade.MemoryUpload,
	})
	if err != nil {
		return s, err
	}
	staged := make([]byte, int(pitch)*h)
	for y := range h {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		copy(staged[y*int(pitch):], row)
	}
	if err := ctx.WriteBuffer(s.staging.At(0), staged); err != nil {
		return s, err
	}

	s.texture, err = ctx.CreateTexture(blade.TextureDesc{
		Name:   "sprite",
		Format: blade.TextureFormatRGBA8Unorm,
		Size:   s.size,
		Usage:  blade.TextureUsageCopy | blade.TextureUsageResource,
	})
	if err != nil {
		return s, err
	}
	s.view, err = ctx.CreateTextureView(blade.TextureViewDesc{Name: "sprite", Texture: s.texture})
	if err != nil {
		return s, err
	}
	err = pass.CopyBufferToTexture(s.staging.At(0), pitch, blade.TexturePiece{Texture: s.texture}, s.size)
	return s, err
}

// release destroys the sprite resources. It must run after the copy has
// completed.
func (s *sprite) release(ctx *blade.Context) {
	if !s.view.IsNull() {
		_ = ctx.DestroyTextureView(s.view)
	}
	if !s.texture.IsNull() {
		_ = ctx.DestroyTexture(s.texture)
	}
	if !s.staging.IsNull() {
		_ = ctx.DestroyBuffer(s.staging)
	}
}
