package blade

import (
	"fmt"
	"sort"

	"github.com/gogpu/blade/cache"
	"github.com/gogpu/blade/gpucore"
)

// Memory selects where a buffer's bytes live.
type Memory = gpucore.MemoryKind

// Memory kinds.
const (
	// MemoryDevice is GPU-private memory.
	MemoryDevice = gpucore.MemoryDevice

	// MemoryShared is visible to the CPU and the GPU.
	MemoryShared = gpucore.MemoryShared

	// MemoryUpload is CPU-visible memory optimized for writing.
	MemoryUpload = gpucore.MemoryUpload
)

// Buffer is a handle to a GPU buffer.
// The zero value is the null handle. Handles may be copied freely; each
// buffer must be destroyed exactly once with Context.DestroyBuffer.
type Buffer struct {
	id gpucore.BufferID
}

// IsNull reports whether b is the null handle.
func (b Buffer) IsNull() bool { return b.id == gpucore.InvalidID }

// At returns a piece of b starting at offset.
func (b Buffer) At(offset uint64) BufferPiece { return BufferPiece{Buffer: b, Offset: offset} }

// BufferPiece is a buffer and a byte offset into it.
// A Buffer converts to a piece at offset zero with Buffer.At(0).
type BufferPiece struct {
	Buffer Buffer
	Offset uint64
}

// Texture is a handle to a GPU texture. The zero value is the null handle.
type Texture struct {
	id gpucore.TextureID
}

// IsNull reports whether t is the null handle.
func (t Texture) IsNull() bool { return t.id == gpucore.InvalidID }

// TexturePiece addresses a mip level and texel origin of a texture.
type TexturePiece struct {
	Texture  Texture
	MipLevel uint32
	Origin   [3]uint32
}

// TextureView is a handle to a view of a texture. The zero value is the
// null handle.
type TextureView struct {
	id gpucore.TextureViewID
}

// IsNull reports whether v is the null handle.
func (v TextureView) IsNull() bool { return v.id == gpucore.InvalidID }

// resourceKind identifies the kind of a tracked resource.
type resourceKind uint8

const (
	kindBuffer resourceKind = iota + 1
	kindTexture
	kindTextureView
	kindShader
	kindComputePipeline
	kindRenderPipeline
)

func (k resourceKind) String() string {
	switch k {
	case kindBuffer:
		return "buffer"
	case kindTexture:
		return "texture"
	case kindTextureView:
		return "texture view"
	case kindShader:
		return "shader"
	case kindComputePipeline:
		return "compute pipeline"
	case kindRenderPipeline:
		return "render pipeline"
	default:
		return fmt.Sprintf("resourceKind(%d)", uint8(k))
	}
}

// resource is one entry of the Context's resource table.
type resource struct {
	kind resourceKind
	name string

	// buffers
	size   uint64
	memory Memory

	// textures and views
	texture gpucore.TextureDesc
	view    gpucore.TextureViewDesc
}

// tombstones is the number of destroyed entries a table remembers for
// reporting a second destroy. Older ones are forgotten and reported as
// unknown handles.
const tombstones = 256

// table tracks every resource created by a Context, keyed by native ID.
// Native IDs are unique across kinds for one device.
type table struct {
	live map[uint64]*resource
	dead *cache.Cache[uint64, *resource]
}

func newTable() table {
	return table{
		live: make(map[uint64]*resource),
		dead: cache.New[uint64, *resource](tombstones),
	}
}

func (t table) add(id uint64, r *resource) {
	t.dead.Delete(id)
	t.live[id] = r
}

// lookup returns the live resource for id.
func (t table) lookup(id uint64, kind resourceKind) (*resource, error) {
	if id == gpucore.InvalidID {
		return nil, fmt.Errorf("%w: %s", ErrNullHandle, kind)
	}
	if r, ok := t.live[id]; ok && r.kind == kind {
		return r, nil
	}
	if r, ok := t.dead.Get(id); ok && r.kind == kind {
		return nil, fmt.Errorf("%w: %s %q", ErrResourceDestroyed, kind, r.name)
	}
	return nil, fmt.Errorf("%w: unknown %s %d", ErrNullHandle, kind, id)
}

// retire moves a live resource to the tombstones.
func (t table) retire(id uint64, kind resourceKind) (*resource, error) {
	r, err := t.lookup(id, kind)
	if err != nil {
		return nil, err
	}
	delete(t.live, id)
	t.dead.Set(id, r)
	return r, nil
}

// leaks returns a description of every live resource, sorted by ID.
func (t table) leaks() []string {
	ids := make([]uint64, 0, len(t.live))
	for id := range t.live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		r := t.live[id]
		out = append(out, fmt.Sprintf("%s %q (id %d)", r.kind, r.name, id))
	}
	return out
}
