package blade

import (
	"encoding/binary"
	"fmt"

	"github.com/gogpu/blade/gpucore"
)

// plainAlignment is the required byte alignment of plain data.
const plainAlignment = 4

// BindingKind is the kind of resource a shader binding expects.
type BindingKind uint8

// Binding kinds.
const (
	// BindingPlain is fixed-size data written directly into the argument
	// table (a WGSL uniform).
	BindingPlain BindingKind = iota + 1

	// BindingBuffer is a storage buffer range.
	BindingBuffer

	// BindingTexture is a sampled texture view.
	BindingTexture
)

// String returns the kind name.
func (k BindingKind) String() string {
	switch k {
	case BindingPlain:
		return "plain"
	case BindingBuffer:
		return "buffer"
	case BindingTexture:
		return "texture"
	default:
		return fmt.Sprintf("BindingKind(%d)", uint8(k))
	}
}

func (k BindingKind) native() gpucore.BindingType {
	switch k {
	case BindingPlain:
		return gpucore.BindingTypePlain
	case BindingBuffer:
		return gpucore.BindingTypeStorageBuffer
	default:
		return gpucore.BindingTypeSampledTexture
	}
}

// ShaderBinding declares one binding of a data layout. The binding number
// in the shader is the binding's index in the layout.
type ShaderBinding struct {
	Name string
	Kind BindingKind

	// Size is the byte size of plain data. It must be a non-zero multiple
	// of 4 and match the WGSL struct size, padding included.
	Size uint64
}

// ShaderDataLayout is the layout of one bind group.
type ShaderDataLayout struct {
	Bindings []ShaderBinding
}

// Index returns the index of the binding with the given name.
func (l *ShaderDataLayout) Index(name string) (int, bool) {
	for i, b := range l.Bindings {
		if b.Name == name {
			return i, true
		}
	}
	return -1, false
}

func (l *ShaderDataLayout) validate() error {
	seen := make(map[string]bool, len(l.Bindings))
	for i, b := range l.Bindings {
		switch b.Kind {
		case BindingPlain:
			if b.Size == 0 || b.Size%plainAlignment != 0 {
				return fmt.Errorf("%w: plain binding %d %q has size %d", ErrBindingMismatch, i, b.Name, b.Size)
			}
		case BindingBuffer, BindingTexture:
		default:
			return fmt.Errorf("%w: binding %d %q kind %v", ErrBindingMismatch, i, b.Name, b.Kind)
		}
		if b.Name != "" {
			if seen[b.Name] {
				return fmt.Errorf("%w: duplicate binding name %q", ErrBindingMismatch, b.Name)
			}
			seen[b.Name] = true
		}
	}
	return nil
}

func (l *ShaderDataLayout) native() gpucore.BindGroupLayoutDesc {
	entries := make([]gpucore.BindGroupLayoutEntry, len(l.Bindings))
	for i, b := range l.Bindings {
		entries[i] = gpucore.BindGroupLayoutEntry{Binding: uint32(i), Type: b.Kind.native(), MinBindingSize: b.Size}
	}
	return gpucore.BindGroupLayoutDesc{Entries: entries}
}

// equal reports whether two layouts declare the same bindings.
func (l *ShaderDataLayout) equal(o *ShaderDataLayout) bool {
	if l == o {
		return true
	}
	if l == nil || o == nil || len(l.Bindings) != len(o.Bindings) {
		return false
	}
	for i := range l.Bindings {
		if l.Bindings[i] != o.Bindings[i] {
			return false
		}
	}
	return true
}

// ShaderData is a value that can be bound to a bind group.
type ShaderData interface {
	// Layout returns the layout the data fills.
	Layout() *ShaderDataLayout

	// Fill sets every binding of the layout.
	Fill(enc *ShaderDataEncoder) error
}

// ShaderDataEncoder collects the bindings of one bind group.
// Every setter validates its argument against the declared layout before
// writing anything.
type ShaderDataEncoder struct {
	ctx      *Context
	layout   *ShaderDataLayout
	bindings []gpucore.Binding
	set      []bool
}

func newShaderDataEncoder(ctx *Context, layout *ShaderDataLayout) *ShaderDataEncoder {
	return &ShaderDataEncoder{
		ctx:      ctx,
		layout:   layout,
		bindings: make([]gpucore.Binding, len(layout.Bindings)),
		set:      make([]bool, len(layout.Bindings)),
	}
}

func (e *ShaderDataEncoder) binding(index int, kind BindingKind) (ShaderBinding, error) {
	if index < 0 || index >= len(e.layout.Bindings) {
		return ShaderBinding{}, fmt.Errorf("%w: index %d of %d bindings", ErrBindingMismatch, index, len(e.layout.Bindings))
	}
	b := e.layout.Bindings[index]
	if b.Kind != kind {
		return b, fmt.Errorf("%w: binding %d %q is %v, not %v", ErrBindingMismatch, index, b.Name, b.Kind, kind)
	}
	return b, nil
}

// SetPlain encodes value as little-endian bytes into a plain binding.
// value must be a fixed-size value or a pointer to one, as accepted by
// encoding/binary, whose encoded size equals the declared size.
func (e *ShaderDataEncoder) SetPlain(index int, value any) error {
	b, err := e.binding(index, BindingPlain)
	if err != nil {
		return err
	}
	n := binary.Size(value)
	if n < 0 {
		return fmt.Errorf("%w: binding %d %q: %T is not fixed-size", ErrBindingMismatch, index, b.Name, value)
	}
	if n%plainAlignment != 0 {
		return fmt.Errorf("%w: binding %d %q: %d bytes is not %d-byte aligned", ErrBindingMismatch, index, b.Name, n, plainAlignment)
	}
	if uint64(n) != b.Size {
		return fmt.Errorf("%w: binding %d %q: %d bytes, layout declares %d", ErrBindingMismatch, index, b.Name, n, b.Size)
	}
	data, err := binary.Append(make([]byte, 0, n), binary.LittleEndian, value)
	if err != nil {
		return fmt.Errorf("%w: binding %d %q: %w", ErrBindingMismatch, index, b.Name, err)
	}
	e.bindings[index] = gpucore.Binding{Binding: uint32(index), Type: gpucore.BindingTypePlain, Data: data}
	e.set[index] = true
	return nil
}

// SetBuffer binds size bytes of a buffer starting at piece. A zero size
// binds the rest of the buffer.
func (e *ShaderDataEncoder) SetBuffer(index int, piece BufferPiece, size uint64) error {
	b, err := e.binding(index, BindingBuffer)
	if err != nil {
		return err
	}
	r, err := e.ctx.bufferRange(piece, size)
	if err != nil {
		return fmt.Errorf("binding %d %q: %w", index, b.Name, err)
	}
	if size == 0 {
		size = r.size - piece.Offset
	}
	e.bindings[index] = gpucore.Binding{
		Binding: uint32(index),
		Type:    gpucore.BindingTypeStorageBuffer,
		Buffer:  piece.Buffer.id,
		Offset:  piece.Offset,
		Size:    size,
	}
	e.set[index] = true
	return nil
}

// SetTexture binds a texture view.
func (e *ShaderDataEncoder) SetTexture(index int, view TextureView) error {
	b, err := e.binding(index, BindingTexture)
	if err != nil {
		return err
	}
	if _, err := e.ctx.viewFormat(view); err != nil {
		return fmt.Errorf("binding %d %q: %w", index, b.Name, err)
	}
	e.bindings[index] = gpucore.Binding{Binding: uint32(index), Type: gpucore.BindingTypeSampledTexture, View: view.id}
	e.set[index] = true
	return nil
}

// finish returns the bindings once every one of them is set.
func (e *ShaderDataEncoder) finish() ([]gpucore.Binding, error) {
	for i, ok := range e.set {
		if !ok {
			b := e.layout.Bindings[i]
			return nil, fmt.Errorf("%w: binding %d %q not set", ErrBindingMismatch, i, b.Name)
		}
	}
	return e.bindings, nil
}

// encodeShaderData fills data against the layout declared at group.
func encodeShaderData(ctx *Context, declared []*ShaderDataLayout, group uint32, data ShaderData) ([]gpucore.Binding, error) {
	if data == nil {
		return nil, fmt.Errorf("%w: nil shader data", ErrBindingMismatch)
	}
	if int(group) >= len(declared) {
		return nil, fmt.Errorf("%w: pipeline declares %d groups, not %d", ErrBindingMismatch, len(declared), group+1)
	}
	if !declared[group].equal(data.Layout()) {
		return nil, fmt.Errorf("%w: layout not declared at group %d", ErrBindingMismatch, group)
	}
	enc := newShaderDataEncoder(ctx, declared[group])
	if err := data.Fill(enc); err != nil {
		return nil, err
	}
	return enc.finish()
}
