package blade

import (
	"bytes"
	"errors"
	"testing"
)

type plainBlock struct {
	Scale  float32
	Count  uint32
	Offset [2]float32
}

func TestSetPlain(t *testing.T) {
	ctx, _ := newTestContext(t)
	layout := &ShaderDataLayout{Bindings: []ShaderBinding{
		{Name: "block", Kind: BindingPlain, Size: 16},
		{Name: "data", Kind: BindingBuffer},
	}}

	tests := []struct {
		name  string
		index int
		value any
		want  error
	}{
		{"array", 0, [4]uint32{1, 2, 3, 4}, nil},
		{"struct", 0, plainBlock{Scale: 1, Count: 2}, nil},
		{"struct pointer", 0, &plainBlock{}, nil},
		{"too small", 0, [3]float32{}, ErrBindingMismatch},
		{"too large", 0, [5]float32{}, ErrBindingMismatch},
		{"uint16 lanes", 0, [8]uint16{}, nil},
		{"odd size", 0, [3]uint16{}, ErrBindingMismatch},
		{"not fixed size", 0, "sixteen bytes!!!", ErrBindingMismatch},
		{"slice", 0, []uint32{1, 2, 3, 4}, nil},
		{"wrong kind", 1, [4]uint32{}, ErrBindingMismatch},
		{"index out of range", 2, [4]uint32{}, ErrBindingMismatch},
		{"negative index", -1, [4]uint32{}, ErrBindingMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := newShaderDataEncoder(ctx, layout)
			err := enc.SetPlain(tt.index, tt.value)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("SetPlain(%T) = %v", tt.value, err)
				}
				if !enc.set[tt.index] || len(enc.bindings[tt.index].Data) != 16 {
					t.Errorf("binding not recorded: %+v", enc.bindings[tt.index])
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("SetPlain(%T) = %v, want %v", tt.value, err, tt.want)
			}
			for i, ok := range enc.set {
				if ok {
					t.Errorf("binding %d recorded after a rejected write", i)
				}
			}
		})
	}
}

func TestSetPlainLittleEndian(t *testing.T) {
	ctx, _ := newTestContext(t)
	layout := &ShaderDataLayout{Bindings: []ShaderBinding{{Name: "block", Kind: BindingPlain, Size: 16}}}
	enc := newShaderDataEncoder(ctx, layout)

	if err := enc.SetPlain(0, plainBlock{Scale: 1, Count: 0x01020304}); err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 0, 0x80, 0x3F, 4, 3, 2, 1, 0, 0, 0, 0, 0, 0, 0, 0}
	if got := enc.bindings[0].Data; !bytes.Equal(got, want) {
		t.Errorf("encoded = % x, want % x", got, want)
	}
}

func TestSetBuffer(t *testing.T) {
	ctx, _ := newTestContext(t)
	layout := &ShaderDataLayout{Bindings: []ShaderBinding{{Name: "data", Kind: BindingBuffer}}}

	live, _ := ctx.CreateBuffer(BufferDesc{Name: "live", Size: 64})
	defer ctx.DestroyBuffer(live)
	dead, _ := ctx.CreateBuffer(BufferDesc{Name: "dead", Size: 64})
	_ = ctx.DestroyBuffer(dead)

	tests := []struct {
		name     string
		piece    BufferPiece
		size     uint64
		wantSize uint64
		want     error
	}{
		{"whole buffer", live.At(0), 0, 64, nil},
		{"rest of buffer", live.At(16), 0, 48, nil},
		{"explicit range", live.At(16), 32, 32, nil},
		{"past end", live.At(48), 32, 0, ErrOutOfRange},
		{"offset past end", live.At(80), 0, 0, ErrOutOfRange},
		{"null", Buffer{}.At(0), 0, 0, ErrNullHandle},
		{"destroyed", dead.At(0), 0, 0, ErrResourceDestroyed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc := newShaderDataEncoder(ctx, layout)
			err := enc.SetBuffer(0, tt.piece, tt.size)
			if !errors.Is(err, tt.want) {
				t.Fatalf("SetBuffer() = %v, want %v", err, tt.want)
			}
			if tt.want == nil {
				b := enc.bindings[0]
				if b.Size != tt.wantSize || b.Offset != tt.piece.Offset || b.Buffer != live.id {
					t.Errorf("binding = %+v, want size %d", b, tt.wantSize)
				}
			}
		})
	}
}

func TestSetTexture(t *testing.T) {
	ctx, _ := newTestContext(t)
	layout := &ShaderDataLayout{Bindings: []ShaderBinding{
		{Name: "sprite", Kind: BindingTexture},
		{Name: "block", Kind: BindingPlain, Size: 4},
	}}
	view := newTarget(t, ctx, "sprite", TextureFormatRGBA8Unorm, TextureUsageResource, 4)

	enc := newShaderDataEncoder(ctx, layout)
	if err := enc.SetTexture(0, TextureView{}); !errors.Is(err, ErrNullHandle) {
		t.Errorf("SetTexture(null) = %v, want ErrNullHandle", err)
	}
	if err := enc.SetTexture(1, view); !errors.Is(err, ErrBindingMismatch) {
		t.Errorf("SetTexture(plain slot) = %v, want ErrBindingMismatch", err)
	}
	if err := enc.SetTexture(0, view); err != nil {
		t.Fatalf("SetTexture() = %v", err)
	}
	if _, err := enc.finish(); !errors.Is(err, ErrBindingMismatch) {
		t.Errorf("finish() with unset plain = %v, want ErrBindingMismatch", err)
	}
	if err := enc.SetPlain(1, float32(1)); err != nil {
		t.Fatal(err)
	}
	bindings, err := enc.finish()
	if err != nil {
		t.Fatalf("finish() = %v", err)
	}
	if len(bindings) != 2 || bindings[0].View != view.id || bindings[1].Binding != 1 {
		t.Errorf("bindings = %+v", bindings)
	}
}

func TestLayoutValidate(t *testing.T) {
	tests := []struct {
		name     string
		bindings []ShaderBinding
		wantErr  bool
	}{
		{"empty", nil, false},
		{"mixed", []ShaderBinding{{Name: "a", Kind: BindingBuffer}, {Name: "b", Kind: BindingPlain, Size: 8}, {Name: "c", Kind: BindingTexture}}, false},
		{"unnamed", []ShaderBinding{{Kind: BindingBuffer}, {Kind: BindingBuffer}}, false},
		{"zero plain", []ShaderBinding{{Name: "a", Kind: BindingPlain}}, true},
		{"unaligned plain", []ShaderBinding{{Name: "a", Kind: BindingPlain, Size: 10}}, true},
		{"unknown kind", []ShaderBinding{{Name: "a"}}, true},
		{"duplicate name", []ShaderBinding{{Name: "a", Kind: BindingBuffer}, {Name: "a", Kind: BindingTexture}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&ShaderDataLayout{Bindings: tt.bindings}).validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrBindingMismatch) {
				t.Errorf("validate() = %v, want ErrBindingMismatch", err)
			}
		})
	}
}

func TestLayoutIndexAndEqual(t *testing.T) {
	a := &ShaderDataLayout{Bindings: []ShaderBinding{{Name: "data", Kind: BindingBuffer}, {Name: "p", Kind: BindingPlain, Size: 4}}}
	b := &ShaderDataLayout{Bindings: append([]ShaderBinding(nil), a.Bindings...)}
	c := &ShaderDataLayout{Bindings: []ShaderBinding{{Name: "data", Kind: BindingBuffer}, {Name: "p", Kind: BindingPlain, Size: 8}}}

	if i, ok := a.Index("p"); !ok || i != 1 {
		t.Errorf("Index(p) = %d, %v", i, ok)
	}
	if _, ok := a.Index("q"); ok {
		t.Error("Index(q) found")
	}
	if !a.equal(b) {
		t.Error("identical layouts differ")
	}
	if a.equal(c) || a.equal(nil) {
		t.Error("different layouts compare equal")
	}
}
