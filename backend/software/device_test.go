package software

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gogpu/blade/backend"
	"github.com/gogpu/blade/gpucore"
)

func openDevice(t *testing.T) (*Device, *Queue) {
	t.Helper()
	drv := New()
	open, err := drv.Open(&backend.Options{Validation: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	dev := drv.Device()
	if dev == nil || open.Device != dev {
		t.Fatal("Device() does not return the opened device")
	}
	if !dev.Validation() {
		t.Error("Validation() = false, want true")
	}
	return dev, open.Queue.(*Queue)
}

func TestDriverRegistered(t *testing.T) {
	if !backend.IsRegistered(backend.DriverSoftware) {
		t.Fatal("software driver not registered")
	}
	if d := backend.Get(backend.DriverSoftware); d == nil || d.Name() != backend.DriverSoftware {
		t.Errorf("Get(software) = %v", d)
	}
}

func TestBufferLifecycle(t *testing.T) {
	tests := []struct {
		name   string
		memory gpucore.MemoryKind
	}{
		{"device", gpucore.MemoryDevice},
		{"shared", gpucore.MemoryShared},
		{"upload", gpucore.MemoryUpload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, _ := openDevice(t)

			id, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: tt.name, Size: 64, Memory: tt.memory})
			if err != nil {
				t.Fatalf("CreateBuffer() error = %v", err)
			}
			if id == gpucore.InvalidID {
				t.Fatal("CreateBuffer() returned InvalidID")
			}
			if got := dev.Live(); got != 1 {
				t.Errorf("Live() = %d, want 1", got)
			}

			err = dev.WriteBuffer(id, 0, []byte{1, 2, 3})
			if tt.memory.HostVisible() && err != nil {
				t.Errorf("WriteBuffer() error = %v", err)
			}
			if !tt.memory.HostVisible() && !errors.Is(err, errNotHostVisible) {
				t.Errorf("WriteBuffer() error = %v, want errNotHostVisible", err)
			}

			dev.DestroyBuffer(id)
			if got := dev.Live(); got != 0 {
				t.Errorf("Live() after destroy = %d, want 0", got)
			}
			dev.DestroyBuffer(id)
			if got := dev.DoubleDestroys(); got != 1 {
				t.Errorf("DoubleDestroys() = %d, want 1", got)
			}
		})
	}
}

func TestAllocationFailures(t *testing.T) {
	dev, _ := openDevice(t)

	dev.FailAllocations(1)
	if _, err := dev.CreateBuffer(&gpucore.BufferDesc{Size: 4}); !errors.Is(err, gpucore.ErrOutOfMemory) {
		t.Errorf("CreateBuffer() error = %v, want ErrOutOfMemory", err)
	}
	if _, err := dev.CreateBuffer(&gpucore.BufferDesc{Size: DefaultCapabilities.MaxBufferSize + 1}); !errors.Is(err, gpucore.ErrOutOfMemory) {
		t.Errorf("CreateBuffer(oversized) error = %v, want ErrOutOfMemory", err)
	}

	dev.Lose()
	if _, err := dev.CreateBuffer(&gpucore.BufferDesc{Size: 4}); !errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("CreateBuffer() on lost device error = %v, want ErrDeviceLost", err)
	}
}

func TestFillAndCopy(t *testing.T) {
	dev, queue := openDevice(t)

	src, _ := dev.CreateBuffer(&gpucore.BufferDesc{Size: 16, Memory: gpucore.MemoryDevice})
	dst, _ := dev.CreateBuffer(&gpucore.BufferDesc{Size: 16, Memory: gpucore.MemoryShared})
	defer dev.DestroyBuffer(src)
	defer dev.DestroyBuffer(dst)

	cb, err := queue.CreateCommandBuffer("fill")
	if err != nil {
		t.Fatalf("CreateCommandBuffer() error = %v", err)
	}
	if err := cb.FillBuffer(src, 4, 8, 0xAB); err != nil {
		t.Fatalf("FillBuffer() error = %v", err)
	}
	if err := cb.CopyBufferToBuffer(src, 0, dst, 0, 16); err != nil {
		t.Fatalf("CopyBufferToBuffer() error = %v", err)
	}
	if err := cb.FillBuffer(src, 12, 8, 0); !errors.Is(err, errRange) {
		t.Errorf("FillBuffer(out of range) error = %v, want errRange", err)
	}
	if err := queue.Submit(cb); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	got := make([]byte, 16)
	if err := dev.ReadBuffer(dst, 0, got); err != nil {
		t.Fatalf("ReadBuffer() error = %v", err)
	}
	want := []byte{0, 0, 0, 0, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0xAB, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("buffer = %v, want %v", got, want)
	}

	trace := dev.Trace()
	if len(trace) != 2 || trace[0].Op != OpFillBuffer || trace[1].Op != OpCopyBufferToBuffer {
		t.Errorf("Trace() = %v, want [FillBuffer CopyBufferToBuffer]", trace)
	}
	if err := queue.Submit(cb); !errors.Is(err, errCommandsClosed) {
		t.Errorf("second Submit() error = %v, want errCommandsClosed", err)
	}
}

func TestDestroyWhileRecorded(t *testing.T) {
	dev, queue := openDevice(t)

	buf, _ := dev.CreateBuffer(&gpucore.BufferDesc{Size: 8})
	cb, _ := queue.CreateCommandBuffer("pending")
	if err := cb.FillBuffer(buf, 0, 8, 1); err != nil {
		t.Fatalf("FillBuffer() error = %v", err)
	}

	dev.DestroyBuffer(buf)
	if got := dev.Live(); got != 0 {
		t.Errorf("Live() = %d, want 0 after destroy", got)
	}
	if err := queue.Submit(cb); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if _, err := dev.BufferData(buf); !errors.Is(err, errUnknownObject) {
		t.Errorf("BufferData() error = %v, want errUnknownObject", err)
	}
}

func TestDispatchTrace(t *testing.T) {
	dev, queue := openDevice(t)

	module, err := dev.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: "cs", WGSL: "@compute @workgroup_size(64) fn main() {}"})
	if err != nil {
		t.Fatalf("CreateShaderModule() error = %v", err)
	}
	layout := gpucore.BindGroupLayoutDesc{Entries: []gpucore.BindGroupLayoutEntry{
		{Binding: 0, Type: gpucore.BindingTypePlain, MinBindingSize: 4},
	}}
	pipe, err := dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Layouts:       []gpucore.BindGroupLayoutDesc{layout},
		ShaderModule:  module,
		EntryPoint:    "main",
		WorkgroupSize: [3]uint32{64, 1, 1},
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline() error = %v", err)
	}

	cb, _ := queue.CreateCommandBuffer("compute")
	pass := cb.BeginComputePass("update")
	pass.SetPipeline(pipe)
	if err := pass.SetBindings(0, []gpucore.Binding{{Binding: 0, Type: gpucore.BindingTypePlain, Data: make([]byte, 8)}}); !errors.Is(err, errBindingLayout) {
		t.Errorf("SetBindings(wrong size) error = %v, want errBindingLayout", err)
	}
	if err := pass.SetBindings(0, []gpucore.Binding{{Binding: 0, Type: gpucore.BindingTypePlain, Data: make([]byte, 4)}}); err != nil {
		t.Fatalf("SetBindings() error = %v", err)
	}
	pass.Dispatch(16, 1, 1)
	pass.End()
	if err := queue.Submit(cb); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	trace := dev.Trace()
	if len(trace) != 1 {
		t.Fatalf("len(Trace()) = %d, want 1", len(trace))
	}
	if got := trace[0].Invocations(); got != 1024 {
		t.Errorf("Invocations() = %d, want 1024", got)
	}
	if trace[0].Pass != "update" {
		t.Errorf("Pass = %q, want %q", trace[0].Pass, "update")
	}

	dev.DestroyComputePipeline(pipe)
	dev.DestroyShaderModule(module)
	if got := dev.Live(); got != 0 {
		t.Errorf("Live() = %d, want 0", got)
	}
}

func TestDispatchWithoutPipeline(t *testing.T) {
	_, queue := openDevice(t)

	cb, _ := queue.CreateCommandBuffer("broken")
	pass := cb.BeginComputePass("")
	pass.Dispatch(1, 1, 1)
	pass.End()
	if err := queue.Submit(cb); !errors.Is(err, errNoPipeline) {
		t.Errorf("Submit() error = %v, want errNoPipeline", err)
	}
}

func TestTextureCopyAndClear(t *testing.T) {
	dev, queue := openDevice(t)

	tex, err := dev.CreateTexture(&gpucore.TextureDesc{
		Format:        gpucore.TextureFormatRGBA8Unorm,
		Size:          gpucore.Extent{Width: 2, Height: 2, Depth: 1},
		Dimension:     gpucore.TextureDimension2D,
		MipLevelCount: 2,
		Usage:         gpucore.TextureUsageCopy | gpucore.TextureUsageTarget,
	})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	view, err := dev.CreateTextureView(&gpucore.TextureViewDesc{
		Texture:         tex,
		Format:          gpucore.TextureFormatRGBA8Unorm,
		Dimension:       gpucore.ViewDimension2D,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	})
	if err != nil {
		t.Fatalf("CreateTextureView() error = %v", err)
	}

	staging, _ := dev.CreateBuffer(&gpucore.BufferDesc{Size: 16, Memory: gpucore.MemoryUpload})
	pixels := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if err := dev.WriteBuffer(staging, 0, pixels); err != nil {
		t.Fatalf("WriteBuffer() error = %v", err)
	}

	cb, _ := queue.CreateCommandBuffer("upload")
	err = cb.CopyBufferToTexture(&gpucore.BufferTextureCopy{
		Buffer: staging, BytesPerRow: 8, Texture: tex,
		Size: gpucore.Extent{Width: 2, Height: 2, Depth: 1},
	})
	if err != nil {
		t.Fatalf("CopyBufferToTexture() error = %v", err)
	}
	if err := queue.Submit(cb); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	got, _ := dev.TextureData(tex, 0)
	if !bytes.Equal(got, pixels) {
		t.Errorf("TextureData() = %v, want %v", got, pixels)
	}

	cb, _ = queue.CreateCommandBuffer("clear")
	rp := cb.BeginRenderPass(&gpucore.RenderPassDesc{Colors: []gpucore.Attachment{{
		View: view, Load: gpucore.LoadOpClear, ClearColor: [4]float64{1, 0, 0, 1},
	}}})
	rp.End()
	if err := queue.Submit(cb); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	got, _ = dev.TextureData(tex, 0)
	want := bytes.Repeat([]byte{255, 0, 0, 255}, 4)
	if !bytes.Equal(got, want) {
		t.Errorf("TextureData() after clear = %v, want %v", got, want)
	}

	// The view keeps the texture alive until it is destroyed.
	dev.DestroyTexture(tex)
	if _, err := dev.CreateTextureView(&gpucore.TextureViewDesc{Texture: tex, MipLevelCount: 1, ArrayLayerCount: 1}); err == nil {
		t.Error("CreateTextureView() on destroyed texture succeeded")
	}
	dev.DestroyTextureView(view)
	dev.DestroyBuffer(staging)
	if got := dev.Live(); got != 0 {
		t.Errorf("Live() = %d, want 0", got)
	}
	if got := dev.DoubleDestroys(); got != 0 {
		t.Errorf("DoubleDestroys() = %d, want 0", got)
	}
}

func TestEncodeTexel(t *testing.T) {
	tests := []struct {
		format gpucore.TextureFormat
		color  [4]float64
		want   []byte
	}{
		{gpucore.TextureFormatRGBA8Unorm, [4]float64{1, 0.5, 0, 1}, []byte{255, 128, 0, 255}},
		{gpucore.TextureFormatBGRA8Unorm, [4]float64{1, 0.5, 0, 1}, []byte{0, 128, 255, 255}},
		{gpucore.TextureFormatRGBA8Unorm, [4]float64{2, -1, 0, 0}, []byte{255, 0, 0, 0}},
		{gpucore.TextureFormatR32Float, [4]float64{1, 0, 0, 0}, []byte{0, 0, 0x80, 0x3F}},
	}

	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			if got := encodeTexel(tt.format, tt.color); !bytes.Equal(got, tt.want) {
				t.Errorf("encodeTexel() = %v, want %v", got, tt.want)
			}
		})
	}
}
