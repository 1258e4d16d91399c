package native

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/blade/gpucore"
)

// createdBuffer is one buffer a recordingDevice handed out.
type createdBuffer struct {
	desc hal.BufferDescriptor
	raw  hal.Buffer
}

// recordingDevice passes calls through to a HAL device and records the
// ones that show what reached the driver and when objects were freed.
type recordingDevice struct {
	hal.Device

	mu              sync.Mutex
	created         []createdBuffer
	destroyed       map[hal.Buffer]int
	texturesFreed   int
	viewsFreed      int
	renderPipeline  *hal.RenderPipelineDescriptor
	renderPipelines int
}

func newRecordingDevice(d hal.Device) *recordingDevice {
	return &recordingDevice{Device: d, destroyed: make(map[hal.Buffer]int)}
}

func (r *recordingDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	raw, err := r.Device.CreateBuffer(desc)
	if err == nil {
		r.mu.Lock()
		r.created = append(r.created, createdBuffer{desc: *desc, raw: raw})
		r.mu.Unlock()
	}
	return raw, err
}

func (r *recordingDevice) DestroyBuffer(b hal.Buffer) {
	r.mu.Lock()
	r.destroyed[b]++
	r.mu.Unlock()
	r.Device.DestroyBuffer(b)
}

func (r *recordingDevice) DestroyTexture(t hal.Texture) {
	r.mu.Lock()
	r.texturesFreed++
	r.mu.Unlock()
	r.Device.DestroyTexture(t)
}

func (r *recordingDevice) DestroyTextureView(v hal.TextureView) {
	r.mu.Lock()
	r.viewsFreed++
	r.mu.Unlock()
	r.Device.DestroyTextureView(v)
}

func (r *recordingDevice) CreateRenderPipeline(desc *hal.RenderPipelineDescriptor) (hal.RenderPipeline, error) {
	r.mu.Lock()
	cp := *desc
	r.renderPipeline = &cp
	r.renderPipelines++
	r.mu.Unlock()
	return r.Device.CreateRenderPipeline(desc)
}

func (r *recordingDevice) freed(b hal.Buffer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.destroyed[b]
}

// scriptedQueue passes calls through to a HAL queue. A stalled queue stops
// reporting completions, and writeErr fails every WriteBuffer.
type scriptedQueue struct {
	hal.Queue

	writeErr error

	mu        sync.Mutex
	stalled   bool
	completed uint64
	submits   int
}

func (q *scriptedQueue) Submit(cbs []hal.CommandBuffer) (uint64, error) {
	q.mu.Lock()
	q.submits++
	q.mu.Unlock()
	return q.Queue.Submit(cbs)
}

func (q *scriptedQueue) PollCompleted() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.stalled {
		q.completed = q.Queue.PollCompleted()
	}
	return q.completed
}

func (q *scriptedQueue) WriteBuffer(b hal.Buffer, offset uint64, data []byte) error {
	if q.writeErr != nil {
		return q.writeErr
	}
	return q.Queue.WriteBuffer(b, offset, data)
}

func (q *scriptedQueue) stall(v bool) {
	q.mu.Lock()
	q.stalled = v
	q.mu.Unlock()
}

// openRecorded opens a noop device behind a recordingDevice and scriptedQueue.
func openRecorded(t *testing.T, writeErr error) (*Device, gpucore.Queue, *recordingDevice, *scriptedQueue) {
	t.Helper()
	var rec *recordingDevice
	var sq *scriptedQueue
	dev, queue := openWrapped(t, func(d hal.Device, q hal.Queue) (hal.Device, hal.Queue) {
		rec = newRecordingDevice(d)
		sq = &scriptedQueue{Queue: q, writeErr: writeErr}
		return rec, sq
	})
	t.Cleanup(func() { sq.stall(false) })
	return dev, queue, rec, sq
}

const renderWGSL = `
@vertex
fn vs_main(@builtin(vertex_index) i: u32) -> @builtin(position) vec4<f32> {
    return vec4<f32>(f32(i), 0.0, 0.0, 1.0);
}

@fragment
fn fs_main() -> @location(0) vec4<f32> {
    return vec4<f32>(1.0, 0.0, 0.0, 1.0);
}
`

func TestRenderPipelineState(t *testing.T) {
	dev, _, rec, _ := openRecorded(t, nil)

	mod, err := dev.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: "tri", WGSL: renderWGSL})
	if err != nil {
		t.Fatalf("CreateShaderModule: %v", err)
	}
	desc := func(prim gpucore.PrimitiveState) *gpucore.RenderPipelineDesc {
		return &gpucore.RenderPipelineDesc{
			Label:          "tri",
			VertexModule:   mod,
			VertexEntry:    "vs_main",
			FragmentModule: mod,
			FragmentEntry:  "fs_main",
			Primitive:      prim,
			ColorTargets:   []gpucore.ColorTargetState{{Format: gpucore.TextureFormatRGBA8Unorm, WriteMask: gpucore.ColorWriteAll}},
			DepthStencil: &gpucore.DepthStencilState{
				Format:            gpucore.TextureFormatDepth32Float,
				DepthWriteEnabled: true,
				DepthCompare:      gpucore.CompareLess,
				Bias:              gpucore.DepthBiasState{Constant: 4, SlopeScale: 1.5, Clamp: 0.25},
			},
		}
	}

	pipe, err := dev.CreateRenderPipeline(desc(gpucore.PrimitiveState{
		Topology:       gpucore.TopologyTriangleList,
		UnclippedDepth: true,
	}))
	if err != nil {
		t.Fatalf("CreateRenderPipeline: %v", err)
	}
	got := rec.renderPipeline
	if got == nil || got.DepthStencil == nil {
		t.Fatalf("HAL descriptor has no depth state: %+v", got)
	}
	ds := got.DepthStencil
	if ds.DepthBias != 4 || ds.DepthBiasSlopeScale != 1.5 || ds.DepthBiasClamp != 0.25 {
		t.Errorf("depth bias = (%d, %v, %v), want (4, 1.5, 0.25)", ds.DepthBias, ds.DepthBiasSlopeScale, ds.DepthBiasClamp)
	}
	if ds.Format != gputypes.TextureFormatDepth32Float || !ds.DepthWriteEnabled || ds.DepthCompare != gputypes.CompareFunctionLess {
		t.Errorf("depth state = %+v", ds)
	}
	if !got.Primitive.UnclippedDepth {
		t.Error("UnclippedDepth not forwarded")
	}
	dev.DestroyRenderPipeline(pipe)

	_, err = dev.CreateRenderPipeline(desc(gpucore.PrimitiveState{Wireframe: true}))
	if !errors.Is(err, gpucore.ErrUnsupported) {
		t.Errorf("wireframe pipeline: got %v, want ErrUnsupported", err)
	}
	if rec.renderPipelines != 1 {
		t.Errorf("HAL saw %d render pipelines, want 1", rec.renderPipelines)
	}
}

func TestReadThroughStaging(t *testing.T) {
	dev, _, rec, sq := openRecorded(t, nil)

	id, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: "upload", Size: 64, Memory: gpucore.MemoryUpload})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	before := len(rec.created)
	if err := dev.ReadBuffer(id, 3, make([]byte, 10)); err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}

	if len(rec.created) != before+1 {
		t.Fatalf("ReadBuffer created %d buffers, want 1", len(rec.created)-before)
	}
	staging := rec.created[before]
	want := gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst
	if staging.desc.Usage != want {
		t.Errorf("staging usage = %v, want %v", staging.desc.Usage, want)
	}
	if staging.desc.Size != 16 {
		t.Errorf("staging size = %d, want 16", staging.desc.Size)
	}
	if sq.submits != 1 {
		t.Errorf("submits = %d, want 1", sq.submits)
	}
	if n := rec.freed(staging.raw); n != 1 {
		t.Errorf("staging destroyed %d times, want 1", n)
	}
	if n := len(dev.tracker.pending); n != 0 {
		t.Errorf("pending retirements = %d, want 0", n)
	}
}

func TestReadMappedSkipsStaging(t *testing.T) {
	dev, _, rec, sq := openRecorded(t, nil)

	id, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: "shared", Size: 32, Memory: gpucore.MemoryShared})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if err := dev.WriteBuffer(id, 0, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	got := make([]byte, 4)
	if err := dev.ReadBuffer(id, 0, got); err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if got[0] != 1 || got[3] != 4 {
		t.Errorf("ReadBuffer = %v, want [1 2 3 4]", got)
	}
	if len(rec.created) != 1 || sq.submits != 0 {
		t.Errorf("mapped read created %d buffers and submitted %d times", len(rec.created), sq.submits)
	}
}

func TestQueueWriteErrors(t *testing.T) {
	writeErr := errors.New("queue write failed")
	dev, queue, _, _ := openRecorded(t, writeErr)

	buf, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: "data", Size: 64})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	mod, err := dev.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: "scale", WGSL: computeWGSL})
	if err != nil {
		t.Fatalf("CreateShaderModule: %v", err)
	}
	pipe, err := dev.CreateComputePipeline(&gpucore.ComputePipelineDesc{
		Label: "scale",
		Layouts: []gpucore.BindGroupLayoutDesc{{Entries: []gpucore.BindGroupLayoutEntry{
			{Binding: 0, Type: gpucore.BindingTypePlain, MinBindingSize: 16},
			{Binding: 1, Type: gpucore.BindingTypeStorageBuffer},
		}}},
		ShaderModule: mod, EntryPoint: "main", WorkgroupSize: [3]uint32{64, 1, 1},
	})
	if err != nil {
		t.Fatalf("CreateComputePipeline: %v", err)
	}

	tests := []struct {
		name    string
		run     func(cb gpucore.CommandBuffer) error
		wantErr bool
	}{
		{"write buffer", func(gpucore.CommandBuffer) error {
			return dev.WriteBuffer(buf, 0, []byte{1, 2, 3, 4})
		}, true},
		{"fill pattern", func(cb gpucore.CommandBuffer) error {
			return cb.FillBuffer(buf, 0, 16, 0xAB)
		}, true},
		{"fill zero", func(cb gpucore.CommandBuffer) error {
			return cb.FillBuffer(buf, 0, 16, 0)
		}, false},
		{"plain binding", func(cb gpucore.CommandBuffer) error {
			pass := cb.BeginComputePass("scale")
			defer pass.End()
			pass.SetPipeline(pipe)
			return pass.SetBindings(0, []gpucore.Binding{
				{Binding: 0, Type: gpucore.BindingTypePlain, Data: make([]byte, 16)},
				{Binding: 1, Type: gpucore.BindingTypeStorageBuffer, Buffer: buf, Size: 64},
			})
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := queue.CreateCommandBuffer(tt.name)
			if err != nil {
				t.Fatalf("CreateCommandBuffer: %v", err)
			}
			defer cb.Discard()
			err = tt.run(cb)
			if !tt.wantErr {
				if err != nil {
					t.Errorf("got %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, writeErr) {
				t.Errorf("got %v, want %v", err, writeErr)
			}
		})
	}
}

func TestTextureOutlivesViews(t *testing.T) {
	dev, _, rec, _ := openRecorded(t, nil)

	tex, err := dev.CreateTexture(&gpucore.TextureDesc{
		Label: "tex", Format: gpucore.TextureFormatRGBA8Unorm,
		Size:      gpucore.Extent{Width: 4, Height: 4, Depth: 1},
		Dimension: gpucore.TextureDimension2D, ArrayLayerCount: 1, MipLevelCount: 1,
		Usage: gpucore.TextureUsageResource,
	})
	if err != nil {
		t.Fatalf("CreateTexture: %v", err)
	}
	var views []gpucore.TextureViewID
	for range 2 {
		v, err := dev.CreateTextureView(&gpucore.TextureViewDesc{
			Texture: tex, Format: gpucore.TextureFormatRGBA8Unorm,
			Dimension: gpucore.ViewDimension2D, MipLevelCount: 1, ArrayLayerCount: 1,
		})
		if err != nil {
			t.Fatalf("CreateTextureView: %v", err)
		}
		views = append(views, v)
	}

	dev.DestroyTexture(tex)
	if rec.texturesFreed != 0 {
		t.Fatal("texture freed while views are alive")
	}
	if _, err := dev.CreateTextureView(&gpucore.TextureViewDesc{Texture: tex}); !errors.Is(err, errUnknownID) {
		t.Errorf("view of destroyed texture: got %v, want errUnknownID", err)
	}

	dev.DestroyTextureView(views[0])
	if rec.viewsFreed != 1 || rec.texturesFreed != 0 {
		t.Errorf("after first view: views freed %d, textures freed %d", rec.viewsFreed, rec.texturesFreed)
	}
	dev.DestroyTextureView(views[1])
	if rec.viewsFreed != 2 || rec.texturesFreed != 1 {
		t.Errorf("after last view: views freed %d, textures freed %d", rec.viewsFreed, rec.texturesFreed)
	}
}

func TestRecordedBufferHeld(t *testing.T) {
	dev, queue, rec, sq := openRecorded(t, nil)

	tests := []struct {
		name     string
		inFlight bool
	}{
		{"discarded", false},
		{"submitted", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := dev.CreateBuffer(&gpucore.BufferDesc{Label: tt.name, Size: 64})
			if err != nil {
				t.Fatalf("CreateBuffer: %v", err)
			}
			raw := dev.buffers[id].raw

			cb, err := queue.CreateCommandBuffer(tt.name)
			if err != nil {
				t.Fatalf("CreateCommandBuffer: %v", err)
			}
			if err := cb.FillBuffer(id, 0, 64, 0); err != nil {
				t.Fatalf("FillBuffer: %v", err)
			}
			dev.DestroyBuffer(id)
			if n := rec.freed(raw); n != 0 {
				t.Fatalf("buffer freed %d times while recorded", n)
			}

			if !tt.inFlight {
				cb.Discard()
			} else {
				sq.stall(true)
				if err := queue.Submit(cb); err != nil {
					t.Fatalf("Submit: %v", err)
				}
				dev.tracker.poll()
				if n := rec.freed(raw); n != 0 {
					t.Fatalf("buffer freed %d times while in flight", n)
				}
				sq.stall(false)
				dev.tracker.poll()
			}
			if n := rec.freed(raw); n != 1 {
				t.Errorf("buffer freed %d times, want 1", n)
			}
			if err := queue.WaitIdle(time.Second); err != nil {
				t.Fatalf("WaitIdle: %v", err)
			}
		})
	}
}
