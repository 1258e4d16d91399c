// Package blade is a thin, backend-agnostic GPU abstraction layer.
//
// # Overview
//
// blade gives one API for creating GPU resources (buffers, textures and
// texture views), building compute and render pipelines out of WGSL shader
// entry points, and recording command buffers. Native work is delegated to
// a driver registered in package backend:
//
//   - backend/native runs on the gogpu/wgpu HAL (Metal first, Vulkan otherwise)
//   - backend/software keeps everything in memory and is used by tests
//
// # Quick Start
//
//	import (
//		"github.com/gogpu/blade"
//		_ "github.com/gogpu/blade/backend/native"
//	)
//
//	ctx, err := blade.New(blade.ContextDesc{Name: "app"})
//	if err != nil {
//		return err
//	}
//	defer ctx.Close()
//
//	buf, _ := ctx.CreateBuffer(blade.BufferDesc{Name: "p", Size: 1024})
//	enc := ctx.CreateCommandEncoder(blade.CommandEncoderDesc{Name: "frame"})
//	_ = enc.Start()
//	tp, _ := enc.Transfer()
//	_ = tp.FillBuffer(buf.At(0), 1024, 0)
//	_ = tp.End()
//	_ = ctx.Submit(enc)
//	_ = ctx.DestroyBuffer(buf)
//
// # Lifecycle
//
// Resource handles are small comparable values. The zero value is the null
// handle, and every resource is destroyed exactly once through its Context.
// Misuse (null handles, double destroys, recording into a submitted encoder)
// is reported with the sentinel errors in errors.go and never reaches the
// driver.
//
// A CommandEncoder goes from empty to recording with Start, opens one pass
// at a time, and is spent by Submit. Submit does not wait for the GPU; use
// Context.WaitIdle or Context.ReadBuffer to observe results.
//
// # Logging
//
// The package logs through log/slog. Logging is silent until SetLogger is
// called.
package blade
