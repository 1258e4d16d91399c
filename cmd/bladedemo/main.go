// Command bladedemo runs the blade particle system for a number of frames
// and prints a summary.
//
// Usage:
//
//	bladedemo [-config demo.toml] [-backend software] [-frames 120] [-sprite logo.png]
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/exp/zapslog"
	"golang.org/x/term"

	"github.com/gogpu/blade"
	"github.com/gogpu/blade/examples/particle"

	_ "github.com/gogpu/blade/backend/native"
	_ "github.com/gogpu/blade/backend/software"
)

const idleTimeout = 5 * time.Second

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "bladedemo:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	sum, err := run(cfg, logger)
	if err != nil {
		logger.Error("demo failed", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
	printSummary(os.Stdout, sum, term.IsTerminal(int(os.Stdout.Fd())))
}

func newLogger(verbose bool) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	zc.DisableStacktrace = true
	if !verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// summary describes a finished run.
type summary struct {
	Driver   string
	Device   string
	Frames   int
	Capacity uint32
	Emitted  uint64
	Passes   int
	Sprite   blade.Extent
	Elapsed  time.Duration
}

// run opens a context, drives the particle system for cfg.Frames frames
// and releases everything it created.
func run(cfg config, logger *zap.Logger) (sum summary, err error) {
	ctx, err := blade.New(blade.ContextDesc{
		Name:       "bladedemo",
		Backend:    cfg.Backend,
		Validation: cfg.Validation,
		Logger:     slog.New(zapslog.NewHandler(logger.Core(), zapslog.WithName("blade"))),
	})
	if err != nil {
		return sum, err
	}
	defer func() {
		if cerr := ctx.Close(); cerr != nil {
			logger.Warn("close context", zap.Error(cerr))
		}
	}()
	caps := ctx.Capabilities()
	sum.Driver, sum.Device, sum.Capacity = ctx.Driver(), caps.Name, cfg.Capacity
	logger.Info("context ready",
		zap.String("driver", sum.Driver),
		zap.String("device", caps.Name),
		zap.Bool("validation", cfg.Validation))

	sys, err := particle.New(ctx, particle.Desc{Name: "particles", Capacity: cfg.Capacity})
	if err != nil {
		return sum, err
	}
	defer func() { err = errors.Join(err, sys.Delete(ctx)) }()

	target, err := newTarget(ctx, cfg.TargetSize)
	if err != nil {
		return sum, err
	}
	defer target.release(ctx)

	var img *spriteImage
	if cfg.Sprite != "" {
		pix, err := loadSprite(cfg.Sprite, cfg.SpriteSize)
		if err != nil {
			return sum, err
		}
		img = &spriteImage{path: cfg.Sprite, pix: pix}
	}

	start := time.Now()
	spr, err := setup(ctx, sys, img)
	if spr != nil {
		defer spr.release(ctx)
		sum.Sprite = spr.size
		logger.Info("sprite uploaded", zap.String("path", img.path),
			zap.Uint32("width", spr.size.Width), zap.Uint32("height", spr.size.Height))
	}
	if err != nil {
		return sum, err
	}

	dt := float32(cfg.FrameTime.Seconds())
	for i := range cfg.Frames {
		passes, err := frame(ctx, sys, target.view, i, cfg.Emit, dt)
		if err != nil {
			return sum, fmt.Errorf("frame %d: %w", i, err)
		}
		sum.Frames++
		sum.Passes += passes
		sum.Emitted += uint64(min(cfg.Emit, cfg.Capacity))
		logger.Debug("frame submitted", zap.Int("frame", i), zap.Int("passes", passes))
	}
	if err := ctx.WaitIdle(idleTimeout); err != nil {
		return sum, err
	}
	sum.Elapsed = time.Since(start)
	logger.Info("run finished", zap.Int("frames", sum.Frames), zap.Duration("elapsed", sum.Elapsed))
	return sum, nil
}

type spriteImage struct {
	path string
	pix  *image.NRGBA
}

// setup records and submits the reset of the particle buffer and the
// optional sprite upload.
func setup(ctx *blade.Context, sys *particle.System, img *spriteImage) (*sprite, error) {
	enc := ctx.CreateCommandEncoder(blade.CommandEncoderDesc{Name: "setup"})
	if err := enc.Start(); err != nil {
		return nil, err
	}
	pass, err := enc.Transfer()
	if err != nil {
		enc.Discard()
		return nil, err
	}
	if err := sys.Reset(pass); err != nil {
		enc.Discard()
		return nil, err
	}
	var spr *sprite
	if img != nil {
		spr, err = uploadSprite(ctx, pass, img.pix)
		if err != nil {
			enc.Discard()
			return spr, err
		}
	}
	if err := pass.End(); err != nil {
		enc.Discard()
		return spr, err
	}
	return spr, ctx.Submit(enc)
}

// frame records and submits one simulation step and draw.
func frame(ctx *blade.Context, sys *particle.System, view blade.TextureView, index int, emit uint32, dt float32) (int, error) {
	enc := ctx.CreateCommandEncoder(blade.CommandEncoderDesc{Name: fmt.Sprintf("frame %d", index)})
	if err := enc.Start(); err != nil {
		return 0, err
	}
	err := record(enc, sys, view, emit, dt)
	if err != nil {
		enc.Discard()
		return 0, err
	}
	return enc.Passes(), ctx.Submit(enc)
}

func record(enc *blade.CommandEncoder, sys *particle.System, view blade.TextureView, emit uint32, dt float32) error {
	if err := sys.Emit(enc, emit); err != nil {
		return err
	}
	if err := sys.Update(enc, dt); err != nil {
		return err
	}
	pass, err := enc.Render(blade.RenderTargetSet{Colors: []blade.RenderTarget{{
		View: view,
		Init: blade.InitOp{Clear: true, ClearColor: [4]float64{0, 0, 0, 1}},
	}}})
	if err != nil {
		return err
	}
	if err := sys.Draw(pass); err != nil {
		return errors.Join(err, pass.End())
	}
	return pass.End()
}

// renderTarget is the offscreen color target particles are drawn into.
type renderTarget struct {
	texture blade.Texture
	view    blade.TextureView
}

func newTarget(ctx *blade.Context, size uint32) (*renderTarget, error) {
	tex, err := ctx.CreateTexture(blade.TextureDesc{
		Name:   "frame",
		Format: blade.TextureFormatRGBA8Unorm,
		Size:   blade.Extent{Width: size, Height: size},
		Usage:  blade.TextureUsageTarget | blade.TextureUsageCopy,
	})
	if err != nil {
		return nil, err
	}
	view, err := ctx.CreateTextureView(blade.TextureViewDesc{Name: "frame", Texture: tex})
	if err != nil {
		_ = ctx.DestroyTexture(tex)
		return nil, err
	}
	return &renderTarget{texture: tex, view: view}, nil
}

func (t *renderTarget) release(ctx *blade.Context) {
	_ = ctx.DestroyTextureView(t.view)
	_ = ctx.DestroyTexture(t.texture)
}
