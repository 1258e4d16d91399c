package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// config holds the demo settings. Values are merged as defaults, then the
// TOML file named by -config, then explicitly set flags.
type config struct {
	Backend    string        `toml:"backend"`
	Validation bool          `toml:"validation"`
	Capacity   uint32        `toml:"capacity"`
	Emit       uint32        `toml:"emit"`
	Frames     int           `toml:"frames"`
	FrameTime  time.Duration `toml:"frame_time"`
	TargetSize uint32        `toml:"target_size"`
	Sprite     string        `toml:"sprite"`
	SpriteSize int           `toml:"sprite_size"`
	Verbose    bool          `toml:"verbose"`
}

func defaultConfig() config {
	return config{
		Capacity:   1000,
		Emit:       64,
		Frames:     60,
		FrameTime:  time.Second / 60,
		TargetSize: 256,
		SpriteSize: 64,
	}
}

func (c *config) validate() error {
	switch {
	case c.Capacity == 0:
		return errors.New("capacity must be positive")
	case c.Frames < 0:
		return fmt.Errorf("frames %d is negative", c.Frames)
	case c.FrameTime <= 0:
		return fmt.Errorf("frame time %v must be positive", c.FrameTime)
	case c.TargetSize == 0:
		return errors.New("target size must be positive")
	case c.Sprite != "" && c.SpriteSize <= 0:
		return fmt.Errorf("sprite size %d must be positive", c.SpriteSize)
	}
	return nil
}

// loadConfigFile decodes path over cfg. Unknown keys are an error.
func loadConfigFile(path string, cfg *config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// parseConfig builds the effective configuration from command-line args.
func parseConfig(args []string, stderr io.Writer) (config, error) {
	cfg := defaultConfig()

	fs := flag.NewFlagSet("bladedemo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		path  = fs.String("config", "", "TOML config `file`")
		flags = defaultConfig()
	)
	fs.StringVar(&flags.Backend, "backend", flags.Backend, "driver name (native, software); empty picks the best available")
	fs.BoolVar(&flags.Validation, "validation", flags.Validation, "enable driver and shader validation")
	var capacity, emit, target uint
	fs.UintVar(&capacity, "capacity", uint(flags.Capacity), "particle capacity")
	fs.UintVar(&emit, "emit", uint(flags.Emit), "particles emitted per frame")
	fs.IntVar(&flags.Frames, "frames", flags.Frames, "number of frames to run")
	fs.DurationVar(&flags.FrameTime, "frame-time", flags.FrameTime, "simulated time step per frame")
	fs.UintVar(&target, "target-size", uint(flags.TargetSize), "edge length of the offscreen render target")
	fs.StringVar(&flags.Sprite, "sprite", flags.Sprite, "optional sprite image to upload")
	fs.IntVar(&flags.SpriteSize, "sprite-size", flags.SpriteSize, "sprite is fitted into a square of this size")
	fs.BoolVar(&flags.Verbose, "v", flags.Verbose, "log debug output")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if *path != "" {
		if err := loadConfigFile(*path, &cfg); err != nil {
			return cfg, err
		}
	}

	var err error
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = flags.Backend
		case "validation":
			cfg.Validation = flags.Validation
		case "capacity":
			cfg.Capacity, err = toUint32(f.Name, capacity, err)
		case "emit":
			cfg.Emit, err = toUint32(f.Name, emit, err)
		case "frames":
			cfg.Frames = flags.Frames
		case "frame-time":
			cfg.FrameTime = flags.FrameTime
		case "target-size":
			cfg.TargetSize, err = toUint32(f.Name, target, err)
		case "sprite":
			cfg.Sprite = flags.Sprite
		case "sprite-size":
			cfg.SpriteSize = flags.SpriteSize
		case "v":
			cfg.Verbose = flags.Verbose
		}
	})
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func toUint32(name string, v uint, prev error) (uint32, error) {
	if uint64(v) > math.MaxUint32 {
		return 0, errors.Join(prev, fmt.Errorf("-%s %d overflows uint32", name, v))
	}
	return uint32(v), prev
}
