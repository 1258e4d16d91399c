package blade

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"

	"github.com/gogpu/blade/cache"
	"github.com/gogpu/blade/gpucore"
)

// wgslModule is the lowered form of one WGSL source.
type wgslModule struct {
	module  *ir.Module
	entries map[string]EntryPoint
}

var (
	// loweredSources holds lowered WGSL keyed by the SHA-256 of its source.
	loweredSources = cache.New[[sha256.Size]byte, *wgslModule](cache.DefaultCapacity)

	// validatedSources remembers sources that passed the IR validator.
	validatedSources = cache.New[[sha256.Size]byte, struct{}](cache.DefaultCapacity)
)

// compileWGSL lowers source and returns its entry points. With validate
// set the module is also checked by the IR validator. Failures are not
// cached and wrap gpucore.ErrCompile.
func compileWGSL(source string, validate bool) (map[string]EntryPoint, error) {
	key := sha256.Sum256([]byte(source))
	m, err := loweredSources.Load(key, func() (*wgslModule, error) {
		return lowerWGSL(source)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", gpucore.ErrCompile, err)
	}
	if validate {
		_, err := validatedSources.Load(key, func() (struct{}, error) {
			return struct{}{}, validateModule(m)
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", gpucore.ErrCompile, err)
		}
	}
	return m.entries, nil
}

// ShaderStage identifies a programmable pipeline stage.
type ShaderStage uint8

// Shader stages.
const (
	StageCompute ShaderStage = iota + 1
	StageVertex
	StageFragment
)

// String returns the stage name.
func (s ShaderStage) String() string {
	switch s {
	case StageCompute:
		return "compute"
	case StageVertex:
		return "vertex"
	case StageFragment:
		return "fragment"
	default:
		return fmt.Sprintf("ShaderStage(%d)", uint8(s))
	}
}

// EntryPoint is a reflected shader entry point.
type EntryPoint struct {
	Name  string
	Stage ShaderStage

	// WorkgroupSize is the @workgroup_size of compute entry points, with
	// omitted dimensions set to 1.
	WorkgroupSize [3]uint32
}

// ShaderDesc describes a shader module.
type ShaderDesc struct {
	Name string

	// Source is WGSL text with one or more entry points.
	Source string
}

// Shader is a compiled shader module.
//
// A Shader is reference counted by the pipelines built from it: the native
// module is released once the Shader and every pipeline using it have
// been destroyed.
type Shader struct {
	ctx     *Context
	name    string
	module  gpucore.ShaderModuleID
	entries map[string]EntryPoint

	// guarded by ctx.mu
	refs      int
	destroyed bool
}

// Name returns the shader name.
func (s *Shader) Name() string { return s.name }

// EntryPoint returns the reflected entry point with the given name.
func (s *Shader) EntryPoint(name string) (EntryPoint, bool) {
	ep, ok := s.entries[name]
	return ep, ok
}

// EntryPoints returns all entry points sorted by name.
func (s *Shader) EntryPoints() []EntryPoint {
	out := make([]EntryPoint, 0, len(s.entries))
	for _, ep := range s.entries {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// At returns the function of s named entry.
func (s *Shader) At(entry string) ShaderFunction {
	return ShaderFunction{Shader: s, EntryPoint: entry}
}

// ShaderFunction names one entry point of a shader.
type ShaderFunction struct {
	Shader     *Shader
	EntryPoint string
}

// CreateShader compiles a shader module and reflects its entry points.
// With validation enabled the lowered module is also run through the IR
// validator. Compile failures are returned as *ShaderError.
func (c *Context) CreateShader(desc ShaderDesc) (*Shader, error) {
	entries, err := compileWGSL(desc.Source, c.validation)
	if err != nil {
		return nil, &ShaderError{Name: desc.Name, Err: err}
	}

	if err := c.lock(); err != nil {
		return nil, err
	}
	defer c.mu.Unlock()

	id, err := c.device.CreateShaderModule(&gpucore.ShaderModuleDesc{Label: desc.Name, WGSL: desc.Source})
	if err != nil {
		return nil, &ShaderError{Name: desc.Name, Err: err}
	}
	c.resources.add(uint64(id), &resource{kind: kindShader, name: desc.Name})
	c.log.Debug("blade: shader created", "name", desc.Name, "entry_points", len(entries))
	return &Shader{ctx: c, name: desc.Name, module: id, entries: entries, refs: 1}, nil
}

// DestroyShader releases the Shader's own reference. Pipelines built from
// it keep working.
func (c *Context) DestroyShader(s *Shader) error {
	if s == nil {
		return fmt.Errorf("%w: shader", ErrNullHandle)
	}
	if err := c.lock(); err != nil {
		return err
	}
	defer c.mu.Unlock()

	if s.ctx != c {
		return fmt.Errorf("%w: shader %q belongs to another context", ErrInvalidDescriptor, s.name)
	}
	if s.destroyed {
		return fmt.Errorf("%w: shader %q", ErrResourceDestroyed, s.name)
	}
	s.destroyed = true
	_, _ = c.resources.retire(uint64(s.module), kindShader)
	c.releaseShaderLocked(s)
	return nil
}

// releaseShaderLocked drops one reference and destroys the native module
// with the last one.
func (c *Context) releaseShaderLocked(s *Shader) {
	s.refs--
	if s.refs > 0 {
		return
	}
	c.device.DestroyShaderModule(s.module)
	c.log.Debug("blade: shader module released", "name", s.name)
}

// resolveFunction checks that f names a live entry point of the wanted
// stage. Called with c.mu held.
func (c *Context) resolveFunction(f ShaderFunction, stage ShaderStage) (EntryPoint, error) {
	if f.Shader == nil {
		return EntryPoint{}, fmt.Errorf("%w: shader", ErrNullHandle)
	}
	if f.Shader.ctx != c {
		return EntryPoint{}, fmt.Errorf("%w: shader %q belongs to another context", ErrInvalidDescriptor, f.Shader.name)
	}
	if f.Shader.destroyed {
		return EntryPoint{}, fmt.Errorf("%w: shader %q", ErrResourceDestroyed, f.Shader.name)
	}
	ep, ok := f.Shader.entries[f.EntryPoint]
	if !ok {
		return EntryPoint{}, fmt.Errorf("%w: %q in shader %q", ErrEntryPointNotFound, f.EntryPoint, f.Shader.name)
	}
	if ep.Stage != stage {
		return EntryPoint{}, fmt.Errorf("%w: %q is a %s entry point", ErrStageMismatch, ep.Name, ep.Stage)
	}
	return ep, nil
}

// wgslStages maps front-end stages to the stages pipelines are built from.
var wgslStages = map[ir.ShaderStage]ShaderStage{
	ir.StageCompute:  StageCompute,
	ir.StageVertex:   StageVertex,
	ir.StageFragment: StageFragment,
}

// lowerWGSL parses and lowers source, then reflects its entry points.
func lowerWGSL(source string) (*wgslModule, error) {
	ast, err := naga.Parse(source)
	if err != nil {
		return nil, err
	}
	module, err := naga.LowerWithSource(ast, source)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]EntryPoint, len(module.EntryPoints))
	for i := range module.EntryPoints {
		raw := &module.EntryPoints[i]
		stage, ok := wgslStages[raw.Stage]
		if !ok {
			return nil, fmt.Errorf("entry point %q: unsupported stage %d", raw.Name, raw.Stage)
		}
		if _, dup := entries[raw.Name]; dup {
			return nil, fmt.Errorf("duplicate entry point %q", raw.Name)
		}
		ep := EntryPoint{Name: raw.Name, Stage: stage}
		if stage == StageCompute {
			ep.WorkgroupSize = raw.Workgroup
			if ep.WorkgroupSize[0] == 0 || ep.WorkgroupSize[1] == 0 || ep.WorkgroupSize[2] == 0 {
				return nil, fmt.Errorf("entry point %q: workgroup size %v has a zero dimension", raw.Name, ep.WorkgroupSize)
			}
		}
		entries[raw.Name] = ep
	}
	if len(entries) == 0 {
		return nil, errors.New("no entry points")
	}
	return &wgslModule{module: module, entries: entries}, nil
}

// validateModule runs the IR validator over m.
func validateModule(m *wgslModule) error {
	errs, err := naga.Validate(m.module)
	if err != nil {
		return err
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
