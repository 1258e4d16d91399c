package blade

import (
	"errors"
	"testing"

	"github.com/gogpu/blade/backend/software"
	"github.com/gogpu/blade/gpucore"
)

func TestCompileWGSLEntryPoints(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		want    map[string]EntryPoint
		wantErr bool
	}{
		{
			name:   "compute 1d",
			source: "@compute @workgroup_size(64) fn update() {}",
			want:   map[string]EntryPoint{"update": {Name: "update", Stage: StageCompute, WorkgroupSize: [3]uint32{64, 1, 1}}},
		},
		{
			name:   "compute 2d",
			source: "@compute\n@workgroup_size(8, 8)\nfn blur(@builtin(global_invocation_id) id: vec3<u32>) {}",
			want:   map[string]EntryPoint{"blur": {Name: "blur", Stage: StageCompute, WorkgroupSize: [3]uint32{8, 8, 1}}},
		},
		{
			name:   "attribute order and trailing comma",
			source: "@workgroup_size(4, 4, 4,) @compute fn fill() {}",
			want:   map[string]EntryPoint{"fill": {Name: "fill", Stage: StageCompute, WorkgroupSize: [3]uint32{4, 4, 4}}},
		},
		{
			name: "render stages and helpers",
			source: `fn helper() -> f32 { return 1.0; }
@vertex fn vs() -> @builtin(position) vec4<f32> { return vec4<f32>(helper()); }
@fragment fn fs() -> @location(0) vec4<f32> { return vec4<f32>(0.0); }`,
			want: map[string]EntryPoint{
				"vs": {Name: "vs", Stage: StageVertex},
				"fs": {Name: "fs", Stage: StageFragment},
			},
		},
		{
			name: "comments ignored",
			source: `// @compute @workgroup_size(1) fn commented() {}
/* @vertex fn hidden() {} */
@fragment fn visible() {}`,
			want: map[string]EntryPoint{"visible": {Name: "visible", Stage: StageFragment}},
		},
		{
			name:   "constant size",
			source: "const WG = 64u;\n@compute @workgroup_size(WG, 1) fn main() {}",
			want:   map[string]EntryPoint{"main": {Name: "main", Stage: StageCompute, WorkgroupSize: [3]uint32{64, 1, 1}}},
		},
		{
			name: "nested block comments",
			source: `/* outer /* inner */ @compute @workgroup_size(8) fn hidden() {} */
@compute @workgroup_size(16) fn shown() {}`,
			want: map[string]EntryPoint{"shown": {Name: "shown", Stage: StageCompute, WorkgroupSize: [3]uint32{16, 1, 1}}},
		},
		{name: "no entry points", source: "fn helper() {}", wantErr: true},
		{name: "compute without size", source: "@compute fn update() {}", wantErr: true},
		{name: "duplicate", source: "@vertex fn main() {} @fragment fn main() {}", wantErr: true},
		{name: "zero size", source: "@compute @workgroup_size(0) fn main() {}", wantErr: true},
		{name: "zero constant size", source: "const WG = 0u;\n@compute @workgroup_size(WG) fn main() {}", wantErr: true},
		{name: "syntax error", source: "@compute @workgroup_size(1) fn main() { let = 1; }", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compileWGSL(tt.source, false)
			if tt.wantErr {
				if !errors.Is(err, gpucore.ErrCompile) {
					t.Fatalf("compileWGSL() = %v, %v, want ErrCompile", got, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("compileWGSL() = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("compileWGSL() = %v, want %v", got, tt.want)
			}
			for name, want := range tt.want {
				if got[name] != want {
					t.Errorf("entry %q = %+v, want %+v", name, got[name], want)
				}
			}
		})
	}
}

func TestShaderEntryPoints(t *testing.T) {
	ctx, _ := newTestContext(t)
	s := newTestShader(t, ctx)

	eps := s.EntryPoints()
	names := make([]string, len(eps))
	for i, ep := range eps {
		names[i] = ep.Name
	}
	if want := []string{"fs_main", "main", "vs_main"}; len(names) != 3 || names[0] != want[0] || names[1] != want[1] || names[2] != want[2] {
		t.Errorf("EntryPoints() = %v, want %v", names, want)
	}
	if ep, ok := s.EntryPoint("main"); !ok || ep.Stage != StageCompute {
		t.Errorf("EntryPoint(main) = %+v, %v", ep, ok)
	}
	if _, ok := s.EntryPoint("missing"); ok {
		t.Error("EntryPoint(missing) found")
	}
	if s.Name() != "test" {
		t.Errorf("Name() = %q", s.Name())
	}
}

func TestCreateShaderErrors(t *testing.T) {
	ctx, dev := newTestContext(t)

	_, err := ctx.CreateShader(ShaderDesc{Name: "empty", Source: "fn helper() {}"})
	var se *ShaderError
	if !errors.As(err, &se) || se.Name != "empty" {
		t.Errorf("CreateShader(no entries) = %v, want *ShaderError", err)
	}
	if n := dev.Calls("CreateShaderModule"); n != 0 {
		t.Errorf("CreateShaderModule calls = %d, want 0", n)
	}
}

func TestCreateShaderValidation(t *testing.T) {
	drv := software.New()
	ctx, err := New(ContextDesc{Driver: drv, Validation: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	_, err = ctx.CreateShader(ShaderDesc{
		Name:   "broken",
		Source: "@compute @workgroup_size(1) fn main() { let x = ; }",
	})
	var se *ShaderError
	if !errors.As(err, &se) {
		t.Fatalf("CreateShader() = %v, want *ShaderError", err)
	}
	if !errors.Is(err, gpucore.ErrCompile) {
		t.Errorf("CreateShader() = %v, want ErrCompile", err)
	}
	if n := drv.Device().Calls("CreateShaderModule"); n != 0 {
		t.Errorf("CreateShaderModule calls = %d, want 0", n)
	}
}

func TestShaderStageString(t *testing.T) {
	tests := []struct {
		stage ShaderStage
		want  string
	}{
		{StageCompute, "compute"},
		{StageVertex, "vertex"},
		{StageFragment, "fragment"},
		{ShaderStage(9), "ShaderStage(9)"},
	}
	for _, tt := range tests {
		if got := tt.stage.String(); got != tt.want {
			t.Errorf("ShaderStage(%d).String() = %q, want %q", uint8(tt.stage), got, tt.want)
		}
	}
}

func TestFailedCompileNotCached(t *testing.T) {
	const broken = "@compute @workgroup_size(1) fn main() { let = 1; }"
	before := loweredSources.Stats()
	for range 2 {
		if _, err := compileWGSL(broken, true); !errors.Is(err, gpucore.ErrCompile) {
			t.Fatalf("compileWGSL() = %v, want ErrCompile", err)
		}
	}
	after := loweredSources.Stats()
	if after.Misses-before.Misses != 2 || after.Len != before.Len {
		t.Errorf("stats went from %+v to %+v", before, after)
	}
}

func TestValidationRejectsBindingCollision(t *testing.T) {
	const source = `
@group(0) @binding(0) var<storage, read_write> a: array<u32>;
@group(0) @binding(0) var<storage, read> b: array<u32>;

@compute @workgroup_size(1)
fn main() {
	a[0] = b[0];
}
`
	if _, err := compileWGSL(source, false); err != nil {
		t.Fatalf("compileWGSL(no validation) = %v", err)
	}
	before := validatedSources.Stats()
	if _, err := compileWGSL(source, true); !errors.Is(err, gpucore.ErrCompile) {
		t.Fatalf("compileWGSL(validation) = %v, want ErrCompile", err)
	}
	if after := validatedSources.Stats(); after.Len != before.Len {
		t.Errorf("failed validation cached: %+v -> %+v", before, after)
	}
}

func TestCreateShaderValidationAccepts(t *testing.T) {
	drv := software.New()
	ctx, err := New(ContextDesc{Driver: drv, Validation: true})
	if err != nil {
		t.Fatal(err)
	}
	defer ctx.Close()

	s, err := ctx.CreateShader(ShaderDesc{Name: "test", Source: testWGSL})
	if err != nil {
		t.Fatalf("CreateShader() = %v", err)
	}
	if ep, ok := s.EntryPoint("main"); !ok || ep.WorkgroupSize != [3]uint32{64, 1, 1} {
		t.Errorf("EntryPoint(main) = %+v, %v", ep, ok)
	}
	if n := drv.Device().Calls("CreateShaderModule"); n != 1 {
		t.Errorf("CreateShaderModule calls = %d, want 1", n)
	}
}
