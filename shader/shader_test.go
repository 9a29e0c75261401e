package shader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const computeWGSL = `
@group(0) @binding(0) var<storage, read_write> data: array<f32>;

@compute @workgroup_size(64)
fn main(@builtin(global_invocation_id) id: vec3<u32>) {
    data[id.x] = data[id.x] * 2.0;
}
`

func TestBuiltinLibraries(t *testing.T) {
	names := Builtins()
	want := []string{"ClosestHitDefault.hlsl", "MissDefault.hlsl", "RaygenDefault.hlsl"}
	if len(names) != len(want) {
		t.Fatalf("Builtins() = %v, want %v", names, want)
	}
	for i, name := range names {
		if name != want[i] {
			t.Errorf("Builtins()[%d] = %q, want %q", i, name, want[i])
		}
		src, err := Builtin(name)
		if err != nil {
			t.Fatalf("Builtin(%q): %v", name, err)
		}
		if bytes.Contains(src, []byte(commonInclude)) {
			t.Errorf("%s: include not expanded", name)
		}
		if !bytes.Contains(src, []byte("ViewConstants")) {
			t.Errorf("%s: common declarations missing", name)
		}
	}
	if _, err := Builtin("Nope.hlsl"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Builtin(Nope.hlsl) = %v, want ErrNotFound", err)
	}
}

func TestLoadFallsBackToBuiltin(t *testing.T) {
	c := NewCompiler(t.TempDir())
	for _, d := range []Desc{RayGen, Miss, ClosestHit} {
		code, err := c.Load(d)
		if err != nil {
			t.Fatalf("Load(%v): %v", d, err)
		}
		if len(code) == 0 {
			t.Errorf("Load(%v) returned no code", d)
		}
	}
	if _, err := c.Load(Desc{Path: "Missing.hlsl"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load(Missing.hlsl) = %v, want ErrNotFound", err)
	}
}

func TestLoadRawFileAndCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Custom.dxil")
	if err := os.WriteFile(path, []byte("v1"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := NewCompiler(dir)
	d := Desc{Path: "Custom.dxil", EntryPoint: "main"}

	for range 2 {
		code, err := c.Load(d)
		if err != nil || string(code) != "v1" {
			t.Fatalf("Load = %q, %v", code, err)
		}
	}
	if st := c.Stats(); st.Hits != 1 || st.Len != 1 {
		t.Errorf("after two loads: %+v, want 1 hit and 1 entry", st)
	}

	// A newer modification time replaces the cached result.
	if err := os.WriteFile(path, []byte("v2"), 0o600); err != nil {
		t.Fatal(err)
	}
	later := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatal(err)
	}
	code, err := c.Load(d)
	if err != nil || string(code) != "v2" {
		t.Fatalf("Load after change = %q, %v", code, err)
	}
	if st := c.Stats(); st.Len != 1 {
		t.Errorf("stale entry kept: %+v", st)
	}
}

func TestCompileWGSLToSPIRV(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "double.wgsl"), []byte(computeWGSL), 0o600); err != nil {
		t.Fatal(err)
	}
	code, err := NewCompiler(dir).Load(Desc{Path: "double.wgsl", Target: "spirv"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(code) < 4 || binary.LittleEndian.Uint32(code) != 0x07230203 {
		t.Errorf("output is not SPIR-V")
	}
}

func TestCompileWGSLToHLSL(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "double.wgsl"), []byte(computeWGSL), 0o600); err != nil {
		t.Fatal(err)
	}
	code, err := NewCompiler(dir).Load(Desc{Path: "double.wgsl", EntryPoint: "main", Target: "cs_6_0"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Contains(code, []byte("numthreads")) {
		t.Errorf("HLSL output has no numthreads attribute:\n%s", code)
	}
}

func TestCompileError(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.wgsl"), []byte("fn ("), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := NewCompiler(dir).Load(Desc{Path: "bad.wgsl", Target: "spirv"})
	if !errors.Is(err, ErrCompile) {
		t.Errorf("Load(bad.wgsl) = %v, want ErrCompile", err)
	}
}

func TestShaderModel(t *testing.T) {
	tests := []struct {
		target string
		ok     bool
	}{
		{"lib_6_3", true},
		{"cs_5_1", true},
		{"lib_9_9", false},
		{"spirv", false},
	}
	for _, tt := range tests {
		_, err := ShaderModel(tt.target)
		if (err == nil) != tt.ok {
			t.Errorf("ShaderModel(%q) error = %v, want ok=%v", tt.target, err, tt.ok)
		}
		if err != nil && !errors.Is(err, ErrTarget) {
			t.Errorf("ShaderModel(%q) error %v is not ErrTarget", tt.target, err)
		}
	}
}
