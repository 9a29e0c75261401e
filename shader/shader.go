// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package shader loads the shader bytecode consumed by the raytracing
// pipeline.
//
// A shader is identified by a Desc: file path, entry point and target
// profile. WGSL sources (.wgsl) are compiled with naga, to SPIR-V or,
// for shader-model targets such as "lib_6_3", to HLSL. Any other file
// is returned as is, so precompiled DXIL libraries can be used directly.
// Results are cached by path, entry point, target and modification time.
//
// The default ray generation, miss and closest-hit libraries are
// embedded and served when a Desc names a file the search directory
// does not contain:
//
//	c := shader.NewCompiler("Resources/Shaders")
//	code, err := c.Load(shader.RayGen)
package shader

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/hlsl"
	"github.com/gogpu/rtcore/internal/cache"
)

// DefaultTarget is the profile of the raytracing libraries.
const DefaultTarget = "lib_6_3"

// Desc identifies a shader.
type Desc struct {
	// Path is the source file, relative to the compiler directory.
	Path string

	// EntryPoint selects the function to compile. Empty selects the
	// first entry point.
	EntryPoint string

	// Target is the profile, e.g. "lib_6_3" or "spirv".
	Target string
}

func (d Desc) String() string {
	return fmt.Sprintf("%s:%s@%s", d.Path, d.EntryPoint, d.Target)
}

// Descriptors of the embedded default libraries.
var (
	RayGen     = Desc{Path: "RaygenDefault.hlsl", Target: DefaultTarget}
	Miss       = Desc{Path: "MissDefault.hlsl", Target: DefaultTarget}
	ClosestHit = Desc{Path: "ClosestHitDefault.hlsl", Target: DefaultTarget}
)

var (
	// ErrNotFound is returned when neither the search directory nor the
	// embedded library holds the requested file.
	ErrNotFound = errors.New("shader: not found")

	// ErrCompile is returned when a WGSL source fails to compile.
	ErrCompile = errors.New("shader: compilation failed")

	// ErrTarget is returned for unknown target profiles.
	ErrTarget = errors.New("shader: unknown target")
)

// cacheKey identifies one compilation result. A changed modification
// time makes earlier results unreachable.
type cacheKey struct {
	path, entry, target string
	modTime             time.Time
}

// cacheSize bounds the number of compiled shaders kept in memory.
const cacheSize = 64

// Compiler loads and compiles shaders from a directory.
//
// Compiler is safe for concurrent use.
type Compiler struct {
	dir   string
	cache *cache.Cache[cacheKey, []byte]
}

// NewCompiler returns a compiler that searches dir. An empty dir serves
// only the embedded library.
func NewCompiler(dir string) *Compiler {
	return &Compiler{dir: dir, cache: cache.New[cacheKey, []byte](cacheSize)}
}

// Load returns the bytecode of d.
func (c *Compiler) Load(d Desc) ([]byte, error) {
	if d.Target == "" {
		d.Target = DefaultTarget
	}
	if d.Path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrNotFound)
	}

	var fi fs.FileInfo
	var full string
	if c.dir != "" {
		full = filepath.Join(c.dir, d.Path)
		var err error
		fi, err = os.Stat(full)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat shader %s: %w", full, err)
		}
	}
	if fi == nil {
		code, err := Builtin(filepath.Base(d.Path))
		if err != nil {
			return nil, err
		}
		slogger().Debug("shader: using embedded library", "path", d.Path)
		return c.cache.GetOrLoad(cacheKey{path: "builtin:" + d.Path, entry: d.EntryPoint, target: d.Target}, func() ([]byte, error) {
			return compile(d, code)
		})
	}

	key := cacheKey{path: full, entry: d.EntryPoint, target: d.Target, modTime: fi.ModTime()}
	// Results of other versions of the file are stale.
	c.cache.DeleteFunc(func(k cacheKey) bool { return k.path == full && !k.modTime.Equal(key.modTime) })
	return c.cache.GetOrLoad(key, func() ([]byte, error) {
		src, err := os.ReadFile(full)
		if err != nil {
			return nil, fmt.Errorf("read shader: %w", err)
		}
		slogger().Debug("shader: loading", "path", full, "entry", d.EntryPoint, "target", d.Target)
		return compile(d, src)
	})
}

// Stats returns the cache counters.
func (c *Compiler) Stats() cache.Stats { return c.cache.Stats() }

// compile turns a source file into bytecode for d.Target. Only WGSL is
// compiled; other sources are returned unchanged.
func compile(d Desc, src []byte) ([]byte, error) {
	if !strings.EqualFold(filepath.Ext(d.Path), ".wgsl") {
		return src, nil
	}
	if d.Target == "spirv" {
		code, err := naga.Compile(string(src))
		if err != nil {
			slogger().Error("shader: compile failed", "path", d.Path, "err", err)
			return nil, fmt.Errorf("%w: %s: %w", ErrCompile, d.Path, err)
		}
		return code, nil
	}

	sm, err := ShaderModel(d.Target)
	if err != nil {
		return nil, err
	}
	ast, err := naga.Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, d.Path, err)
	}
	module, err := naga.LowerWithSource(ast, string(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, d.Path, err)
	}
	opts := hlsl.DefaultOptions()
	opts.ShaderModel = sm
	opts.EntryPoint = d.EntryPoint
	code, _, err := hlsl.Compile(module, opts)
	if err != nil {
		slogger().Error("shader: compile failed", "path", d.Path, "err", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrCompile, d.Path, err)
	}
	return []byte(code), nil
}

var shaderModels = map[string]hlsl.ShaderModel{
	"5_0": hlsl.ShaderModel5_0,
	"5_1": hlsl.ShaderModel5_1,
	"6_0": hlsl.ShaderModel6_0,
	"6_1": hlsl.ShaderModel6_1,
	"6_2": hlsl.ShaderModel6_2,
	"6_3": hlsl.ShaderModel6_3,
	"6_4": hlsl.ShaderModel6_4,
	"6_5": hlsl.ShaderModel6_5,
	"6_6": hlsl.ShaderModel6_6,
	"6_7": hlsl.ShaderModel6_7,
}

// ShaderModel returns the shader model of a profile such as "lib_6_3"
// or "cs_5_1".
func ShaderModel(target string) (hlsl.ShaderModel, error) {
	_, version, ok := strings.Cut(target, "_")
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrTarget, target)
	}
	sm, ok := shaderModels[version]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrTarget, target)
	}
	return sm, nil
}
