package shader

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"sort"
)

//go:embed builtin/*.hlsl
var builtinFS embed.FS

// commonInclude is expanded into every embedded library.
const commonInclude = `#include "Common.hlsl"`

// Builtin returns the source of an embedded library with its includes
// expanded.
func Builtin(name string) ([]byte, error) {
	src, err := builtinFS.ReadFile("builtin/" + name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	common, err := builtinFS.ReadFile("builtin/Common.hlsl")
	if err != nil {
		return nil, err
	}
	return bytes.Replace(src, []byte(commonInclude), common, 1), nil
}

// Builtins lists the embedded library files.
func Builtins() []string {
	entries, _ := fs.ReadDir(builtinFS, "builtin")
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() != "Common.hlsl" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}
