package soft

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sync"

	"github.com/gogpu/rtcore/gpu"
)

// maxRecursionDepth is the deepest TraceRay nesting the device accepts.
const maxRecursionDepth = 31

// rangeKey identifies a shader register binding.
type rangeKey struct {
	typ      gpu.RangeType
	register uint32
	space    uint32
}

type rootSignature struct {
	desc gpu.RootSignatureDesc

	// offsets maps each bound register to its offset in the first table.
	offsets map[rangeKey]uint32
}

var _ gpu.RootSignature = (*rootSignature)(nil)

func (d *Device) NewRootSignature(desc gpu.RootSignatureDesc) (gpu.RootSignature, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	rs := &rootSignature{desc: desc, offsets: make(map[rangeKey]uint32)}
	for ti, table := range desc.Tables {
		var used []uint32
		for _, r := range table {
			if r.Count == 0 {
				return nil, fmt.Errorf("%w: empty %s range in table %d", gpu.ErrInvalidArgument, r.Type, ti)
			}
			for i := range r.Count {
				off := r.OffsetInTable + i
				if slices.Contains(used, off) {
					return nil, fmt.Errorf("%w: table %d offset %d bound twice", gpu.ErrInvalidArgument, ti, off)
				}
				used = append(used, off)
				if ti == 0 {
					rs.offsets[rangeKey{r.Type, r.Register + i, r.Space}] = off
				}
			}
		}
	}
	rs.desc.Tables = slices.Clone(desc.Tables)
	return rs, nil
}

func (rs *rootSignature) Desc() gpu.RootSignatureDesc { return rs.desc }

func (rs *rootSignature) Destroy() {}

type stateObject struct {
	dev  *Device
	desc gpu.StateObjectDesc
	ids  map[string][]byte

	byID map[[gpu.ShaderIdentifierSize]byte]shaderEntry
}

// shaderEntry is the export or hit group an identifier names, and the
// shader it runs.
type shaderEntry struct {
	name    string
	program string
}

var _ gpu.StateObject = (*stateObject)(nil)

var stateObjectSeq struct {
	mu sync.Mutex
	n  uint64
}

func (d *Device) NewStateObject(desc gpu.StateObjectDesc) (gpu.StateObject, error) {
	if err := d.removed(); err != nil {
		return nil, err
	}
	var exports []string
	for i, lib := range desc.Libraries {
		if len(lib.Exports) == 0 {
			return nil, fmt.Errorf("%w: library %d exports nothing", gpu.ErrInvalidArgument, i)
		}
		for _, e := range lib.Exports {
			exports = append(exports, e.Name)
		}
	}
	if len(exports) == 0 {
		return nil, fmt.Errorf("%w: state object without exports", gpu.ErrInvalidArgument)
	}
	if desc.MaxRecursionDepth == 0 || desc.MaxRecursionDepth > maxRecursionDepth {
		return nil, fmt.Errorf("%w: recursion depth %d outside 1..%d", gpu.ErrInvalidArgument, desc.MaxRecursionDepth, maxRecursionDepth)
	}
	if desc.LocalRootSignature != nil {
		rs, ok := desc.LocalRootSignature.(*rootSignature)
		if !ok || !rs.desc.Local {
			return nil, fmt.Errorf("%w: local root signature required", gpu.ErrInvalidArgument)
		}
	}
	if desc.GlobalRootSignature != nil {
		rs, ok := desc.GlobalRootSignature.(*rootSignature)
		if !ok || rs.desc.Local {
			return nil, fmt.Errorf("%w: global root signature required", gpu.ErrInvalidArgument)
		}
	}

	stateObjectSeq.mu.Lock()
	stateObjectSeq.n++
	seq := stateObjectSeq.n
	stateObjectSeq.mu.Unlock()

	so := &stateObject{
		dev:  d,
		desc: desc,
		ids:  make(map[string][]byte),
		byID: make(map[[gpu.ShaderIdentifierSize]byte]shaderEntry),
	}
	add := func(name, program string) error {
		if _, dup := so.ids[name]; dup {
			return fmt.Errorf("%w: export %q declared twice", gpu.ErrInvalidArgument, name)
		}
		id := sha256.Sum256(fmt.Appendf(nil, "%d/%s", seq, name))
		so.ids[name] = id[:]
		so.byID[id] = shaderEntry{name: name, program: program}
		return nil
	}
	for _, e := range exports {
		if err := add(e, e); err != nil {
			return nil, err
		}
	}
	for _, hg := range desc.HitGroups {
		if hg.Type != gpu.HitGroupTriangles {
			return nil, fmt.Errorf("%w: hit group %q is not a triangle hit group", gpu.ErrUnsupported, hg.Name)
		}
		if !slices.Contains(exports, hg.ClosestHit) {
			return nil, fmt.Errorf("%w: hit group %q references unknown closest hit %q", gpu.ErrInvalidArgument, hg.Name, hg.ClosestHit)
		}
		if err := add(hg.Name, hg.ClosestHit); err != nil {
			return nil, err
		}
	}
	for _, a := range desc.LocalAssociations {
		if _, ok := so.ids[a]; !ok {
			return nil, fmt.Errorf("%w: local association with unknown export %q", gpu.ErrInvalidArgument, a)
		}
	}
	slogger().Debug("soft: state object created", "exports", len(exports), "hitGroups", len(desc.HitGroups))
	return so, nil
}

func (so *stateObject) ShaderIdentifier(name string) []byte {
	id, ok := so.ids[name]
	if !ok {
		return nil
	}
	return slices.Clone(id)
}

func (so *stateObject) Destroy() {}

// lookup returns the entry an identifier names.
func (so *stateObject) lookup(id []byte) (shaderEntry, bool) {
	if len(id) < gpu.ShaderIdentifierSize {
		return shaderEntry{}, false
	}
	e, ok := so.byID[[gpu.ShaderIdentifierSize]byte(id)]
	return e, ok
}

// localSignature returns the local root signature applied to e.
// An empty association list applies it to every export.
func (so *stateObject) localSignature(e shaderEntry) *rootSignature {
	rs, _ := so.desc.LocalRootSignature.(*rootSignature)
	if rs == nil {
		return nil
	}
	as := so.desc.LocalAssociations
	if len(as) == 0 || slices.Contains(as, e.name) || slices.Contains(as, e.program) {
		return rs
	}
	return nil
}
