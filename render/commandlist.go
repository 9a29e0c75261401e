package render

import (
	"fmt"

	"github.com/gogpu/rtcore/gpu"
)

// ListState is the recording state of a CommandList.
type ListState uint8

const (
	// ListOpen accepts commands and holds none.
	ListOpen ListState = iota
	// ListRecording accepts commands and holds at least one.
	ListRecording
	// ListClosed rejects commands until Reset.
	ListClosed
)

func (s ListState) String() string {
	switch s {
	case ListOpen:
		return "open"
	case ListRecording:
		return "recording"
	case ListClosed:
		return "closed"
	}
	return "unknown"
}

// CommandList records commands for a CommandQueue.
//
// Every resource a recorded command touches gets a reference that the
// list holds until Reset; the queue resets a list only after the fence
// value of its submission was reached. Copies record paired transitions
// from the resting state of each default-heap resource and back.
//
// A CommandList is not safe for concurrent use.
type CommandList struct {
	dev *Device
	typ gpu.ListType
	rec gpu.Recorder

	state    ListState
	inFlight bool
	retained []Releaser

	heaps     [gpu.DescriptorHeapDSV + 1]*DescriptorHeap
	pipeline  *PipelineState
	heapBinds int
}

func newCommandList(dev *Device, typ gpu.ListType) (*CommandList, error) {
	rec, err := dev.native.NewRecorder(typ)
	if err != nil {
		return nil, fmt.Errorf("create command list: %w", err)
	}
	return &CommandList{dev: dev, typ: typ, rec: rec}, nil
}

// recordable reports why the list cannot take commands.
func (l *CommandList) recordable() error {
	switch {
	case l.inFlight:
		return ErrListInFlight
	case l.state == ListClosed:
		return ErrListClosed
	}
	return nil
}

// begin moves the list to the recording state. Commands that validate
// their arguments call recordable first and begin once they pass.
func (l *CommandList) begin() error {
	if err := l.recordable(); err != nil {
		return err
	}
	l.state = ListRecording
	return nil
}

// track keeps r alive until the list is reset.
func (l *CommandList) track(rs ...Resource) {
	for _, r := range rs {
		l.retained = append(l.retained, r.ref())
	}
}

// transition returns the barriers that move r from its resting state
// into s and back. Resources outside the default heap cannot transition
// and get none, as do resources already resting in s.
func transition(r Resource, s gpu.ResourceState) (to, back []gpu.Barrier) {
	if r.Heap() != gpu.HeapDefault || r.State()&s == s {
		return nil, nil
	}
	n := r.Native()
	return []gpu.Barrier{gpu.Transition(n, r.State(), s)}, []gpu.Barrier{gpu.Transition(n, s, r.State())}
}

// copyCommand records cmd between the transitions of dst to COPY_DEST
// and src to COPY_SOURCE.
func (l *CommandList) copyCommand(dst, src Resource, cmd func()) {
	toD, backD := transition(dst, gpu.StateCopyDest)
	toS, backS := transition(src, gpu.StateCopySource)
	if to := append(toD, toS...); len(to) > 0 {
		l.rec.ResourceBarrier(to...)
	}
	cmd()
	if back := append(backD, backS...); len(back) > 0 {
		l.rec.ResourceBarrier(back...)
	}
	l.track(dst, src)
}

// Barrier records a transition of r. A transition to the same state is
// dropped.
func (l *CommandList) Barrier(r Resource, before, after gpu.ResourceState) error {
	if err := l.begin(); err != nil {
		return err
	}
	if before == after {
		return nil
	}
	l.rec.ResourceBarrier(gpu.Transition(r.Native(), before, after))
	l.track(r)
	return nil
}

// UAVBarrier orders unordered-access writes to r before later accesses.
func (l *CommandList) UAVBarrier(r Resource) error {
	if err := l.begin(); err != nil {
		return err
	}
	l.rec.ResourceBarrier(gpu.UAVBarrier(r.Native()))
	l.track(r)
	return nil
}

// CopyBuffer copies all of src to the start of dst.
func (l *CommandList) CopyBuffer(dst, src *Buffer) error {
	return l.CopyBufferRegion(dst, 0, src, 0, src.size)
}

// CopyBufferRegion copies n bytes from src at srcOffset to dst at
// dstOffset.
func (l *CommandList) CopyBufferRegion(dst *Buffer, dstOffset uint64, src *Buffer, srcOffset, n uint64) error {
	if err := l.recordable(); err != nil {
		return err
	}
	if dst == src {
		return fmt.Errorf("%w: copy within buffer %q", ErrInvalidUsage, dst.name)
	}
	if srcOffset > src.size || n > src.size-srcOffset || dstOffset > dst.size || n > dst.size-dstOffset {
		slogger().Error("render: buffer copy out of bounds", "dst", dst.name, "src", src.name, "len", n)
		return fmt.Errorf("%w: copy of %d bytes from %q+%d (%d) to %q+%d (%d)", ErrOutOfBounds,
			n, src.name, srcOffset, src.size, dst.name, dstOffset, dst.size)
	}
	l.state = ListRecording
	if n == 0 {
		return nil
	}
	l.copyCommand(dst, src, func() {
		l.rec.CopyBufferRegion(dst.res, dstOffset, src.res, srcOffset, n)
	})
	return nil
}

// CopyResource copies all of src into dst. Both must have the same
// layout.
func (l *CommandList) CopyResource(dst, src Resource) error {
	if err := l.recordable(); err != nil {
		return err
	}
	if dst == src {
		return fmt.Errorf("%w: copy of %q onto itself", ErrInvalidUsage, dst.Name())
	}
	l.state = ListRecording
	l.copyCommand(dst, src, func() {
		l.rec.CopyResource(dst.Native(), src.Native())
	})
	return nil
}

// CopyBufferToTexture copies the image placed in src at fp into dst.
func (l *CommandList) CopyBufferToTexture(dst *Texture, src *Buffer, fp gpu.Footprint) error {
	if err := l.begin(); err != nil {
		return err
	}
	l.copyCommand(dst, src, func() {
		l.rec.CopyTextureRegion(
			gpu.TextureCopyLocation{Resource: dst.res},
			gpu.TextureCopyLocation{Resource: src.res, Footprint: &fp}, nil)
	})
	return nil
}

// CopyTextureToBuffer places the image of src into dst at fp.
func (l *CommandList) CopyTextureToBuffer(dst *Buffer, src *Texture, fp gpu.Footprint) error {
	if err := l.begin(); err != nil {
		return err
	}
	l.copyCommand(dst, src, func() {
		l.rec.CopyTextureRegion(
			gpu.TextureCopyLocation{Resource: dst.res, Footprint: &fp},
			gpu.TextureCopyLocation{Resource: src.res}, nil)
	})
	return nil
}

// ClearRenderTarget fills t through its render target view.
func (l *CommandList) ClearRenderTarget(t *Texture, rgba [4]float32) error {
	if err := l.recordable(); err != nil {
		return err
	}
	rtv, err := t.View(gpu.ViewRTV)
	if err != nil {
		return err
	}
	l.state = ListRecording
	to, back := transition(t, gpu.StateRenderTarget)
	if len(to) > 0 {
		l.rec.ResourceBarrier(to...)
	}
	l.rec.ClearRenderTarget(rtv, rgba)
	if len(back) > 0 {
		l.rec.ResourceBarrier(back...)
	}
	l.track(t)
	return nil
}

// ClearDepthStencil fills t through its depth stencil view.
func (l *CommandList) ClearDepthStencil(t *Texture, depth float32) error {
	if err := l.recordable(); err != nil {
		return err
	}
	dsv, err := t.View(gpu.ViewDSV)
	if err != nil {
		return err
	}
	l.state = ListRecording
	to, back := transition(t, gpu.StateDepthWrite)
	if len(to) > 0 {
		l.rec.ResourceBarrier(to...)
	}
	l.rec.ClearDepthStencil(dsv, depth)
	if len(back) > 0 {
		l.rec.ResourceBarrier(back...)
	}
	l.track(t)
	return nil
}

// BuildAccelerationStructure records a build. uses lists the buffers the
// build reads or writes; the list keeps them alive until reset.
func (l *CommandList) BuildAccelerationStructure(desc gpu.ASBuildDesc, uses ...Resource) error {
	if err := l.begin(); err != nil {
		return err
	}
	l.rec.BuildAS(desc)
	l.track(uses...)
	return nil
}

// SetDescriptorHeap binds a shader-visible heap. Binding the heap that is
// already bound for its type records nothing.
func (l *CommandList) SetDescriptorHeap(h *DescriptorHeap) error {
	if err := l.recordable(); err != nil {
		return err
	}
	if !h.ShaderVisible() {
		return fmt.Errorf("%w: binding a %s heap that is not shader visible", ErrInvalidUsage, h.Type())
	}
	l.state = ListRecording
	if l.heaps[h.Type()] == h {
		return nil
	}
	l.heaps[h.Type()] = h
	bound := make([]gpu.DescriptorHeap, 0, len(l.heaps))
	for _, b := range l.heaps {
		if b != nil {
			bound = append(bound, b.native)
		}
	}
	l.rec.SetDescriptorHeaps(bound...)
	l.heapBinds++
	return nil
}

// SetPipelineState binds the global root signature and state object of p.
func (l *CommandList) SetPipelineState(p *PipelineState) error {
	if err := l.begin(); err != nil {
		return err
	}
	if l.pipeline == p {
		return nil
	}
	l.rec.SetComputeRootSignature(p.global)
	l.rec.SetStateObject(p.so)
	l.pipeline = p
	return nil
}

// DispatchRays launches the bound pipeline.
func (l *CommandList) DispatchRays(desc gpu.DispatchRaysDesc) error {
	if err := l.recordable(); err != nil {
		return err
	}
	if l.pipeline == nil {
		return fmt.Errorf("%w: dispatch without a pipeline", ErrInvalidUsage)
	}
	if l.heaps[gpu.DescriptorHeapCBVSRVUAV] == nil {
		return fmt.Errorf("%w: dispatch without a descriptor heap", ErrInvalidUsage)
	}
	l.state = ListRecording
	l.rec.DispatchRays(desc)
	return nil
}

// Retain hands one reference of obj to the list. It is released when the
// list is reset.
func (l *CommandList) Retain(obj Releaser) {
	l.retained = append(l.retained, obj)
}

// Close ends recording and reports the first recording error of the
// native recorder.
func (l *CommandList) Close() error {
	if l.state == ListClosed {
		return ErrListClosed
	}
	l.state = ListClosed
	if err := l.rec.Close(); err != nil {
		return fmt.Errorf("close command list: %w", err)
	}
	return nil
}

// Reset discards the recorded commands, releases retained objects in
// the order they were retained, clears the bindings and reopens the
// list. Resetting a submitted list before its fence value is reached
// fails with ErrListInFlight.
func (l *CommandList) Reset() error {
	if l.inFlight {
		return ErrListInFlight
	}
	if l.state != ListClosed {
		// The native recorder resets only when closed; its recording
		// errors are discarded with the commands.
		_ = l.rec.Close()
	}
	err := l.rec.Reset()
	for _, obj := range l.retained {
		obj.Release()
	}
	clear(l.retained)
	l.retained = l.retained[:0]
	l.heaps = [len(l.heaps)]*DescriptorHeap{}
	l.pipeline = nil
	l.state = ListOpen
	if err != nil {
		return fmt.Errorf("reset command list: %w", err)
	}
	return nil
}

// State returns the recording state.
func (l *CommandList) State() ListState { return l.state }

// Retained returns the number of references the list holds.
func (l *CommandList) Retained() int { return len(l.retained) }

// DescriptorHeap returns the heap bound for typ, or nil.
func (l *CommandList) DescriptorHeap(typ gpu.DescriptorHeapType) *DescriptorHeap {
	if int(typ) >= len(l.heaps) {
		return nil
	}
	return l.heaps[typ]
}

// PipelineState returns the bound pipeline, or nil.
func (l *CommandList) PipelineState() *PipelineState { return l.pipeline }

// Native returns the underlying recorder.
func (l *CommandList) Native() gpu.Recorder { return l.rec }
