// Package kernel defines the kernel capability interface (Design
// Notes §9: a kernel is an object exposing Execute, not a raw function
// pointer). Real BLAS/LAPACK kernels are external collaborators
// (spec §1); this package only defines the boundary and a small
// adapter for wrapping a plain Go function, used by tests and the
// demo driver in place of real numerical routines.
package kernel

// Descriptor is the minimal view of a task a kernel needs to execute:
// its declared arguments. The runtime passes the concrete task type
// (pkg/graph.Task implements this) without kernel needing to import
// pkg/graph, avoiding an import cycle.
type Descriptor interface {
	KernelID() string
	ArgBuffers() []ArgBuffer
}

// ArgBuffer is one bound operand: the host- or device-resident bytes
// a kernel should read or write, together with the access mode it was
// declared with. The worker resolves this from the coherence
// directory before invoking the kernel (spec §4.5 step 2-3).
type ArgBuffer struct {
	Buf      []byte
	Writable bool
}

// Kernel is the capability every task invokes at execution time.
type Kernel interface {
	// ID names the kernel. The cost model does not call it: it looks up
	// compute coefficients by the kernel id passed to graph.Submit
	// (Task.KernelID).
	ID() string
	// Execute runs the kernel against the bound argument buffers.
	// It must not write through a buffer whose ArgBuffer.Writable is
	// false (spec §6: "kernels must respect access modes").
	Execute(d Descriptor) error
}

// Func adapts a plain closure to the Kernel interface.
type Func struct {
	IDValue string
	Fn      func(d Descriptor) error
}

func (f Func) ID() string                 { return f.IDValue }
func (f Func) Execute(d Descriptor) error { return f.Fn(d) }
