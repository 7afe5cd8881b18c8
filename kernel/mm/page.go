// Package mm defines the physical frame and virtual page primitives shared by
// the memory management subsystems together with the hooks used to plug a
// physical frame allocator.
package mm

import (
	"lazyvm/kernel"
	"math"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by page allocators when
	// they fail to reserve the requested frame.
	InvalidFrame = Frame(math.MaxUint64)
)

var (
	// frameAllocator points to a frame allocator function registered using
	// SetFrameAllocator.
	frameAllocator FrameAllocatorFn

	// frameReleaser points to a function registered using SetFrameReleaser.
	frameReleaser FrameReleaserFn

	errNoFrameAllocator = &kernel.Error{Module: "mm", Message: "no frame allocator registered"}
	errNoFrameReleaser  = &kernel.Error{Module: "mm", Message: "no frame releaser registered"}
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns a pointer to the physical memory address pointed to by this Frame.
func (f Frame) Address() uintptr {
	return uintptr(f << PageShift)
}

// FrameFromAddress returns a Frame that corresponds to
// the given physical address. This function can handle
// both page-aligned and not aligned addresses. in the
// latter case, the input address will be rounded down
// to the frame that contains it.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr & ^PageOffsetMask) >> PageShift)
}

// FrameAllocatorFn is a function that can allocate physical frames.
type FrameAllocatorFn func() (Frame, *kernel.Error)

// FrameReleaserFn is a function that returns a physical frame to its
// allocator.
type FrameReleaserFn func(Frame) *kernel.Error

// SetFrameAllocator registers a frame allocator function that will be used by
// the vm code when new physical frames need to be allocated.
func SetFrameAllocator(allocFn FrameAllocatorFn) { frameAllocator = allocFn }

// SetFrameReleaser registers the function used by FreeFrame.
func SetFrameReleaser(releaseFn FrameReleaserFn) { frameReleaser = releaseFn }

// AllocFrame allocates a new physical frame using the currently active
// physical frame allocator.
func AllocFrame() (Frame, *kernel.Error) {
	if frameAllocator == nil {
		return InvalidFrame, errNoFrameAllocator
	}
	return frameAllocator()
}

// FreeFrame releases a frame previously obtained via AllocFrame.
func FreeFrame(f Frame) *kernel.Error {
	if frameReleaser == nil {
		return errNoFrameReleaser
	}
	return frameReleaser(f)
}

// Page describes a virtual memory page index.
type Page uintptr

// Address returns a pointer to the virtual memory address pointed to by this Page.
func (p Page) Address() uintptr {
	return uintptr(p << PageShift)
}

// PageFromAddress returns a Page that corresponds to the given virtual
// address. This function can handle both page-aligned and not aligned virtual
// addresses. in the latter case, the input address will be rounded down to the
// page that contains it.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr & ^PageOffsetMask) >> PageShift)
}

// IsPageAligned returns true if addr points to the start of a page.
func IsPageAligned(addr uintptr) bool {
	return addr&PageOffsetMask == 0
}

// RoundUp rounds size up to the nearest multiple of PageSize.
func RoundUp(size uintptr) uintptr {
	return (size + PageOffsetMask) & ^PageOffsetMask
}
