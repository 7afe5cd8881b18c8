package pmm

import (
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
	"lazyvm/kernel/mm"
	"lazyvm/kernel/sync"

	"github.com/krotik/common/bitutil"
)

var (
	errNoFrames             = &kernel.Error{Module: "pmm", Message: "frame pool must contain at least one frame"}
	errOutOfMemory          = &kernel.Error{Module: "pmm", Message: "out of memory"}
	errFrameOutOfRange      = &kernel.Error{Module: "pmm", Message: "frame does not belong to the pool"}
	errFrameNotReserved     = &kernel.Error{Module: "pmm", Message: "attempt to release a free frame"}
	errAllocatorNotAttached = &kernel.Error{Module: "pmm", Message: "allocator has not been initialized"}
)

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations in a bitmap. The frames are carved out of a contiguous memory
// arena which also provides the kernel-addressable contents of each frame.
type BitmapAllocator struct {
	lock sync.Spinlock

	// arena holds the contents of all frames managed by the allocator.
	arena []byte

	// totalFrames tracks the total number of frames in the pool.
	totalFrames uint32

	// reservedFrames tracks the number of reserved frames.
	reservedFrames uint32

	// nextSearch is the bitmap block where the next allocation starts
	// looking for a free frame.
	nextSearch int

	// freeBitmap tracks used/free frames in the pool; a set bit marks
	// a reserved frame.
	freeBitmap []uint64
}

// NewBitmapAllocator creates an allocator that manages frameCount frames.
func NewBitmapAllocator(frameCount uint32) (*BitmapAllocator, *kernel.Error) {
	alloc := &BitmapAllocator{}
	if err := alloc.init(frameCount); err != nil {
		return nil, err
	}
	return alloc, nil
}

// init allocates the arena and the free bitmap for frameCount frames.
func (alloc *BitmapAllocator) init(frameCount uint32) *kernel.Error {
	if frameCount == 0 {
		return errNoFrames
	}

	alloc.arena = make([]byte, uintptr(frameCount)*mm.PageSize)
	alloc.totalFrames = frameCount
	alloc.reservedFrames = 0
	alloc.nextSearch = 0

	// To represent the free frame bitmap we need frameCount bits rounded
	// up to a multiple of 64.
	alloc.freeBitmap = make([]uint64, (frameCount+63)>>6)

	// Mark the padding bits of the last block as reserved so they are
	// never handed out.
	if rem := frameCount & 63; rem != 0 {
		alloc.freeBitmap[len(alloc.freeBitmap)-1] = ^uint64(0) << rem
	}

	return nil
}

// AllocFrame reserves and returns a free frame.
func (alloc *BitmapAllocator) AllocFrame() (mm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if alloc.reservedFrames == alloc.totalFrames {
		return mm.InvalidFrame, errOutOfMemory
	}

	blocks := len(alloc.freeBitmap)
	for n, block := 0, alloc.nextSearch; n < blocks; n, block = n+1, (block+1)%blocks {
		if alloc.freeBitmap[block] == ^uint64(0) {
			continue
		}

		for bit := uint32(0); bit < 64; bit++ {
			mask := uint64(1) << bit
			if alloc.freeBitmap[block]&mask != 0 {
				continue
			}

			alloc.freeBitmap[block] |= mask
			alloc.reservedFrames++
			alloc.nextSearch = block
			return mm.Frame(uint32(block)<<6 + bit), nil
		}
	}

	return mm.InvalidFrame, errOutOfMemory
}

// FreeFrame returns a reserved frame to the pool.
func (alloc *BitmapAllocator) FreeFrame(frame mm.Frame) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !alloc.owns(frame) {
		return errFrameOutOfRange
	}

	block, mask := frame>>6, uint64(1)<<(frame&63)
	if alloc.freeBitmap[block]&mask == 0 {
		return errFrameNotReserved
	}

	alloc.freeBitmap[block] &^= mask
	alloc.reservedFrames--
	return nil
}

// FrameData returns the kernel-addressable contents of a frame or nil if the
// frame does not belong to this pool.
func (alloc *BitmapAllocator) FrameData(frame mm.Frame) []byte {
	if !alloc.owns(frame) {
		return nil
	}

	start := uintptr(frame) * mm.PageSize
	end := start + mm.PageSize
	return alloc.arena[start:end:end]
}

// FreeFrames returns the number of frames that can still be allocated.
func (alloc *BitmapAllocator) FreeFrames() uint32 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.totalFrames - alloc.reservedFrames
}

func (alloc *BitmapAllocator) owns(frame mm.Frame) bool {
	return frame.Valid() && uint64(frame) < uint64(alloc.totalFrames)
}

func (alloc *BitmapAllocator) printStats() {
	kfmt.Printf(
		"[pmm] frame pool: %d/%d frames reserved (%s total)\n",
		alloc.reservedFrames,
		alloc.totalFrames,
		bitutil.ByteSizeString(int64(alloc.totalFrames)*int64(mm.PageSize), false),
	)
}
