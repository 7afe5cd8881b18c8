// Package pmm provides the physical frame pool that backs resident pages.
package pmm

import (
	"lazyvm/kernel"
	"lazyvm/kernel/mm"
)

var (
	// bitmapAllocator is the allocator registered with the mm package
	// by Init.
	bitmapAllocator *BitmapAllocator
)

// Init sets up a pool of frameCount physical frames and registers it as the
// active frame allocator.
func Init(frameCount uint32) *kernel.Error {
	alloc, err := NewBitmapAllocator(frameCount)
	if err != nil {
		return err
	}

	bitmapAllocator = alloc
	bitmapAllocator.printStats()
	mm.SetFrameAllocator(bitmapAllocFrame)
	mm.SetFrameReleaser(bitmapFreeFrame)

	return nil
}

// FrameData returns the contents of a frame reserved from the pool set up by
// Init.
func FrameData(frame mm.Frame) []byte {
	if bitmapAllocator == nil {
		return nil
	}
	return bitmapAllocator.FrameData(frame)
}

// PrintStats prints the pool usage.
func PrintStats() {
	if bitmapAllocator != nil {
		bitmapAllocator.printStats()
	}
}

func bitmapAllocFrame() (mm.Frame, *kernel.Error) {
	if bitmapAllocator == nil {
		return mm.InvalidFrame, errAllocatorNotAttached
	}
	return bitmapAllocator.AllocFrame()
}

func bitmapFreeFrame(frame mm.Frame) *kernel.Error {
	if bitmapAllocator == nil {
		return errAllocatorNotAttached
	}
	return bitmapAllocator.FreeFrame(frame)
}
