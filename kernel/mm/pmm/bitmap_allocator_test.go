package pmm

import (
	"bytes"
	"lazyvm/kernel/kfmt"
	"lazyvm/kernel/mm"
	"strings"
	"testing"
)

func TestBitmapAllocatorInit(t *testing.T) {
	if _, err := NewBitmapAllocator(0); err != errNoFrames {
		t.Fatalf("expected error %v; got %v", errNoFrames, err)
	}

	alloc, err := NewBitmapAllocator(70)
	if err != nil {
		t.Fatal(err)
	}

	if exp, got := 2, len(alloc.freeBitmap); got != exp {
		t.Fatalf("expected bitmap to contain %d blocks; got %d", exp, got)
	}

	// the 58 padding bits of the second block must be marked as reserved
	if exp, got := ^(uint64(1)<<6 - 1), alloc.freeBitmap[1]; got != exp {
		t.Fatalf("expected padding mask %x; got %x", exp, got)
	}

	if exp, got := uint32(70), alloc.FreeFrames(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}
}

func TestBitmapAllocatorAllocAndFree(t *testing.T) {
	const frameCount = 130

	alloc, err := NewBitmapAllocator(frameCount)
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[mm.Frame]bool)
	for i := 0; i < frameCount; i++ {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatalf("[alloc %d] unexpected error: %v", i, err)
		}

		if seen[frame] {
			t.Fatalf("[alloc %d] frame %d allocated twice", i, frame)
		}
		seen[frame] = true

		if uint64(frame) >= frameCount {
			t.Fatalf("[alloc %d] frame %d is outside the pool", i, frame)
		}
	}

	if _, err := alloc.AllocFrame(); err != errOutOfMemory {
		t.Fatalf("expected error %v; got %v", errOutOfMemory, err)
	}

	if err := alloc.FreeFrame(mm.Frame(65)); err != nil {
		t.Fatal(err)
	}

	if err := alloc.FreeFrame(mm.Frame(65)); err != errFrameNotReserved {
		t.Fatalf("expected error %v; got %v", errFrameNotReserved, err)
	}

	if err := alloc.FreeFrame(mm.Frame(frameCount)); err != errFrameOutOfRange {
		t.Fatalf("expected error %v; got %v", errFrameOutOfRange, err)
	}

	if err := alloc.FreeFrame(mm.InvalidFrame); err != errFrameOutOfRange {
		t.Fatalf("expected error %v; got %v", errFrameOutOfRange, err)
	}

	frame, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if exp := mm.Frame(65); frame != exp {
		t.Fatalf("expected the released frame %d to be reallocated; got %d", exp, frame)
	}
}

func TestBitmapAllocatorFrameData(t *testing.T) {
	alloc, err := NewBitmapAllocator(4)
	if err != nil {
		t.Fatal(err)
	}

	if data := alloc.FrameData(mm.Frame(4)); data != nil {
		t.Fatal("expected FrameData to return nil for a frame outside the pool")
	}

	first, second := alloc.FrameData(mm.Frame(1)), alloc.FrameData(mm.Frame(2))
	if uintptr(len(first)) != mm.PageSize || uintptr(cap(first)) != mm.PageSize {
		t.Fatalf("expected frame data to be exactly %d bytes; got len %d, cap %d", mm.PageSize, len(first), cap(first))
	}

	for i := range first {
		first[i] = 0xaa
	}

	for i, b := range second {
		if b != 0 {
			t.Fatalf("expected writes to frame 1 not to leak into frame 2; byte %d is %x", i, b)
		}
	}
}

func TestInit(t *testing.T) {
	defer func() {
		bitmapAllocator = nil
		mm.SetFrameAllocator(nil)
		mm.SetFrameReleaser(nil)
		kfmt.SetOutputSink(nil)
	}()

	if _, err := bitmapAllocFrame(); err != errAllocatorNotAttached {
		t.Fatalf("expected error %v; got %v", errAllocatorNotAttached, err)
	}

	if err := Init(0); err != errNoFrames {
		t.Fatalf("expected error %v; got %v", errNoFrames, err)
	}

	var buf bytes.Buffer
	kfmt.SetOutputSink(&buf)

	if err := Init(256); err != nil {
		t.Fatal(err)
	}

	if exp := "0/256 frames reserved"; !strings.Contains(buf.String(), exp) {
		t.Fatalf("expected output to contain %q; got %q", exp, buf.String())
	}

	frame, err := mm.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	if data := FrameData(frame); uintptr(len(data)) != mm.PageSize {
		t.Fatalf("expected frame data of %d bytes; got %d", mm.PageSize, len(data))
	}

	if err := mm.FreeFrame(frame); err != nil {
		t.Fatal(err)
	}

	if exp, got := uint32(256), bitmapAllocator.FreeFrames(); got != exp {
		t.Fatalf("expected %d free frames; got %d", exp, got)
	}
}
