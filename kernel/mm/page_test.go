package mm

import (
	"lazyvm/kernel"
	"testing"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		if !frame.Valid() {
			t.Errorf("expected frame %d to be valid", frameIndex)
		}

		if exp, got := uintptr(frameIndex<<PageShift), frame.Address(); got != exp {
			t.Errorf("expected frame (%d, index: %d) call to Address() to return %x; got %x", frame, frameIndex, exp, got)
		}
	}

	invalidFrame := InvalidFrame
	if invalidFrame.Valid() {
		t.Error("expected InvalidFrame.Valid() to return false")
	}
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    uintptr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
	}

	for specIndex, spec := range specs {
		if got := FrameFromAddress(spec.input); got != spec.expFrame {
			t.Errorf("[spec %d] expected returned frame to be %v; got %v", specIndex, spec.expFrame, got)
		}
	}
}

func TestFrameAllocator(t *testing.T) {
	defer func() {
		SetFrameAllocator(nil)
		SetFrameReleaser(nil)
	}()

	t.Run("no allocator registered", func(t *testing.T) {
		SetFrameAllocator(nil)
		SetFrameReleaser(nil)

		if _, err := AllocFrame(); err != errNoFrameAllocator {
			t.Fatalf("expected error %v; got %v", errNoFrameAllocator, err)
		}

		if err := FreeFrame(Frame(0)); err != errNoFrameReleaser {
			t.Fatalf("expected error %v; got %v", errNoFrameReleaser, err)
		}
	})

	t.Run("custom allocator", func(t *testing.T) {
		var (
			allocCalled bool
			released    Frame
		)
		SetFrameAllocator(func() (Frame, *kernel.Error) {
			allocCalled = true
			return FrameFromAddress(0xbadf00), nil
		})
		SetFrameReleaser(func(f Frame) *kernel.Error {
			released = f
			return nil
		})

		frame, err := AllocFrame()
		if err != nil {
			t.Fatal(err)
		}

		if !allocCalled {
			t.Fatal("expected custom allocator to be invoked after a call to AllocFrame")
		}

		if err = FreeFrame(frame); err != nil {
			t.Fatal(err)
		}

		if released != frame {
			t.Fatalf("expected frame %d to be released; got %d", frame, released)
		}
	})
}

func TestPageMethods(t *testing.T) {
	for pageIndex := uint64(0); pageIndex < 128; pageIndex++ {
		page := Page(pageIndex)

		if exp, got := uintptr(pageIndex<<PageShift), page.Address(); got != exp {
			t.Errorf("expected page (%d, index: %d) call to Address() to return %x; got %x", page, pageIndex, exp, got)
		}
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input   uintptr
		expPage Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{4123, Page(1)},
	}

	for specIndex, spec := range specs {
		if got := PageFromAddress(spec.input); got != spec.expPage {
			t.Errorf("[spec %d] expected returned page to be %v; got %v", specIndex, spec.expPage, got)
		}
	}
}

func TestAlignmentHelpers(t *testing.T) {
	specs := []struct {
		input      uintptr
		expAligned bool
		expRounded uintptr
	}{
		{0, true, 0},
		{1, false, PageSize},
		{PageSize, true, PageSize},
		{PageSize + 1, false, 2 * PageSize},
	}

	for specIndex, spec := range specs {
		if got := IsPageAligned(spec.input); got != spec.expAligned {
			t.Errorf("[spec %d] expected IsPageAligned(%x) to return %t; got %t", specIndex, spec.input, spec.expAligned, got)
		}

		if got := RoundUp(spec.input); got != spec.expRounded {
			t.Errorf("[spec %d] expected RoundUp(%x) to return %x; got %x", specIndex, spec.input, spec.expRounded, got)
		}
	}
}
