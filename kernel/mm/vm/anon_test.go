package vm

import (
	"bytes"
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
	"testing"
)

func resetSwapSpace(s SwapSpace) func() {
	orig := swapSpace
	SetSwapSpace(s)
	return func() { swapSpace = orig }
}

func newResidentAnonPage(t *testing.T) *Page {
	p := NewUninitPage(0x7000, nil, TypeAnon, nil, anonInitializer)
	if !p.SwapIn(newTestFrame()) {
		t.Fatal("expected swap in to succeed")
	}
	return p
}

func TestAnonSwapRoundTrip(t *testing.T) {
	swap := newFakeSwap()
	defer resetSwapSpace(swap)()

	p := newResidentAnonPage(t)
	for i := range p.Frame().KVA {
		p.Frame().KVA[i] = byte(i)
	}
	p.SetDirty(true)

	if !p.SwapOut() {
		t.Fatal("expected swap out to succeed")
	}

	anon := p.Operations().(*AnonPage)
	if p.Frame() != nil || !anon.Swapped() || p.Dirty() {
		t.Fatal("expected the page to be swapped out, clean and without a frame")
	}

	if exp, got := 1, len(swap.slots); got != exp {
		t.Fatalf("expected %d used swap slot(s); got %d", exp, got)
	}

	f := newTestFrame()
	if !p.SwapIn(f) {
		t.Fatal("expected swap in to succeed")
	}

	if anon.Swapped() || p.Frame() != f {
		t.Fatal("expected the page to be resident again")
	}

	for i, b := range f.KVA {
		if b != byte(i) {
			t.Fatalf("expected byte %d to be 0x%x; got 0x%x", i, byte(i), b)
		}
	}

	if exp, got := 0, len(swap.slots); got != exp {
		t.Fatalf("expected %d used swap slot(s); got %d", exp, got)
	}
}

func TestAnonSwapInFreshPage(t *testing.T) {
	p := &Page{va: 0x1000, ops: &AnonPage{}}
	f := newTestFrame()
	kernel.Memset(f.KVA, 0xfe)

	if !p.SwapIn(f) {
		t.Fatal("expected swap in to succeed")
	}

	for i, b := range f.KVA {
		if b != 0 {
			t.Fatalf("expected zero-filled frame; byte %d is 0x%x", i, b)
		}
	}
}

func TestAnonSwapErrors(t *testing.T) {
	var buf bytes.Buffer
	origSink := kfmt.GetOutputSink()
	kfmt.SetOutputSink(&buf)
	defer kfmt.SetOutputSink(origSink)

	t.Run("no swap device", func(t *testing.T) {
		defer resetSwapSpace(nil)()

		p := newResidentAnonPage(t)
		if p.SwapOut() {
			t.Fatal("expected swap out to fail")
		}

		if p.Frame() == nil {
			t.Fatal("expected the page to remain resident")
		}
	})

	t.Run("store error", func(t *testing.T) {
		swap := newFakeSwap()
		swap.storeErr = &kernel.Error{Module: "swap", Message: "swap space exhausted"}
		defer resetSwapSpace(swap)()

		p := newResidentAnonPage(t)
		if p.SwapOut() {
			t.Fatal("expected swap out to fail")
		}

		if p.Frame() == nil {
			t.Fatal("expected the page to remain resident")
		}
	})

	t.Run("load error", func(t *testing.T) {
		swap := newFakeSwap()
		defer resetSwapSpace(swap)()

		p := newResidentAnonPage(t)
		if !p.SwapOut() {
			t.Fatal("expected swap out to succeed")
		}

		swap.loadErr = &kernel.Error{Module: "swap", Message: "bad slot"}
		if p.SwapIn(newTestFrame()) {
			t.Fatal("expected swap in to fail")
		}

		if !p.Operations().(*AnonPage).Swapped() {
			t.Fatal("expected the page contents to remain in swap space")
		}
	})

	t.Run("nil frame", func(t *testing.T) {
		p := &Page{va: 0x1000, ops: &AnonPage{}}
		if p.SwapIn(nil) {
			t.Fatal("expected swap in to fail")
		}
	})
}

func TestAnonDestroy(t *testing.T) {
	swap := newFakeSwap()
	defer resetSwapSpace(swap)()

	t.Run("swapped", func(t *testing.T) {
		p := newResidentAnonPage(t)
		if !p.SwapOut() {
			t.Fatal("expected swap out to succeed")
		}

		p.Destroy()
		if exp, got := 1, len(swap.freed); got != exp {
			t.Fatalf("expected %d freed swap slot(s); got %d", exp, got)
		}
	})

	t.Run("resident", func(t *testing.T) {
		p := newResidentAnonPage(t)
		f := p.Frame()

		p.Destroy()
		if p.Frame() != nil || f.Page() != nil {
			t.Fatal("expected the frame to be released")
		}
	})
}
