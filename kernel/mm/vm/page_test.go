package vm

import "testing"

func TestPageTransmute(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p := NewUninitPage(0x1000, nil, TypeAnon, nil, anonInitializer)
		f := newTestFrame()

		if err := p.Transmute(&AnonPage{}, f); err != nil {
			t.Fatal(err)
		}

		if p.Frame() != f || f.Page() != p {
			t.Fatal("expected page and frame to be linked")
		}
	})

	specs := []struct {
		descr  string
		ops    Operations
		frame  func(p *Page) *Frame
		expErr interface{}
	}{
		{
			"nil variant",
			nil,
			func(_ *Page) *Frame { return newTestFrame() },
			errInvalidVariant,
		},
		{
			"uninit variant",
			&uninitPage{},
			func(_ *Page) *Frame { return newTestFrame() },
			errInvalidVariant,
		},
		{
			"nil frame",
			&FilePage{},
			func(_ *Page) *Frame { return nil },
			errNoFrame,
		},
		{
			"frame linked to another page",
			&FilePage{},
			func(_ *Page) *Frame {
				f := newTestFrame()
				f.page = &Page{}
				return f
			},
			errFrameInUse,
		},
	}

	for _, spec := range specs {
		t.Run(spec.descr, func(t *testing.T) {
			p := NewUninitPage(0x1000, nil, TypeFile, nil, fileInitializer)
			ops := p.Operations()

			if err := p.Transmute(spec.ops, spec.frame(p)); err != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, err)
			}

			if p.Operations() != ops || p.Frame() != nil {
				t.Fatal("expected a failed transmutation to leave the page untouched")
			}
		})
	}
}

func TestPageTargetType(t *testing.T) {
	p := NewUninitPage(0x1000, nil, TypeAnon|MarkerStack, nil, anonInitializer)
	if !p.SwapIn(newTestFrame()) {
		t.Fatal("expected swap in to succeed")
	}

	if exp, got := TypeAnon, p.Type(); got != exp {
		t.Fatalf("expected type %s; got %s", exp, got)
	}

	if exp, got := TypeAnon|MarkerStack, p.TargetType(); got != exp {
		t.Fatalf("expected target type %s; got %s", exp, got)
	}

	if !p.Operations().(*AnonPage).IsStack() {
		t.Fatal("expected the page to be flagged as a stack page")
	}
}

func TestPageDestroyWithoutOperations(t *testing.T) {
	var p Page
	p.Destroy()
}
