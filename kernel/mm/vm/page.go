// Package vm implements the supplemental page objects of an address space.
//
// Every page starts out as an uninit page that only knows how to materialize
// itself. The first fault on the page calls its SwapIn operation which
// transmutes the page, in place, into one of the concrete kinds (anonymous,
// file-backed or page cache) and then runs the initializer supplied when the
// page was allocated. The page object itself is never replaced; only the
// Operations value it holds changes.
package vm

import (
	"lazyvm/kernel"
	"lazyvm/kernel/mm"
)

var (
	errAlreadyTransmuted = &kernel.Error{Module: "vm", Message: "page has already been transmuted"}
	errInvalidVariant    = &kernel.Error{Module: "vm", Message: "pages can only be transmuted into a concrete kind"}
	errNoFrame           = &kernel.Error{Module: "vm", Message: "transmutation requires a frame"}
	errFrameInUse        = &kernel.Error{Module: "vm", Message: "frame is already linked to another page"}
)

// Operations is the capability table attached to each page. The value that
// implements it also holds the state of the page's current kind so the
// two can never disagree.
type Operations interface {
	// SwapIn loads the page contents into frame f and links f to the page.
	SwapIn(p *Page, f *Frame) bool

	// SwapOut moves the page contents to its backing store and releases
	// the page frame.
	SwapOut(p *Page) bool

	// Destroy releases the resources held by the page. The page object
	// itself is released by the caller.
	Destroy(p *Page)

	// Type returns the kind of this variant.
	Type() Type
}

// Page describes a single virtual page of an address space.
type Page struct {
	va       uintptr
	writable bool
	dirty    bool

	// frame is nil while the page is not resident.
	frame *Frame

	// ops is never nil for a page created by MakeUninitPage.
	ops Operations
}

// VirtualAddress returns the page-aligned virtual address of the page.
func (p *Page) VirtualAddress() uintptr {
	return p.va
}

// Writable returns true if user code may write to the page.
func (p *Page) Writable() bool {
	return p.writable
}

// Dirty returns true if the page was modified since it was last loaded or
// written back.
func (p *Page) Dirty() bool {
	return p.dirty
}

// SetDirty updates the dirty flag of the page.
func (p *Page) SetDirty(dirty bool) {
	p.dirty = dirty
}

// Frame returns the frame that holds the page contents or nil if the page is
// not resident.
func (p *Page) Frame() *Frame {
	return p.frame
}

// Operations returns the capability table of the page.
func (p *Page) Operations() Operations {
	return p.ops
}

// Type returns the kind of the page's current variant.
func (p *Page) Type() Type {
	return p.ops.Type()
}

// TargetType returns the kind the page has or will have once faulted in,
// including any marker bits.
func (p *Page) TargetType() Type {
	switch v := p.ops.(type) {
	case *uninitPage:
		return v.target
	case *AnonPage:
		if v.stack {
			return TypeAnon | MarkerStack
		}
	}
	return p.ops.Type()
}

// SwapIn dispatches to the SwapIn operation of the current variant.
func (p *Page) SwapIn(f *Frame) bool {
	return p.ops.SwapIn(p, f)
}

// SwapOut dispatches to the SwapOut operation of the current variant.
func (p *Page) SwapOut() bool {
	return p.ops.SwapOut(p)
}

// Destroy dispatches to the Destroy operation of the current variant.
func (p *Page) Destroy() {
	if p.ops != nil {
		p.ops.Destroy(p)
	}
}

// Transmute replaces the uninit variant of the page with a concrete variant
// and links the page to frame f. It is meant to be called by type
// initializers. Transmute fails if the page has already left the uninit
// state; it is what makes the uninit to concrete transition happen at most
// once per page.
func (p *Page) Transmute(ops Operations, f *Frame) *kernel.Error {
	if _, isUninit := p.ops.(*uninitPage); !isUninit {
		return errAlreadyTransmuted
	}

	if ops == nil || ops.Type().Base() == TypeUninit {
		return errInvalidVariant
	}

	if f == nil {
		return errNoFrame
	}

	if f.page != nil && f.page != p {
		return errFrameInUse
	}

	p.ops = ops
	p.attachFrame(f)
	return nil
}

// attachFrame links the page and frame f together.
func (p *Page) attachFrame(f *Frame) {
	p.frame = f
	f.page = p
}

// detachFrame unlinks the page from its frame and returns the frame.
func (p *Page) detachFrame() *Frame {
	f := p.frame
	if f != nil {
		f.page = nil
		p.frame = nil
	}
	return f
}

// pageAddress returns the address of the page that contains va.
func pageAddress(va uintptr) uintptr {
	return mm.PageFromAddress(va).Address()
}
