package vm

import (
	"lazyvm/kernel"

	"github.com/krotik/common/errorutil"
)

var (
	errSwapOutUninit = &kernel.Error{Module: "vm", Message: "swap out requested for a page that was never faulted in"}
	errNotTransmuted = &kernel.Error{Module: "vm", Message: "type initializer succeeded without transmuting the page"}
)

// Initializer is the optional callback supplied when a page is allocated. It
// runs after the page has been transmuted into its concrete kind and receives
// the auxiliary data supplied at allocation time. Initializers must not keep a
// reference to aux after returning; anything they need must be copied into
// the page.
type Initializer func(p *Page, aux interface{}) bool

// TypeInitializer installs the concrete variant for type t on page p and
// links it to frame f, normally via Page.Transmute. On failure it must leave
// the page untouched and return false.
type TypeInitializer func(p *Page, t Type, f *Frame) bool

// Releaser is implemented by auxiliary data that holds resources which must
// be released once the page no longer needs them.
type Releaser interface {
	Release()
}

// Cloner is implemented by auxiliary data that must be duplicated, rather
// than shared, when an uninit page is copied into another address space.
type Cloner interface {
	Clone() interface{}
}

// uninitPage is the variant of every page that has not been faulted in yet.
type uninitPage struct {
	init     Initializer
	target   Type
	aux      interface{}
	typeInit TypeInitializer
}

// MakeUninitPage overwrites p with an uninit page for address va. When the
// page is first swapped in, typeInit turns it into a page of type t and init
// (if not nil) is invoked with aux. The page takes ownership of aux: it is
// released after init has run or, if the page is never faulted in, when the
// page is destroyed.
func MakeUninitPage(p *Page, va uintptr, init Initializer, t Type, aux interface{}, typeInit TypeInitializer) {
	errorutil.AssertTrue(p != nil, "vm: cannot construct an uninit page in place of a nil page")

	*p = Page{
		va: va,
		ops: &uninitPage{
			init:     init,
			target:   t,
			aux:      aux,
			typeInit: typeInit,
		},
	}
}

// NewUninitPage allocates a new page and initializes it via MakeUninitPage.
func NewUninitPage(va uintptr, init Initializer, t Type, aux interface{}, typeInit TypeInitializer) *Page {
	p := new(Page)
	MakeUninitPage(p, va, init, t, aux, typeInit)
	return p
}

// SwapIn transmutes the page into its target type using frame f and then
// runs the deferred initializer. It returns true only if both steps succeed.
// A failed type initializer leaves the page uninit; a failed deferred
// initializer leaves the page in its concrete state.
func (u *uninitPage) SwapIn(p *Page, f *Frame) bool {
	if p.ops != Operations(u) || u.typeInit == nil {
		return false
	}

	// Fetch first; the type initializer replaces the page variant.
	init, aux := u.init, u.aux

	if !u.typeInit(p, u.target, f) {
		return false
	}

	if p.ops == Operations(u) {
		panic(errNotTransmuted)
	}

	// The page no longer refers to u; clear it so it can never run again.
	*u = uninitPage{}

	ok := init == nil || init(p, aux)
	releaseAux(aux)
	return ok
}

// SwapOut must never be called for an uninit page as there is nothing
// resident to evict.
func (u *uninitPage) SwapOut(_ *Page) bool {
	panic(errSwapOutUninit)
}

// Destroy releases the auxiliary data of a page that was never faulted in.
// The frame and the concrete variant callbacks are never touched.
func (u *uninitPage) Destroy(_ *Page) {
	aux := u.aux
	u.aux, u.init = nil, nil
	releaseAux(aux)
}

// Type implements Operations.
func (u *uninitPage) Type() Type {
	return TypeUninit
}

// CloneUninit returns a new uninit page with the same address, permissions,
// target type, initializers and auxiliary data as p. Aux values implementing
// Cloner are duplicated; other values are shared. The second result is false
// if p is no longer uninit or if its aux is a Releaser that cannot be cloned,
// as both pages would then release the same value.
func (p *Page) CloneUninit() (*Page, bool) {
	u, isUninit := p.ops.(*uninitPage)
	if !isUninit || u.typeInit == nil {
		return nil, false
	}

	aux := u.aux
	switch v := aux.(type) {
	case Cloner:
		aux = v.Clone()
	case Releaser:
		return nil, false
	}

	clone := NewUninitPage(p.va, u.init, u.target, aux, u.typeInit)
	clone.writable = p.writable
	return clone, true
}

func releaseAux(aux interface{}) {
	if r, ok := aux.(Releaser); ok && r != nil {
		r.Release()
	}
}
