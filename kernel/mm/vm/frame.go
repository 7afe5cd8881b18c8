package vm

import (
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
	"lazyvm/kernel/mm"
	"lazyvm/kernel/sync"

	"github.com/krotik/common/pools"
)

var (
	// the following functions are mocked by tests.
	allocFrameFn = mm.AllocFrame
	freeFrameFn  = mm.FreeFrame

	errNoFrameData = &kernel.Error{Module: "vm", Message: "frame has no addressable contents"}
)

// Frame describes a physical frame that holds the contents of a resident page.
type Frame struct {
	// Number is the physical frame number.
	Number mm.Frame

	// KVA is the kernel-addressable contents of the frame.
	KVA []byte

	page  *Page
	table *FrameTable
}

// Page returns the page currently linked to the frame or nil.
func (f *Frame) Page() *Page {
	return f.page
}

// Release returns the frame to the table it was obtained from. Frames that
// were not obtained from a FrameTable are simply unlinked.
func (f *Frame) Release() {
	if f.page != nil && f.page.frame == f {
		f.page.frame = nil
	}
	f.page = nil

	if f.table != nil {
		f.table.release(f)
	}
}

// FrameTable hands out frames for resident pages and tracks the frames that
// are currently in use. It does not evict pages; callers that run out of
// frames must make room themselves.
type FrameTable struct {
	lock sync.Spinlock

	// dataFn maps a physical frame to its contents. When nil, frame
	// contents are taken from bufPool.
	dataFn func(mm.Frame) []byte

	bufPool interface {
		Get() interface{}
		Put(interface{})
	}

	frames map[mm.Frame]*Frame
}

// NewFrameTable creates a frame table. dataFn returns the contents of a frame
// reserved through mm.AllocFrame; if it is nil, page-sized buffers are pooled
// by the table instead.
func NewFrameTable(dataFn func(mm.Frame) []byte) *FrameTable {
	return &FrameTable{
		dataFn:  dataFn,
		bufPool: pools.NewByteSlicePool(int(mm.PageSize)),
		frames:  make(map[mm.Frame]*Frame),
	}
}

// GetFrame reserves a physical frame and returns it with zeroed contents.
func (ft *FrameTable) GetFrame() (*Frame, *kernel.Error) {
	number, err := allocFrameFn()
	if err != nil {
		return nil, err
	}

	var kva []byte
	if ft.dataFn != nil {
		kva = ft.dataFn(number)
	} else {
		kva = ft.bufPool.Get().([]byte)
	}

	if uintptr(len(kva)) < mm.PageSize {
		_ = freeFrameFn(number)
		return nil, errNoFrameData
	}

	kva = kva[:mm.PageSize]
	kernel.Memset(kva, 0)

	f := &Frame{Number: number, KVA: kva, table: ft}

	ft.lock.Acquire()
	ft.frames[number] = f
	ft.lock.Release()

	return f, nil
}

// Lookup returns the in-use frame with the given number or nil.
func (ft *FrameTable) Lookup(number mm.Frame) *Frame {
	ft.lock.Acquire()
	defer ft.lock.Release()
	return ft.frames[number]
}

// InUse returns the number of frames handed out and not yet released.
func (ft *FrameTable) InUse() int {
	ft.lock.Acquire()
	defer ft.lock.Release()
	return len(ft.frames)
}

func (ft *FrameTable) release(f *Frame) {
	ft.lock.Acquire()
	if ft.frames[f.Number] != f {
		ft.lock.Release()
		return
	}
	delete(ft.frames, f.Number)
	ft.lock.Release()

	if ft.dataFn == nil && f.KVA != nil {
		ft.bufPool.Put(f.KVA)
	}

	if err := freeFrameFn(f.Number); err != nil {
		kfmt.Printf("[vm] unable to release frame %d: %s\n", uint64(f.Number), err.Message)
	}

	f.KVA = nil
	f.table = nil
}
