package vmm

import (
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
	"lazyvm/kernel/mm"
	"lazyvm/kernel/mm/vm"

	"github.com/krotik/common/errorutil"
)

var (
	errInvalidMmapArgs = &kernel.Error{Module: "vmm", Message: "invalid mmap arguments"}
	errEmptyFile       = &kernel.Error{Module: "vmm", Message: "cannot map an empty file"}
	errOverlap         = &kernel.Error{Module: "vmm", Message: "mapping overlaps existing pages"}
	errNoMapping       = &kernel.Error{Module: "vmm", Message: "no mapping starts at the given address"}
	errSyncFailed      = &kernel.Error{Module: "vmm", Message: "unable to write back mapped pages"}
)

// File is a file that can be mapped into an address space.
type File interface {
	vm.File

	// Name identifies the file. Shared mappings of files with the same
	// name use the same page cache entries.
	Name() string

	// Size returns the length of the file in bytes.
	Size() int64
}

// mapping describes a file mapping created by Mmap.
type mapping struct {
	start uintptr
	pages int
	file  File
}

func (m *mapping) clone() *mapping {
	c := *m
	return &c
}

func (m *mapping) end() uintptr {
	return m.start + uintptr(m.pages)*mm.PageSize
}

// Mmap maps length bytes of file starting at offset to addr. Pages are loaded
// lazily on first access; the part of the last page that extends past the
// end of the file is zero-filled. Shared mappings are served through the page
// cache. On success, Mmap returns addr.
func (as *AddressSpace) Mmap(addr, length uintptr, writable bool, file File, offset int64, shared bool) (uintptr, *kernel.Error) {
	if addr == 0 || !mm.IsPageAligned(addr) || length == 0 || file == nil || offset < 0 || !mm.IsPageAligned(uintptr(offset)) {
		return 0, errInvalidMmapArgs
	}

	size := file.Size()
	if size == 0 {
		return 0, errEmptyFile
	}

	if addr >= kernelSpaceStart || length > kernelSpaceStart-addr {
		return 0, errOverlap
	}

	as.lock.Acquire()
	defer as.lock.Release()

	m := &mapping{start: addr, pages: int(mm.RoundUp(length) >> mm.PageShift), file: file}
	if m.end() > kernelSpaceStart || as.overlaps(m.start, m.end()) {
		return 0, errOverlap
	}

	t := vm.TypeFile
	if shared {
		t = vm.TypePageCache
	}

	for i := 0; i < m.pages; i++ {
		var (
			va      = addr + uintptr(i)*mm.PageSize
			pageOff = offset + int64(i)*int64(mm.PageSize)
			seg     = &vm.FileSegment{
				File:      file,
				Offset:    pageOff,
				ReadBytes: readBytes(size, pageOff),
				Key:       file.Name(),
			}
		)

		if err := as.spt.AllocPageWithInitializer(t, va, writable, vm.LoadSegment, seg); err != nil {
			as.unmap(&mapping{start: addr, pages: i})
			return 0, err
		}
	}

	as.mappings[addr] = m
	return addr, nil
}

// readBytes returns the number of file bytes backing the page at offset.
func readBytes(size, offset int64) int {
	switch remaining := size - offset; {
	case remaining <= 0:
		return 0
	case remaining > int64(mm.PageSize):
		return int(mm.PageSize)
	default:
		return int(remaining)
	}
}

// overlaps returns true if any page or stack reservation falls in [start, end).
func (as *AddressSpace) overlaps(start, end uintptr) bool {
	var found bool
	as.spt.Range(start, end, func(_ *vm.Page) bool {
		found = true
		return false
	})

	if found {
		return true
	}

	return as.stackLow != 0 && start < as.cfg.StackTop && end > as.cfg.stackBottom()
}

// Munmap removes the mapping that starts at addr. Dirty pages are written
// back to the file.
func (as *AddressSpace) Munmap(addr uintptr) *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	m, ok := as.mappings[addr]
	if !ok {
		return errNoMapping
	}

	as.unmap(m)
	delete(as.mappings, addr)
	return nil
}

// unmap destroys the pages of m.
func (as *AddressSpace) unmap(m *mapping) {
	as.spt.Range(m.start, m.end(), func(p *vm.Page) bool {
		as.unmapPage(p)
		_ = as.spt.Remove(p)
		return true
	})
}

// Sync writes the dirty pages of every file mapping back to their files. Pages
// that fail to write back stay dirty; each failure is logged.
func (as *AddressSpace) Sync() *kernel.Error {
	as.lock.Acquire()
	defer as.lock.Release()

	errs := errorutil.NewCompositeError()
	for _, m := range as.mappings {
		as.spt.Range(m.start, m.end(), func(p *vm.Page) bool {
			if p.Frame() == nil {
				return true
			}

			as.syncDirty(p)
			if err := vm.WriteBack(p); err != nil {
				errs.Add(err)
			}
			return true
		})
	}

	if errs.HasErrors() {
		kfmt.Printf("[vmm] sync: %s\n", errs.Error())
		return errSyncFailed
	}
	return nil
}
