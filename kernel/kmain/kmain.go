// Package kmain wires the memory management subsystems together and runs a
// short workload that exercises lazy page initialization end to end.
package kmain

import (
	"io"
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
	"lazyvm/kernel/mm"
	"lazyvm/kernel/mm/pmm"
	"lazyvm/kernel/mm/swap"
	"lazyvm/kernel/mm/vm"
	"lazyvm/kernel/mm/vmm"
)

const (
	// imageVA is where the init image is mapped.
	imageVA = uintptr(0x400000)

	// bssVA is the zero-filled region that follows the init image.
	bssVA = uintptr(0x600000)
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errImageMismatch = &kernel.Error{Module: "kmain", Message: "mapped image contents do not match the file"}
	errBssMismatch   = &kernel.Error{Module: "kmain", Message: "anonymous page lost its contents across eviction"}
)

// Kmain sets up the physical frame pool, swap device and page cache using
// cfg and then builds an address space whose pages are populated lazily.
// Errors are fatal.
func Kmain(cfg vmm.Config) {
	if err := run(cfg); err != nil {
		panicFn(err)
	}
}

func run(cfg vmm.Config) *kernel.Error {
	kfmt.Printf("[kmain] starting lazyvm\n")

	if err := pmm.Init(cfg.Frames); err != nil {
		return err
	}

	dev, err := swap.NewDevice(cfg.SwapSlots)
	if err != nil {
		return err
	}
	vm.SetSwapSpace(dev)
	vm.SetPageCache(vm.NewPageCache(cfg.CacheEntries, cfg.CacheMaxAge))

	as := vmm.NewAddressSpace(cfg, vm.NewFrameTable(pmm.FrameData))
	defer as.Destroy()

	if err = as.SetupStack(); err != nil {
		return err
	}

	img := newImage("init", 3*int(mm.PageSize)/2)
	if _, err = as.Mmap(imageVA, uintptr(img.Size()), false, img, 0, true); err != nil {
		return err
	}

	if err = as.AllocPage(vm.TypeAnon, bssVA, true, nil, nil); err != nil {
		return err
	}

	as.PrintStats()

	// Touch the image; each page is initialized on first access.
	buf := make([]byte, img.Size())
	if err = as.Read(imageVA, buf); err != nil {
		return err
	}
	for i := range buf {
		if buf[i] != img.data[i] {
			return errImageMismatch
		}
	}

	// Grow the stack by simulating a push below the lowest stack page.
	rsp := cfg.StackTop - mm.PageSize
	if err = as.HandleFault(rsp-8, rsp, true, true, true); err != nil {
		return err
	}

	// Round-trip an anonymous page through the swap device.
	marker := []byte("lazyvm")
	if err = as.Write(bssVA, marker); err != nil {
		return err
	}
	if err = as.Evict(bssVA); err != nil {
		return err
	}
	dev.PrintStats()

	check := make([]byte, len(marker))
	if err = as.Read(bssVA, check); err != nil {
		return err
	}
	if string(check) != string(marker) {
		return errBssMismatch
	}

	child, err := as.Fork()
	if err != nil {
		return err
	}
	child.PrintStats()
	child.Destroy()

	as.PrintStats()
	pmm.PrintStats()
	return nil
}

// image is an in-memory file.
type image struct {
	name string
	data []byte
}

func newImage(name string, size int) *image {
	img := &image{name: name, data: make([]byte, size)}
	for i := range img.data {
		img.data[i] = byte(i*7 + 3)
	}
	return img
}

func (img *image) Name() string { return img.name }
func (img *image) Size() int64  { return int64(len(img.data)) }

func (img *image) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(img.data)) {
		return 0, io.EOF
	}

	n := copy(p, img.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (img *image) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > int64(len(img.data)) {
		return 0, io.ErrShortWrite
	}
	return copy(img.data[off:], p), nil
}
