package vmm

import (
	"bytes"
	"io"
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
	"lazyvm/kernel/mm/pmm"
	"lazyvm/kernel/mm/swap"
	"lazyvm/kernel/mm/vm"
	"testing"
)

// testFile is an in-memory File.
type testFile struct {
	name     string
	data     []byte
	reads    int
	writeErr error
}

func newTestFile(name string, size int) *testFile {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%253) + 1
	}
	return &testFile{name: name, data: data}
}

func (f *testFile) Name() string { return f.name }
func (f *testFile) Size() int64  { return int64(len(f.data)) }

func (f *testFile) ReadAt(p []byte, off int64) (int, error) {
	f.reads++
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}

	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *testFile) WriteAt(p []byte, off int64) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	return copy(f.data[off:], p), nil
}

// testEnv wires an address space to a real frame pool, swap device and page
// cache.
type testEnv struct {
	cfg    Config
	frames *vm.FrameTable
	swap   *swap.Device
	as     *AddressSpace
	log    bytes.Buffer
}

func newTestEnv(t *testing.T) (*testEnv, func()) {
	env := &testEnv{cfg: DefaultConfig}
	env.cfg.Frames = 32
	env.cfg.SwapSlots = 16

	origSink := kfmt.GetOutputSink()
	kfmt.SetOutputSink(&env.log)

	if err := pmm.Init(env.cfg.Frames); err != nil {
		t.Fatal(err)
	}

	var err *kernel.Error
	if env.swap, err = swap.NewDevice(env.cfg.SwapSlots); err != nil {
		t.Fatal(err)
	}

	vm.SetSwapSpace(env.swap)
	vm.SetPageCache(vm.NewPageCache(env.cfg.CacheEntries, env.cfg.CacheMaxAge))

	env.frames = vm.NewFrameTable(pmm.FrameData)
	env.as = NewAddressSpace(env.cfg, env.frames)

	return env, func() {
		vm.SetSwapSpace(nil)
		vm.SetPageCache(vm.NewPageCache(0, 0))
		kfmt.SetOutputSink(origSink)
	}
}

func (env *testEnv) page(va uintptr) *vm.Page {
	return env.as.PageTable().Find(va)
}
