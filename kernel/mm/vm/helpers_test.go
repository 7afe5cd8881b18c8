package vm

import (
	"io"
	"lazyvm/kernel"
	"lazyvm/kernel/mm"
)

// testAux is auxiliary data that records how many times it was released.
type testAux struct {
	size     int
	released int
}

func (a *testAux) Release() { a.released++ }

// cloneableAux is auxiliary data that is duplicated when cloned.
type cloneableAux struct {
	testAux
	clones int
}

func (a *cloneableAux) Clone() interface{} {
	a.clones++
	return &cloneableAux{testAux: testAux{size: a.size}}
}

// newTestFrame returns a frame that is not managed by a frame table.
func newTestFrame() *Frame {
	return &Frame{Number: mm.Frame(1), KVA: make([]byte, mm.PageSize)}
}

// memFile is an in-memory File.
type memFile struct {
	data     []byte
	reads    int
	readErr  error
	writeErr error
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	m.reads++
	if m.readErr != nil {
		return 0, m.readErr
	}

	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}

	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memFile) WriteAt(p []byte, off int64) (int, error) {
	if m.writeErr != nil {
		return 0, m.writeErr
	}

	if end := off + int64(len(p)); end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}
	return copy(m.data[off:], p), nil
}

// fakeSwap is an in-memory SwapSpace.
type fakeSwap struct {
	slots    map[uint32][]byte
	next     uint32
	storeErr *kernel.Error
	loadErr  *kernel.Error
	freed    []uint32
}

func newFakeSwap() *fakeSwap {
	return &fakeSwap{slots: make(map[uint32][]byte)}
}

func (s *fakeSwap) Store(data []byte) (uint32, *kernel.Error) {
	if s.storeErr != nil {
		return 0, s.storeErr
	}

	slot := s.next
	s.next++
	s.slots[slot] = append([]byte(nil), data...)
	return slot, nil
}

func (s *fakeSwap) Load(slot uint32, data []byte) *kernel.Error {
	if s.loadErr != nil {
		return s.loadErr
	}

	copy(data, s.slots[slot])
	delete(s.slots, slot)
	return nil
}

func (s *fakeSwap) Free(slot uint32) {
	s.freed = append(s.freed, slot)
	delete(s.slots, slot)
}

func patternFile(size int) *memFile {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i%251) + 1
	}
	return &memFile{data: data}
}
