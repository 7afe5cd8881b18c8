package vm

import (
	"io"
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
	"lazyvm/kernel/mm"
)

var (
	errShortRead  = &kernel.Error{Module: "vm", Message: "backing file is shorter than the mapped segment"}
	errShortWrite = &kernel.Error{Module: "vm", Message: "unable to write back the whole page"}
	errNotFile    = &kernel.Error{Module: "vm", Message: "page is not file-backed"}
	errNotLoaded  = &kernel.Error{Module: "vm", Message: "page has no backing segment"}
)

// File is the backing store of file-mapped pages.
type File interface {
	io.ReaderAt
	io.WriterAt
}

// FileSegment is the auxiliary data of pages that are loaded with
// LoadSegment. ReadBytes bytes are read from File at Offset; the rest of the
// page is zero-filled.
type FileSegment struct {
	File      File
	Offset    int64
	ReadBytes int

	// Key identifies File in the page cache. It is only used by pages
	// of type TypePageCache.
	Key string

	// OnRelease, if set, runs once the page no longer needs the segment.
	OnRelease func()
}

// Release implements Releaser.
func (s *FileSegment) Release() {
	if s == nil || s.OnRelease == nil {
		return
	}

	fn := s.OnRelease
	s.OnRelease = nil
	fn()
}

// Clone implements Cloner. The clone does not inherit OnRelease.
func (s *FileSegment) Clone() interface{} {
	clone := *s
	clone.OnRelease = nil
	return &clone
}

// LoadSegment is an Initializer that fills the page frame from the
// *FileSegment passed as aux and records the segment as the backing store of
// file and page cache pages. It can also be used to populate anonymous pages
// (e.g. executable segments) with file contents.
func LoadSegment(p *Page, aux interface{}) bool {
	seg, ok := aux.(*FileSegment)
	if !ok || seg == nil || seg.File == nil || seg.ReadBytes < 0 || uintptr(seg.ReadBytes) > mm.PageSize {
		return false
	}

	f := p.frame
	if f == nil {
		return false
	}

	switch v := p.ops.(type) {
	case *FilePage:
		v.file, v.offset, v.length = seg.File, seg.Offset, seg.ReadBytes
	case *CachePage:
		v.file, v.offset, v.length = seg.File, seg.Offset, seg.ReadBytes
		v.fileKey, v.key = seg.Key, cacheKey(seg.Key, seg.Offset)
		if v.cache != nil && v.cache.load(v.key, f.KVA) {
			return true
		}
	}

	if err := readPage(seg.File, seg.Offset, seg.ReadBytes, f.KVA); err != nil {
		kfmt.Printf("[vm] page 0x%x: unable to load segment at offset %d: %s\n", p.va, seg.Offset, err.Message)
		return false
	}

	if v, isCached := p.ops.(*CachePage); isCached && v.cache != nil {
		v.cache.store(v.key, f.KVA)
	}

	return true
}

// readPage reads length bytes at offset into dst and zero-fills the rest.
func readPage(file File, offset int64, length int, dst []byte) *kernel.Error {
	if length > 0 {
		n, err := file.ReadAt(dst[:length], offset)
		if n != length || (err != nil && err != io.EOF) {
			return errShortRead
		}
	}

	kernel.Memset(dst[length:], 0)
	return nil
}

// writePage writes the first length bytes of src back to file at offset.
func writePage(file File, offset int64, length int, src []byte) *kernel.Error {
	if length == 0 {
		return nil
	}

	if n, err := file.WriteAt(src[:length], offset); n != length || err != nil {
		return errShortWrite
	}
	return nil
}

// FilePage is the variant of pages backed by a memory-mapped file.
type FilePage struct {
	file   File
	offset int64
	length int
}

// fileInitializer turns an uninit page into a file-backed page. The backing
// segment is recorded by LoadSegment.
func fileInitializer(p *Page, _ Type, f *Frame) bool {
	if f == nil || f.KVA == nil {
		return false
	}
	return p.Transmute(&FilePage{}, f) == nil
}

// Offset returns the offset of the page contents within the backing file.
func (fp *FilePage) Offset() int64 {
	return fp.offset
}

// SwapIn reloads the page contents from the backing file.
func (fp *FilePage) SwapIn(p *Page, f *Frame) bool {
	if f == nil || f.KVA == nil || p.frame != nil || fp.file == nil {
		return false
	}

	if err := readPage(fp.file, fp.offset, fp.length, f.KVA); err != nil {
		kfmt.Printf("[vm] file page 0x%x: swap in failed: %s\n", p.va, err.Message)
		return false
	}

	p.attachFrame(f)
	return true
}

// SwapOut writes dirty contents back to the file and releases the frame.
func (fp *FilePage) SwapOut(p *Page) bool {
	f := p.frame
	if f == nil {
		return false
	}

	if err := fp.WriteBack(p); err != nil {
		kfmt.Printf("[vm] file page 0x%x: swap out failed: %s\n", p.va, err.Message)
		return false
	}

	p.detachFrame()
	f.Release()
	return true
}

// Destroy writes dirty contents back to the file and releases the frame.
func (fp *FilePage) Destroy(p *Page) {
	if err := fp.WriteBack(p); err != nil {
		kfmt.Printf("[vm] file page 0x%x: write back on destroy failed: %s\n", p.va, err.Message)
	}

	if f := p.detachFrame(); f != nil {
		f.Release()
	}
}

// WriteBack writes the page contents to the backing file if the page is
// resident and dirty, then clears the dirty flag.
func (fp *FilePage) WriteBack(p *Page) *kernel.Error {
	if p.frame == nil || !p.dirty {
		return nil
	}

	if fp.file == nil {
		return errNotLoaded
	}

	if err := writePage(fp.file, fp.offset, fp.length, p.frame.KVA); err != nil {
		return err
	}

	p.dirty = false
	return nil
}

// Type implements Operations.
func (fp *FilePage) Type() Type {
	return TypeFile
}

// WriteBack flushes the contents of a dirty file-backed or page cache page.
// It returns an error if p has no file backing.
func WriteBack(p *Page) *kernel.Error {
	switch v := p.ops.(type) {
	case *FilePage:
		return v.WriteBack(p)
	case *CachePage:
		return v.WriteBack(p)
	}
	return errNotFile
}

// Segment returns a copy of the segment backing a file or page cache page.
// The second result is false for other kinds of pages and for file pages
// whose contents have not been loaded yet.
func Segment(p *Page) (*FileSegment, bool) {
	var seg *FileSegment
	switch v := p.ops.(type) {
	case *FilePage:
		seg = &FileSegment{File: v.file, Offset: v.offset, ReadBytes: v.length}
	case *CachePage:
		seg = &FileSegment{File: v.file, Offset: v.offset, ReadBytes: v.length, Key: v.fileKey}
	}

	if seg == nil || seg.File == nil {
		return nil, false
	}
	return seg, true
}
