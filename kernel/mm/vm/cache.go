package vm

import (
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
	"strconv"

	"github.com/krotik/common/datautil"
)

var (
	// activePageCache is used by newly transmuted page cache pages. It is
	// registered via SetPageCache.
	activePageCache = NewPageCache(0, 0)
)

// PageCache shares the contents of file pages between mappings. Entries are
// keyed by the file key and page offset; the oldest entries are dropped once
// the cache is full and entries older than the configured age expire. A miss
// simply causes the page to be read from its file again.
type PageCache struct {
	entries *datautil.MapCache
}

// NewPageCache creates a page cache holding at most maxEntries pages for at
// most maxAge seconds. A zero value disables the respective limit.
func NewPageCache(maxEntries uint64, maxAge int64) *PageCache {
	return &PageCache{entries: datautil.NewMapCache(maxEntries, maxAge)}
}

// SetPageCache registers the page cache used by page cache pages that are
// transmuted from now on.
func SetPageCache(pc *PageCache) {
	activePageCache = pc
}

// Lookup returns a copy of the cached contents for the given file key and
// offset.
func (pc *PageCache) Lookup(key string, offset int64) ([]byte, bool) {
	v, ok := pc.entries.Get(cacheKey(key, offset))
	if !ok {
		return nil, false
	}

	data := v.([]byte)
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Invalidate drops the cached contents for the given file key and offset.
func (pc *PageCache) Invalidate(key string, offset int64) bool {
	return pc.entries.Remove(cacheKey(key, offset))
}

func (pc *PageCache) load(key string, dst []byte) bool {
	v, ok := pc.entries.Get(key)
	if !ok {
		return false
	}

	copy(dst, v.([]byte))
	return true
}

func (pc *PageCache) store(key string, src []byte) {
	data := make([]byte, len(src))
	copy(data, src)
	pc.entries.Put(key, data)
}

func cacheKey(key string, offset int64) string {
	return key + "@" + strconv.FormatInt(offset, 10)
}

// CachePage is the variant of file pages whose contents are published to and
// served from the page cache.
type CachePage struct {
	cache  *PageCache
	file   File
	offset int64
	length int

	// fileKey identifies the backing file; key is the cache key of this
	// page within it.
	fileKey string
	key     string
}

// cachePageInitializer turns an uninit page into a page cache page. The
// backing segment is recorded by LoadSegment.
func cachePageInitializer(p *Page, _ Type, f *Frame) bool {
	if f == nil || f.KVA == nil {
		return false
	}
	return p.Transmute(&CachePage{cache: activePageCache}, f) == nil
}

// SwapIn fills f from the page cache, falling back to the backing file. File
// contents read on a miss are published to the cache.
func (cp *CachePage) SwapIn(p *Page, f *Frame) bool {
	if f == nil || f.KVA == nil || p.frame != nil || cp.file == nil {
		return false
	}

	if cp.cache == nil || !cp.cache.load(cp.key, f.KVA) {
		if err := readPage(cp.file, cp.offset, cp.length, f.KVA); err != nil {
			kfmt.Printf("[vm] cache page 0x%x: swap in failed: %s\n", p.va, err.Message)
			return false
		}

		if cp.cache != nil {
			cp.cache.store(cp.key, f.KVA)
		}
	}

	p.attachFrame(f)
	return true
}

// SwapOut writes dirty contents back and releases the frame. A clean frame
// may predate a newer write back by another mapping, so it is never published
// to the cache.
func (cp *CachePage) SwapOut(p *Page) bool {
	f := p.frame
	if f == nil {
		return false
	}

	if err := cp.WriteBack(p); err != nil {
		kfmt.Printf("[vm] cache page 0x%x: swap out failed: %s\n", p.va, err.Message)
		return false
	}

	p.detachFrame()
	f.Release()
	return true
}

// Destroy writes dirty contents back and releases the frame. The cached copy
// outlives the page so other mappings of the same file can reuse it.
func (cp *CachePage) Destroy(p *Page) {
	f := p.frame
	if f == nil {
		return
	}

	if err := cp.WriteBack(p); err != nil {
		kfmt.Printf("[vm] cache page 0x%x: write back on destroy failed: %s\n", p.va, err.Message)
	}

	p.detachFrame()
	f.Release()
}

// WriteBack writes a dirty resident page back to its file and refreshes the
// cached copy.
func (cp *CachePage) WriteBack(p *Page) *kernel.Error {
	if p.frame == nil || !p.dirty {
		return nil
	}

	if cp.file == nil {
		return errNotLoaded
	}

	if err := writePage(cp.file, cp.offset, cp.length, p.frame.KVA); err != nil {
		return err
	}

	if cp.cache != nil {
		cp.cache.store(cp.key, p.frame.KVA)
	}

	p.dirty = false
	return nil
}

// Type implements Operations.
func (cp *CachePage) Type() Type {
	return TypePageCache
}
