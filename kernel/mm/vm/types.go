package vm

// Type identifies the backing kind of a page. The low bits select the kind
// while the upper bits carry markers that do not affect initialization.
type Type uint8

const (
	// TypeUninit is reported by pages that have not been faulted in yet.
	TypeUninit Type = iota

	// TypeAnon identifies zero-filled anonymous memory that is backed by
	// swap space when evicted.
	TypeAnon

	// TypeFile identifies pages backed by a memory-mapped file.
	TypeFile

	// TypePageCache identifies file pages whose contents are shared
	// through the page cache.
	TypePageCache

	// MarkerStack flags anonymous pages that belong to a stack.
	MarkerStack Type = 1 << 3

	typeMask Type = (1 << 3) - 1
)

// Base strips any marker bits and returns the backing kind.
func (t Type) Base() Type {
	return t & typeMask
}

// Has returns true if all bits of marker are set.
func (t Type) Has(marker Type) bool {
	return t&marker == marker
}

// String implements fmt.Stringer.
func (t Type) String() string {
	var name string
	switch t.Base() {
	case TypeUninit:
		name = "uninit"
	case TypeAnon:
		name = "anon"
	case TypeFile:
		name = "file"
	case TypePageCache:
		name = "page_cache"
	default:
		name = "unknown"
	}

	if t.Has(MarkerStack) {
		name += "+stack"
	}
	return name
}
