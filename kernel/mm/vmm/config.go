package vmm

import "lazyvm/kernel/mm"

// Config holds the tunables of the virtual memory subsystem.
type Config struct {
	// StackTop is the address right above the highest stack page.
	StackTop uintptr

	// StackLimit is the maximum size of the stack in bytes.
	StackLimit uintptr

	// CacheEntries limits the number of pages held by the page cache.
	// Zero means unlimited.
	CacheEntries uint64

	// CacheMaxAge is the number of seconds after which page cache entries
	// expire. Zero disables expiry.
	CacheMaxAge int64

	// SwapSlots is the number of pages the swap device can hold.
	SwapSlots uint32

	// Frames is the number of physical frames available for resident pages.
	Frames uint32
}

// DefaultConfig is used when no explicit configuration is supplied.
var DefaultConfig = Config{
	StackTop:     0x47480000,
	StackLimit:   1 << 20,
	CacheEntries: 256,
	CacheMaxAge:  0,
	SwapSlots:    1024,
	Frames:       512,
}

// stackBottom returns the lowest address the stack may grow to.
func (cfg Config) stackBottom() uintptr {
	if cfg.StackLimit > cfg.StackTop {
		return 0
	}
	return (cfg.StackTop - cfg.StackLimit) &^ (mm.PageSize - 1)
}
