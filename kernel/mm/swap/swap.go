// Package swap provides the in-memory swap device that holds the contents of
// evicted anonymous pages.
package swap

import (
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
	"lazyvm/kernel/mm"
	"lazyvm/kernel/sync"

	"github.com/krotik/common/bitutil"
	"github.com/krotik/common/pools"
)

var (
	errNoSlots      = &kernel.Error{Module: "swap", Message: "swap device must contain at least one slot"}
	errSwapFull     = &kernel.Error{Module: "swap", Message: "swap space exhausted"}
	errBadSlot      = &kernel.Error{Module: "swap", Message: "slot does not belong to the device"}
	errSlotNotInUse = &kernel.Error{Module: "swap", Message: "slot does not hold any data"}
	errPageSize     = &kernel.Error{Module: "swap", Message: "swap buffers must be exactly one page"}
)

// Device is a swap area made of page-sized slots. Slot usage is tracked in a
// bitmap; slot contents are kept in page buffers that are recycled through a
// byte slice pool.
type Device struct {
	lock sync.Spinlock

	totalSlots uint32
	usedSlots  uint32

	// usedBitmap has a set bit for each slot that holds data.
	usedBitmap []uint64

	slots map[uint32][]byte

	bufPool interface {
		Get() interface{}
		Put(interface{})
	}
}

// NewDevice creates a swap device with slotCount page-sized slots.
func NewDevice(slotCount uint32) (*Device, *kernel.Error) {
	if slotCount == 0 {
		return nil, errNoSlots
	}

	dev := &Device{
		totalSlots: slotCount,
		usedBitmap: make([]uint64, (slotCount+63)>>6),
		slots:      make(map[uint32][]byte),
		bufPool:    pools.NewByteSlicePool(int(mm.PageSize)),
	}

	// Padding bits are permanently in use.
	if rem := slotCount & 63; rem != 0 {
		dev.usedBitmap[len(dev.usedBitmap)-1] = ^uint64(0) << rem
	}

	return dev, nil
}

// Store copies one page of data into a free slot and returns its index.
func (dev *Device) Store(data []byte) (uint32, *kernel.Error) {
	if uintptr(len(data)) != mm.PageSize {
		return 0, errPageSize
	}

	dev.lock.Acquire()
	defer dev.lock.Release()

	if dev.usedSlots == dev.totalSlots {
		return 0, errSwapFull
	}

	for block, bits := range dev.usedBitmap {
		if bits == ^uint64(0) {
			continue
		}

		for bit := uint32(0); bit < 64; bit++ {
			mask := uint64(1) << bit
			if bits&mask != 0 {
				continue
			}

			slot := uint32(block)<<6 + bit
			buf := dev.bufPool.Get().([]byte)
			kernel.Memcopy(buf, data)

			dev.usedBitmap[block] |= mask
			dev.usedSlots++
			dev.slots[slot] = buf
			return slot, nil
		}
	}

	return 0, errSwapFull
}

// Load copies the contents of slot into data and frees the slot.
func (dev *Device) Load(slot uint32, data []byte) *kernel.Error {
	if uintptr(len(data)) != mm.PageSize {
		return errPageSize
	}

	dev.lock.Acquire()
	defer dev.lock.Release()

	buf, err := dev.take(slot)
	if err != nil {
		return err
	}

	kernel.Memcopy(data, buf)
	dev.bufPool.Put(buf)
	return nil
}

// Free discards the contents of slot. Freeing an unused slot is a no-op.
func (dev *Device) Free(slot uint32) {
	dev.lock.Acquire()
	defer dev.lock.Release()

	if buf, err := dev.take(slot); err == nil {
		dev.bufPool.Put(buf)
	}
}

// FreeSlots returns the number of slots that can still be used.
func (dev *Device) FreeSlots() uint32 {
	dev.lock.Acquire()
	defer dev.lock.Release()
	return dev.totalSlots - dev.usedSlots
}

// PrintStats prints the device usage.
func (dev *Device) PrintStats() {
	dev.lock.Acquire()
	used, total := dev.usedSlots, dev.totalSlots
	dev.lock.Release()

	kfmt.Printf(
		"[swap] %d/%d slots in use (%s capacity)\n",
		used,
		total,
		bitutil.ByteSizeString(int64(total)*int64(mm.PageSize), false),
	)
}

// take marks slot as free and returns its buffer. The caller must hold the
// device lock.
func (dev *Device) take(slot uint32) ([]byte, *kernel.Error) {
	if slot >= dev.totalSlots {
		return nil, errBadSlot
	}

	block, mask := slot>>6, uint64(1)<<(slot&63)
	if dev.usedBitmap[block]&mask == 0 {
		return nil, errSlotNotInUse
	}

	buf := dev.slots[slot]
	delete(dev.slots, slot)
	dev.usedBitmap[block] &^= mask
	dev.usedSlots--
	return buf, nil
}
