// Package vmm implements user address spaces on top of the lazily
// initialized pages provided by the vm package. An address space owns a
// supplemental page table that describes every page the process may touch
// and a software page table that records which of those pages are currently
// mapped to a physical frame.
package vmm

import (
	"lazyvm/kernel"
	"lazyvm/kernel/kfmt"
)

const (
	// kernelSpaceStart is the first address that belongs to the kernel.
	// User-mode accesses at or above it are never recoverable.
	kernelSpaceStart = uintptr(0xffff800000000000)

	// stackSlack is the distance below the stack pointer that is still
	// treated as a stack access; a push checks permissions before it
	// decrements the stack pointer.
	stackSlack = 32
)

var (
	// ErrUnrecoverableFault is returned for faults that cannot be
	// resolved. The faulting context must be terminated.
	ErrUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page fault"}

	// ErrInvalidMapping is returned when trying to access a virtual memory
	// address that is not mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped page"}
)

// faultFlag describes the circumstances of a page fault.
type faultFlag uint8

const (
	faultWrite faultFlag = 1 << iota
	faultNotPresent
	faultUser
	faultAllowStackGrowth
)

// faultReason returns a description of a fault for diagnostic output.
func faultReason(flags faultFlag) string {
	switch {
	case flags&faultNotPresent != 0 && flags&faultWrite != 0:
		return "write to non-present page"
	case flags&faultNotPresent != 0:
		return "read from non-present page"
	case flags&faultWrite != 0:
		return "page protection violation (write)"
	default:
		return "page protection violation (read)"
	}
}

func nonRecoverablePageFault(faultAddress uintptr, flags faultFlag, cause string) *kernel.Error {
	mode := "kernel"
	if flags&faultUser != 0 {
		mode = "user"
	}

	kfmt.Printf("[vmm] page fault while accessing address: 0x%16x\n", faultAddress)
	kfmt.Printf("[vmm] reason: %s (%s mode): %s\n", faultReason(flags), mode, cause)
	return ErrUnrecoverableFault
}
