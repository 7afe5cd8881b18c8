package main

import (
	"lazyvm/kernel/kfmt"
	"lazyvm/kernel/kmain"
	"lazyvm/kernel/mm/vmm"
	"os"
)

// main installs the console as the output sink and hands control to the
// kernel entrypoint.
func main() {
	kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: os.Stdout, Prefix: []byte("lazyvm: ")})
	kmain.Kmain(vmm.DefaultConfig)
}
