package kernel

// Memset sets every byte of buf to the supplied value. Instead of using a for
// loop, the implementation makes log2(len(buf)) copy calls which is noticeably
// faster for page-sized buffers.
func Memset(buf []byte, value byte) {
	if len(buf) == 0 {
		return
	}

	// Set first element and make log2(size) optimized copies
	buf[0] = value
	for index := 1; index < len(buf); index *= 2 {
		copy(buf[index:], buf[:index])
	}
}

// Memcopy copies min(len(dst), len(src)) bytes from src to dst and returns the
// number of copied bytes.
func Memcopy(dst, src []byte) int {
	if len(src) == 0 || len(dst) == 0 {
		return 0
	}

	return copy(dst, src)
}
