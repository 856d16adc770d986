package mem

import (
	"reflect"
	"unsafe"
)

// Memset sets size bytes starting at addr to value. Rather than looping
// byte-by-byte, it follows the doubling trick used by bytes.Repeat: after
// the first byte is written, each iteration copies the already-written
// prefix over the following, same-sized span, so the whole region is
// filled in log2(size) copies instead of size single-byte stores.
func Memset(addr uintptr, value byte, size Size) {
	if size == 0 {
		return
	}

	target := *(*[]byte)(unsafe.Pointer(&reflect.SliceHeader{
		Len:  int(size),
		Cap:  int(size),
		Data: addr,
	}))

	target[0] = value
	for index := Size(1); index < size; index *= 2 {
		copy(target[index:], target[:index])
	}
}
