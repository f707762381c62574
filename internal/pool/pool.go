// Package pool recycles byte buffers holding decoded audio.
package pool

import (
	"math/bits"
	"sync"
)

// Buffers up to 1<<maxClass bytes are recycled, larger ones are left to gc.
const (
	minClass = 6
	maxClass = 22
)

type key struct {
	class int
}

var m = struct {
	sync.Mutex
	pools map[key]*sync.Pool
}{
	pools: map[key]*sync.Pool{},
}

func get(k key) *sync.Pool {
	m.Lock()
	defer m.Unlock()
	if p, ok := m.pools[k]; ok {
		return p
	}

	size := 1 << k.class
	p := &sync.Pool{
		New: func() interface{} {
			b := make([]byte, size)
			return &b
		},
	}
	m.pools[k] = p
	return p
}

func class(size int) int {
	if size <= 1<<minClass {
		return minClass
	}
	return bits.Len(uint(size - 1))
}

// Alloc returns a buffer of length size. Content is undefined.
func Alloc(size int) []byte {
	c := class(size)
	if c > maxClass {
		return make([]byte, size)
	}
	b := get(key{c}).Get().(*[]byte)
	return (*b)[:size]
}

// Free returns a buffer obtained from Alloc.
func Free(b []byte) {
	c := bits.Len(uint(cap(b))) - 1
	if c < minClass || c > maxClass || cap(b) != 1<<c {
		return
	}
	b = b[:cap(b)]
	get(key{c}).Put(&b)
}
