package pool_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dudk/songpipe/internal/pool"
)

func TestPool(t *testing.T) {
	tests := []struct {
		size        int
		expectedCap int
		allocs      int
	}{
		{
			size:        1,
			expectedCap: 64,
			allocs:      10,
		},
		{
			size:        1000,
			expectedCap: 1024,
			allocs:      100,
		},
		{
			size:        1024,
			expectedCap: 1024,
			allocs:      100,
		},
		{
			size:        1<<23 + 1,
			expectedCap: 1<<23 + 1,
			allocs:      2,
		},
	}
	for _, test := range tests {
		for i := 0; i < test.allocs; i++ {
			b := pool.Alloc(test.size)
			assert.Equal(t, test.size, len(b))
			assert.Equal(t, test.expectedCap, cap(b))
			pool.Free(b)
		}
	}
	// foreign buffers are ignored
	pool.Free(make([]byte, 100))
}
