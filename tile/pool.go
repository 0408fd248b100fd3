package tile

import "sync"

// bufferPool recycles tile pixel buffers. The pool reduces GC pressure
// for layers that repeatedly materialize and collapse tiles.
//
// Buffers are not cleared on return; callers overwrite every pixel
// before reading.
var bufferPool = sync.Pool{
	New: func() any {
		return new([Pixels]uint32)
	},
}

// getBuffer retrieves a buffer from the pool. Contents are undefined.
func getBuffer() *[Pixels]uint32 {
	return bufferPool.Get().(*[Pixels]uint32)
}

// putBuffer returns a buffer to the pool.
// If buf is nil, this is a no-op.
func putBuffer(buf *[Pixels]uint32) {
	if buf == nil {
		return
	}
	bufferPool.Put(buf)
}
