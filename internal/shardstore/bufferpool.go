package shardstore

import "sync"

// readBufPool recycles the byte slices ReadAt-less call sites use to pull a
// whole file's bytes off disk, avoiding an allocation per Get/VerifyFull
// read in the common case of similarly-sized files in a hot loop.
var readBufPool = sync.Pool{
	New: func() interface{} { return make([]byte, 0, 64*1024) },
}

func getReadBuf(size int64) []byte {
	buf := readBufPool.Get().([]byte)
	if int64(cap(buf)) < size {
		return make([]byte, size)
	}
	return buf[:size]
}

func putReadBuf(buf []byte) {
	if cap(buf) <= 4<<20 { // don't hoard oversized buffers from one-off large reads
		readBufPool.Put(buf[:0])
	}
}
