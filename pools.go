package itemdb

import "sync"

var recordBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

var idListPool = &sync.Pool{
	New: func() any {
		return make([]ID, 0, 256)
	},
}

// recordArena hands out encoding buffers for one write transaction. Storage
// may keep referencing written values until the transaction ends, so
// buffers go back to the pool only in release.
type recordArena struct {
	bufs [][]byte
}

func (a *recordArena) buf() []byte {
	return recordBytesPool.Get().([]byte)[:0]
}

// keep takes ownership of b, the final (possibly regrown) form of a buffer
// returned by buf.
func (a *recordArena) keep(b []byte) []byte {
	a.bufs = append(a.bufs, b)
	return b
}

func (a *recordArena) release() {
	for i, b := range a.bufs {
		if cap(b) <= 1024*1024 {
			recordBytesPool.Put(b[:0])
		}
		a.bufs[i] = nil
	}
	a.bufs = a.bufs[:0]
}

func releaseIDList(ids []ID) {
	idListPool.Put(ids[:0])
}
