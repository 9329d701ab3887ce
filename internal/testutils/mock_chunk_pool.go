package testutils

import "sync/atomic"

// MockChunkPool is a heap-backed chunk pool that counts Get and Put calls.
type MockChunkPool struct {
	getCalls      atomic.Int64
	putCalls      atomic.Int64
	allocateCalls atomic.Int64
}

func (p *MockChunkPool) Get(chunkSize int) []byte {
	p.getCalls.Add(1)
	return make([]byte, chunkSize)
}

func (p *MockChunkPool) Put(c []byte) {
	p.putCalls.Add(1)
}

func (p *MockChunkPool) Allocate(chunkSize int, numChunks int) {
	p.allocateCalls.Add(1)
}

func (p *MockChunkPool) GetCalls() int64 {
	return p.getCalls.Load()
}

func (p *MockChunkPool) PutCalls() int64 {
	return p.putCalls.Load()
}

func (p *MockChunkPool) AllocateCalls() int64 {
	return p.allocateCalls.Load()
}

func (p *MockChunkPool) ChunksInUse() int64 {
	return p.GetCalls() - p.PutCalls()
}

func (p *MockChunkPool) Reset() {
	p.getCalls.Store(0)
	p.putCalls.Store(0)
	p.allocateCalls.Store(0)
}
