package usecase

import (
	"bytes"
	"sync"
)

// fragmentAccumulator keeps encoded fragments in arrival order.
type fragmentAccumulator struct {
	mu        sync.Mutex
	fragments [][]byte
	size      int
}

func newFragmentAccumulator() *fragmentAccumulator {
	return &fragmentAccumulator{}
}

func (a *fragmentAccumulator) Add(fragment []byte) {
	if len(fragment) == 0 {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.fragments = append(a.fragments, append([]byte(nil), fragment...))
	a.size += len(fragment)
}

// Bytes concatenates every fragment received so far.
func (a *fragmentAccumulator) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	var buf bytes.Buffer
	buf.Grow(a.size)
	for _, fragment := range a.fragments {
		buf.Write(fragment)
	}
	return buf.Bytes()
}

func (a *fragmentAccumulator) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.fragments)
}
