package audio

import (
	"errors"
	"io"
	"os"
	"sync"

	"withvoice/internal/ports"
)

const (
	defaultSubscriberBuffer = 64
	pcmChunkSize            = 4096
)

// broadcaster fans PCM chunks out to every subscriber. A subscriber that
// falls behind loses chunks instead of stalling the device.
type broadcaster struct {
	mu      sync.Mutex
	subs    map[int]chan []byte
	next    int
	closed  bool
	dropped int
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan []byte)}
}

func (b *broadcaster) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan []byte, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish copies chunk once and hands the copy to every subscriber.
// Subscribers must treat the slice as read-only.
func (b *broadcaster) Publish(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	data := append([]byte(nil), chunk...)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- data:
		default:
			b.dropped++
		}
	}
}

// Dropped returns how many chunk deliveries were skipped.
func (b *broadcaster) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func (b *broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// pump publishes everything read from r until it ends, then closes b.
func (b *broadcaster) pump(r io.Reader) {
	defer b.Close()
	buf := make([]byte, pcmChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			b.Publish(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

// pcmStream is the ports.AudioStream shared by both capture backends.
type pcmStream struct {
	*broadcaster
	format ports.StreamFormat

	stopFn   func() error
	stopOnce sync.Once
	stopErr  error
}

func newPCMStream(format ports.StreamFormat, b *broadcaster, stop func() error) *pcmStream {
	return &pcmStream{broadcaster: b, format: format, stopFn: stop}
}

func (s *pcmStream) Format() ports.StreamFormat {
	return s.format
}

func (s *pcmStream) Stop() error {
	s.stopOnce.Do(func() {
		if s.stopFn != nil {
			s.stopErr = s.stopFn()
		}
		s.broadcaster.Close()
	})
	if errors.Is(s.stopErr, os.ErrClosed) {
		return nil
	}
	return s.stopErr
}
