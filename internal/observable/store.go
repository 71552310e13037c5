package observable

import "sync"

// Store holds one value and notifies subscribers when it is replaced.
//
// Each subscriber channel has capacity one and only ever holds the most
// recent value, so a slow reader skips intermediate states instead of
// blocking the writer.
type Store[T any] struct {
	mu     sync.Mutex
	value  T
	nextID int
	subs   map[int]chan T
	closed bool
}

func NewStore[T any](initial T) *Store[T] {
	return &Store[T]{value: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (s *Store[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the value and notifies every subscriber.
func (s *Store[T]) Set(value T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = value
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- value
	}
}

// Subscribe returns a channel primed with the current value.
func (s *Store[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan T, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.value

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
		})
	}
}

// Close detaches all subscribers. Later Sets still update the value.
func (s *Store[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
