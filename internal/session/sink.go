package session

import "sync"

// sink is the bounded outbound queue for one client connection. The
// registry holds the send side; the write pump drains it onto the
// socket. A full buffer means the client cannot keep up, so the sink
// closes and the session is torn down rather than buffering without
// bound.
type sink struct {
	ch   chan string
	done chan struct{}
	once sync.Once
}

func newSink(buffer int) *sink {
	return &sink{
		ch:   make(chan string, buffer),
		done: make(chan struct{}),
	}
}

// Send enqueues a message without blocking. It reports false when the
// sink is closed or the buffer is full; overflow closes the sink.
func (s *sink) Send(message string) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.ch <- message:
		return true
	case <-s.done:
		return false
	default:
		s.close()
		return false
	}
}

func (s *sink) close() {
	s.once.Do(func() {
		close(s.done)
	})
}

func (s *sink) closed() <-chan struct{} {
	return s.done
}
