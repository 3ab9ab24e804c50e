package transport

import "sync"

// Endpoint is one side of an in-process pair. It satisfies the record
// layer's Transport on the send side and hands received frames to the
// peer's queue.
type Endpoint struct {
	mu     sync.Mutex
	peer   *Endpoint
	queue  []Frame
	closed bool
}

// Pair builds two connected in-process endpoints.
func Pair() (*Endpoint, *Endpoint) {
	a := &Endpoint{}
	b := &Endpoint{}
	a.peer = b
	b.peer = a
	return a, b
}

// Send queues a frame on the peer.
func (e *Endpoint) Send(dest string, payload []byte) error {
	e.mu.Lock()
	closed := e.closed
	peer := e.peer
	e.mu.Unlock()
	if closed {
		return ErrClosed
	}

	copied := make([]byte, len(payload))
	copy(copied, payload)

	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return ErrDeliveryFailed
	}
	peer.queue = append(peer.queue, Frame{Dest: dest, Payload: copied})
	return nil
}

// Next pops the oldest received frame, if any.
func (e *Endpoint) Next() (*Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil, false
	}
	frame := e.queue[0]
	e.queue = e.queue[1:]
	return &frame, true
}

// Close stops both directions for this endpoint.
func (e *Endpoint) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}
