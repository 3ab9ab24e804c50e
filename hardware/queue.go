// Package hardware defines the narrow interface through which the bus
// reaches device control, together with a bounded in-memory queue for
// embedding environments that have no real hardware bridge behind them.
package hardware

import (
	"errors"
	"sync"
	"time"
)

const (
	// DefaultQueueCapacity bounds pending requests and responses.
	DefaultQueueCapacity = 1024
)

var ErrQueueFull = errors.New("hardware: request queue full")

// Request is one queued hardware command.
type Request struct {
	ID      uint64
	Command string
	Params  map[string]string
	Timeout time.Duration
}

// Response is the reply for a processed request.
type Response struct {
	RequestID uint64
	Success   bool
	Data      uint32
	Err       string
}

// CommandQueue is the interface the orchestrator uses to reach device
// control. It never interprets commands; the driver side does.
type CommandQueue interface {
	Enqueue(command string, params map[string]string, timeout time.Duration) (uint64, error)
	DequeueResponse() (*Response, bool)
}

// QueueStats counts queue activity since construction.
type QueueStats struct {
	PendingRequests  int
	PendingResponses int
	TotalRequests    uint64
	TotalResponses   uint64
	Rejected         uint64
}

// MemoryQueue is a bounded in-memory CommandQueue. The producer side is
// this module; the consumer side (a driver loop) drains requests with
// DequeueRequest and pushes replies with CompleteRequest.
type MemoryQueue struct {
	mu        sync.Mutex
	requests  []Request
	responses []Response
	capacity  int
	nextID    uint64
	stats     QueueStats
}

// NewMemoryQueue builds a queue bounded at capacity entries per direction.
// Non-positive capacity uses the default.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &MemoryQueue{capacity: capacity, nextID: 1}
}

// Enqueue adds a request and returns its id. Fails when the queue is at
// capacity; the caller decides whether to retry.
func (q *MemoryQueue) Enqueue(command string, params map[string]string, timeout time.Duration) (uint64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.requests) >= q.capacity {
		q.stats.Rejected++
		return 0, ErrQueueFull
	}
	id := q.nextID
	q.nextID++

	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}
	q.requests = append(q.requests, Request{
		ID:      id,
		Command: command,
		Params:  copied,
		Timeout: timeout,
	})
	q.stats.TotalRequests++
	return id, nil
}

// DequeueRequest pops the oldest pending request. Called by the driver
// side.
func (q *MemoryQueue) DequeueRequest() (*Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.requests) == 0 {
		return nil, false
	}
	req := q.requests[0]
	q.requests = q.requests[1:]
	return &req, true
}

// CompleteRequest queues the reply for a processed request. Replies past
// capacity are dropped and counted as rejected.
func (q *MemoryQueue) CompleteRequest(resp Response) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.responses) >= q.capacity {
		q.stats.Rejected++
		return ErrQueueFull
	}
	q.responses = append(q.responses, resp)
	q.stats.TotalResponses++
	return nil
}

// DequeueResponse pops the oldest pending reply.
func (q *MemoryQueue) DequeueResponse() (*Response, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.responses) == 0 {
		return nil, false
	}
	resp := q.responses[0]
	q.responses = q.responses[1:]
	return &resp, true
}

// Flush drops all pending requests and responses and returns how many
// were dropped.
func (q *MemoryQueue) Flush() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.requests) + len(q.responses)
	q.requests = nil
	q.responses = nil
	return dropped
}

// Stats returns a snapshot of queue counters.
func (q *MemoryQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := q.stats
	stats.PendingRequests = len(q.requests)
	stats.PendingResponses = len(q.responses)
	return stats
}
