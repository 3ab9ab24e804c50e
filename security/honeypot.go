package security

import (
	"fmt"
	"sync"

	"securebus/token"
)

// honeypotBatch is how many decoys are seeded at construction and added per
// recorded attempt.
const honeypotBatch = 100

// Honeypot maintains a growing set of decoy tokens. Each recorded intrusion
// attempt inflates the set, so an attacker enumerating credentials faces an
// ever larger haystack of tokens that never validate.
type Honeypot struct {
	tokens *token.TokenManager

	mu        sync.Mutex
	decoys    map[string]string
	decoySet  map[string]struct{}
	attempts  uint64
	nextID    int
	onAttempt func()
}

// NewHoneypot seeds the initial decoy batch from the token manager.
func NewHoneypot(tm *token.TokenManager) *Honeypot {
	h := &Honeypot{
		tokens:   tm,
		decoys:   make(map[string]string),
		decoySet: make(map[string]struct{}),
		nextID:   1,
	}
	h.addDecoys(honeypotBatch)
	return h
}

// SignalAttempt records one intrusion attempt and grows the decoy set so
// the total stays proportional to the attempt count.
func (h *Honeypot) SignalAttempt() {
	h.mu.Lock()
	h.attempts++
	target := int(h.attempts) * honeypotBatch
	if missing := target - len(h.decoys); missing > 0 {
		h.addDecoysLocked(missing)
	}
	notify := h.onAttempt
	h.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// OnAttempt registers a callback invoked once per recorded attempt. The
// callback runs outside the honeypot lock.
func (h *Honeypot) OnAttempt(fn func()) {
	h.mu.Lock()
	h.onAttempt = fn
	h.mu.Unlock()
}

// IsDecoy reports whether value is one of the planted decoy tokens.
func (h *Honeypot) IsDecoy(value string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.decoySet[value]
	return ok
}

// Count returns the current decoy population.
func (h *Honeypot) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.decoys)
}

// Attempts returns how many intrusion attempts have been recorded.
func (h *Honeypot) Attempts() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.attempts
}

func (h *Honeypot) addDecoys(count int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addDecoysLocked(count)
}

func (h *Honeypot) addDecoysLocked(count int) {
	for _, decoy := range h.tokens.GenerateDecoys(count) {
		id := fmt.Sprintf("hp_%08d", h.nextID)
		h.nextID++
		h.decoys[id] = decoy
		h.decoySet[decoy] = struct{}{}
	}
}
