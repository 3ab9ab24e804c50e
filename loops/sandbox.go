// Package loops routes traffic between the named nodes of each traffic
// class. Every loop is gated by the sandbox: nothing moves unless both the
// global transport sandbox and the loop's own flag are active.
package loops

import "sync/atomic"

// LoopKind names the closed set of traffic classes on the bus.
type LoopKind int

const (
	KernelLoop LoopKind = iota
	AILoop
	DeviceLoop
	NetworkLoop
	PowerLoop

	loopKindCount
)

func (k LoopKind) String() string {
	switch k {
	case KernelLoop:
		return "kernel"
	case AILoop:
		return "ai"
	case DeviceLoop:
		return "device"
	case NetworkLoop:
		return "network"
	case PowerLoop:
		return "power"
	default:
		return "unknown"
	}
}

// SandboxState holds the activation flags for the transport sandbox and
// each loop. One instance is shared by every loop of a bus; there is no
// process-global state.
type SandboxState struct {
	transport atomic.Bool
	perLoop   [loopKindCount]atomic.Bool
}

// NewSandboxState returns a state with everything inactive.
func NewSandboxState() *SandboxState {
	return &SandboxState{}
}

// SetTransportActive flips the global transport sandbox flag.
func (s *SandboxState) SetTransportActive(active bool) {
	s.transport.Store(active)
}

// TransportActive reports the global transport sandbox flag.
func (s *SandboxState) TransportActive() bool {
	return s.transport.Load()
}

// SetLoopActive flips one loop's sandbox flag.
func (s *SandboxState) SetLoopActive(kind LoopKind, active bool) {
	if kind >= 0 && kind < loopKindCount {
		s.perLoop[kind].Store(active)
	}
}

// LoopActive reports one loop's sandbox flag.
func (s *SandboxState) LoopActive(kind LoopKind) bool {
	if kind < 0 || kind >= loopKindCount {
		return false
	}
	return s.perLoop[kind].Load()
}

// ActivateAll turns on the transport sandbox and every loop flag.
func (s *SandboxState) ActivateAll() {
	s.transport.Store(true)
	for i := range s.perLoop {
		s.perLoop[i].Store(true)
	}
}

// SandboxLimits is the resource policy attached to a sandboxed loop. The
// bus core carries it as data; enforcement belongs to the embedding
// environment.
type SandboxLimits struct {
	MaxCPUPercent      uint32
	MaxMemoryMB        uint64
	MaxFileDescriptors uint32
	AllowedSyscalls    uint32
}

// RestrictedLimits is the tight preset.
func RestrictedLimits() SandboxLimits {
	return SandboxLimits{
		MaxCPUPercent:      50,
		MaxMemoryMB:        512,
		MaxFileDescriptors: 32,
		AllowedSyscalls:    128,
	}
}

// ModerateLimits is the relaxed preset.
func ModerateLimits() SandboxLimits {
	return SandboxLimits{
		MaxCPUPercent:      75,
		MaxMemoryMB:        1024,
		MaxFileDescriptors: 64,
		AllowedSyscalls:    256,
	}
}
