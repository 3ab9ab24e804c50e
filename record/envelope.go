// Package record implements the authenticated record layer: directional
// pipelines that frame, authenticate and encrypt payloads between loop
// endpoints, with replay protection and local abuse controls.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Envelope layout: sequence (8 bytes little-endian), HMAC-SHA256 tag
// (32 bytes), then the plaintext payload.
const (
	seqLen           = 8
	tagLen           = 32
	envelopeOverhead = seqLen + tagLen
)

var ErrMalformedEnvelope = errors.New("record: malformed envelope")

func packEnvelope(sequence uint64, tag, payload []byte) []byte {
	out := make([]byte, envelopeOverhead+len(payload))
	binary.LittleEndian.PutUint64(out[:seqLen], sequence)
	copy(out[seqLen:envelopeOverhead], tag)
	copy(out[envelopeOverhead:], payload)
	return out
}

func splitEnvelope(frame []byte) (sequence uint64, tag, payload []byte, err error) {
	if len(frame) < envelopeOverhead {
		return 0, nil, nil, fmt.Errorf("%w: %d bytes", ErrMalformedEnvelope, len(frame))
	}
	sequence = binary.LittleEndian.Uint64(frame[:seqLen])
	tag = frame[seqLen:envelopeOverhead]
	payload = frame[envelopeOverhead:]
	return sequence, tag, payload, nil
}
