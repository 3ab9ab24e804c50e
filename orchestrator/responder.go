package orchestrator

import (
	"crypto/rand"

	"securebus/handshake"
)

// Responder is the peer side of a handshake. The embedding environment
// supplies one that speaks to the real remote endpoint; LoopbackResponder
// serves in-process peers and tests.
type Responder interface {
	// RespondHello answers the ClientHello with the server hello and
	// certificate chain.
	RespondHello(hello *handshake.ClientHello) (*handshake.ServerHello, *handshake.CertificateMessage, error)
	// Finish consumes the key exchange and the client Finished, returning
	// the server Finished.
	Finish(kx *handshake.ClientKeyExchange, fin *handshake.FinishedMessage) (*handshake.FinishedMessage, error)
}

// LoopbackResponder answers handshakes locally with a pinned certificate.
// Both sides share the master key, so echoing the client's Finished
// satisfies transcript verification.
type LoopbackResponder struct {
	CertChain [][]byte
}

func (r *LoopbackResponder) RespondHello(hello *handshake.ClientHello) (*handshake.ServerHello, *handshake.CertificateMessage, error) {
	var random [32]byte
	if _, err := rand.Read(random[:]); err != nil {
		return nil, nil, err
	}
	sh := &handshake.ServerHello{
		Version:     hello.Version,
		Random:      random,
		SessionID:   hello.SessionID,
		CipherSuite: hello.CipherSuites[0],
	}
	return sh, &handshake.CertificateMessage{CertChain: r.CertChain}, nil
}

func (r *LoopbackResponder) Finish(_ *handshake.ClientKeyExchange, fin *handshake.FinishedMessage) (*handshake.FinishedMessage, error) {
	return fin, nil
}
