package loops

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"securebus/buslog"
	"securebus/crypto"
	"securebus/security"
	"securebus/token"
)

var (
	ErrSandboxInactive       = errors.New("loops: sandbox not active")
	ErrInvalidToken          = errors.New("loops: token validation failed")
	ErrComponentNotPermitted = errors.New("loops: component not permitted on this loop")
	ErrDestinationNotFound   = errors.New("loops: destination not found")
)

// Message is one routed unit. The payload is sealed under the loop's key.
type Message struct {
	From    string
	To      string
	Payload []byte
}

// Mailbox receives messages routed to a registered node.
type Mailbox interface {
	Deliver(msg Message)
}

// MailboxFunc adapts a function to the Mailbox interface.
type MailboxFunc func(msg Message)

func (f MailboxFunc) Deliver(msg Message) { f(msg) }

// Loop routes sealed messages between the named nodes of one traffic
// class. Send and registration require the sandbox gates open; any
// authorization failure is signalled to the honeypot.
type Loop struct {
	kind     LoopKind
	sandbox  *SandboxState
	tokens   *token.TokenManager
	creds    *token.CredentialIssuer
	honeypot *security.Honeypot
	key      *crypto.CryptoKey
	log      *buslog.Logger

	permitted map[token.ComponentKind]bool

	mu    sync.Mutex
	nodes map[string]Mailbox
}

// NewLoop builds the loop for one traffic class. The permitted set lists
// the component kinds whose credentials admit external traffic.
func NewLoop(kind LoopKind, sandbox *SandboxState, masterKey string, tokens *token.TokenManager, creds *token.CredentialIssuer, honeypot *security.Honeypot, permitted []token.ComponentKind, log *buslog.Logger) (*Loop, error) {
	key, err := crypto.NewCryptoKey(masterKey, "loop:"+kind.String())
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = buslog.Nop()
	}
	permittedSet := make(map[token.ComponentKind]bool, len(permitted))
	for _, c := range permitted {
		permittedSet[c] = true
	}
	return &Loop{
		kind:      kind,
		sandbox:   sandbox,
		tokens:    tokens,
		creds:     creds,
		honeypot:  honeypot,
		key:       key,
		log:       log,
		permitted: permittedSet,
		nodes:     make(map[string]Mailbox),
	}, nil
}

// Kind returns the loop's traffic class.
func (l *Loop) Kind() LoopKind {
	return l.kind
}

// RegisterNode adds a named node. Registration is itself sandbox-gated.
func (l *Loop) RegisterNode(id string, mailbox Mailbox) error {
	if err := l.ensureActive(); err != nil {
		return err
	}
	l.mu.Lock()
	l.nodes[id] = mailbox
	l.mu.Unlock()
	return nil
}

// ListNodes returns the registered node ids, sorted.
func (l *Loop) ListNodes() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.nodes))
	for id := range l.nodes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SendMessage seals payload under the loop key and delivers it to the
// destination node's mailbox. The bearer token must validate.
func (l *Loop) SendMessage(from, to string, payload []byte, bearer string) error {
	if err := l.ensureActive(); err != nil {
		return err
	}
	if !l.tokens.Validate(bearer) {
		l.signalIntrusion("send with invalid token", from)
		return ErrInvalidToken
	}

	l.mu.Lock()
	mailbox, ok := l.nodes[to]
	l.mu.Unlock()
	if !ok {
		l.signalIntrusion("send to unknown destination", from)
		return fmt.Errorf("%w: %s", ErrDestinationNotFound, to)
	}

	sealed, err := l.key.Encrypt(payload)
	if err != nil {
		return err
	}
	mailbox.Deliver(Message{From: from, To: to, Payload: []byte(sealed)})
	return nil
}

// ReceiveExternalToken admits a component credential arriving from outside
// the loop: it must verify, name a permitted component kind, and target a
// registered node.
func (l *Loop) ReceiveExternalToken(to string, credential []byte) error {
	if err := l.ensureActive(); err != nil {
		return err
	}

	claims, err := l.creds.Verify(string(credential))
	if err != nil {
		l.signalIntrusion("external credential rejected", to)
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !l.permitted[claims.Component] {
		l.signalIntrusion("component kind not permitted", to)
		return fmt.Errorf("%w: %s", ErrComponentNotPermitted, claims.Component)
	}

	l.mu.Lock()
	_, ok := l.nodes[to]
	l.mu.Unlock()
	if !ok {
		l.signalIntrusion("external token for unknown destination", to)
		return fmt.Errorf("%w: %s", ErrDestinationNotFound, to)
	}
	return nil
}

// DecryptMessage opens a payload sealed by this loop.
func (l *Loop) DecryptMessage(sealed []byte) ([]byte, error) {
	return l.key.Decrypt(string(sealed))
}

func (l *Loop) ensureActive() error {
	if !l.sandbox.TransportActive() || !l.sandbox.LoopActive(l.kind) {
		return fmt.Errorf("%w: loop %s", ErrSandboxInactive, l.kind)
	}
	return nil
}

func (l *Loop) signalIntrusion(reason, actor string) {
	l.honeypot.SignalAttempt()
	l.log.Security("loop authorization failure",
		zap.String("loop", l.kind.String()),
		zap.String("actor", actor),
		zap.String("reason", reason),
	)
}
