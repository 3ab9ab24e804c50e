package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"securebus/busclock"
)

// ComponentKind identifies a class of bus component that can be admitted to
// a channel loop.
type ComponentKind string

const (
	ComponentKernel   ComponentKind = "kernel"
	ComponentAI       ComponentKind = "ai"
	ComponentDevice   ComponentKind = "device"
	ComponentNetwork  ComponentKind = "network"
	ComponentPower    ComponentKind = "power"
	ComponentIdentity ComponentKind = "identity"
	ComponentStorage  ComponentKind = "storage"
)

const credentialIssuer = "securebus"

var (
	ErrCredentialInvalid = errors.New("token: invalid component credential")
	ErrCredentialExpired = errors.New("token: component credential expired")
)

// ComponentClaims is the claim set carried by a component credential.
type ComponentClaims struct {
	Component ComponentKind `json:"cmp"`
	Instance  uint32        `json:"ins"`
	jwt.RegisteredClaims
}

// CredentialIssuer mints and verifies HS256-signed component credentials.
// Loops verify these before admitting a component as a node.
type CredentialIssuer struct {
	secret []byte
	clock  busclock.Clock
}

// NewCredentialIssuer builds an issuer from a signing secret.
func NewCredentialIssuer(secret string, clock busclock.Clock) (*CredentialIssuer, error) {
	if err := validateMasterKey(secret); err != nil {
		return nil, err
	}
	return &CredentialIssuer{
		secret: []byte(secret),
		clock:  busclock.MustClock(clock),
	}, nil
}

// Issue mints a credential for one component instance valid for ttl.
func (ci *CredentialIssuer) Issue(component ComponentKind, instance uint32, ttl time.Duration) (string, error) {
	if component == "" {
		return "", fmt.Errorf("%w: empty component kind", ErrCredentialInvalid)
	}
	now := ci.clock.Now()
	claims := ComponentClaims{
		Component: component,
		Instance:  instance,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    credentialIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ci.secret)
	if err != nil {
		return "", fmt.Errorf("token: sign credential: %w", err)
	}
	return signed, nil
}

// Verify checks the signature, issuer and expiry and returns the claims.
func (ci *CredentialIssuer) Verify(credential string) (*ComponentClaims, error) {
	claims := &ComponentClaims{}
	_, err := jwt.ParseWithClaims(credential, claims,
		func(t *jwt.Token) (interface{}, error) { return ci.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(credentialIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ci.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrCredentialExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialInvalid, err)
	}
	if claims.Component == "" {
		return nil, fmt.Errorf("%w: missing component claim", ErrCredentialInvalid)
	}
	return claims, nil
}
