package core

// identity.go — Decentralized identities for agents.
//
// Two DID methods are supported, both backed by real asymmetric signatures
// (the distilled source mixed a genuine RSA-PSS scheme on its identity type
// with a plain hash-compare on its message type; this rewrite unifies on
// one real scheme per method):
//
//   did:key:<16-char-urlsafe-base64-prefix-of-the-Ed25519-public-key>
//   did:ethr:0x<40-hex-char-keccak256-derived-address>
//
// did:key identities sign with Ed25519. did:ethr identities sign with ECDSA
// over secp256k1, matching how Ethereum-style addresses are conventionally
// derived and signed in the Go ecosystem.

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

// MethodKey and MethodEthr are the supported DID method names.
const (
	MethodKey  = "key"
	MethodEthr = "ethr"
)

// Identity binds a DID to key material and a verification lifecycle.
// PrivateKey material is present only for the identity's owning agent;
// identities derived from a remote peer's public key leave it nil.
type Identity struct {
	DID                string
	Method             string
	PublicKeyBytes     []byte
	VerificationStatus VerificationStatus
	CreatedAt          time.Time
	Metadata           map[string]string

	ed25519Priv ed25519.PrivateKey
	ecdsaPriv   *ecdsa.PrivateKey
}

// CreateKeyIdentity generates a fresh Ed25519 key-pair and derives a
// did:key identity from it, immediately marked verified: the identity is
// self-asserted at creation time, exactly as the agent that owns the
// private key is the only party that could have produced it.
func CreateKeyIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate ed25519 key: %w", err)
	}
	return &Identity{
		DID:                didKeyFromPublicKey(pub),
		Method:             MethodKey,
		PublicKeyBytes:     append([]byte(nil), pub...),
		VerificationStatus: StatusVerified,
		CreatedAt:          now(),
		Metadata:           map[string]string{},
		ed25519Priv:        priv,
	}, nil
}

// CreateEthrIdentity generates a fresh secp256k1 key-pair and derives a
// did:ethr identity from it.
func CreateEthrIdentity() (*Identity, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("identity: generate secp256k1 key: %w", err)
	}
	pub := priv.PubKey().SerializeUncompressed()
	return &Identity{
		DID:                didEthrFromPublicKey(pub),
		Method:             MethodEthr,
		PublicKeyBytes:     pub,
		VerificationStatus: StatusVerified,
		CreatedAt:          now(),
		Metadata:           map[string]string{},
		ecdsaPriv:          priv.ToECDSA(),
	}, nil
}

// IdentityFromPublicKey reconstructs a public-only Identity (no signing
// capability) for a remote peer, given its DID method and raw public key,
// so a peer's identity can be held without its private key material. The
// returned Identity has an empty VerificationStatus.
func IdentityFromPublicKey(method string, pub []byte) (*Identity, error) {
	switch method {
	case MethodKey:
		if len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("identity: did:key expects a %d-byte public key, got %d", ed25519.PublicKeySize, len(pub))
		}
		return &Identity{
			DID:            didKeyFromPublicKey(pub),
			Method:         MethodKey,
			PublicKeyBytes: append([]byte(nil), pub...),
			CreatedAt:      now(),
			Metadata:       map[string]string{},
		}, nil
	case MethodEthr:
		return &Identity{
			DID:            didEthrFromPublicKey(pub),
			Method:         MethodEthr,
			PublicKeyBytes: append([]byte(nil), pub...),
			CreatedAt:      now(),
			Metadata:       map[string]string{},
		}, nil
	default:
		return nil, fmt.Errorf("identity: unsupported DID method %q", method)
	}
}

// Sign produces an asymmetric signature over digest using whichever key
// material this identity owns. Returns ErrNoPrivateKey if this identity was
// constructed from a public key alone.
func (id *Identity) Sign(digest []byte) ([]byte, error) {
	switch id.Method {
	case MethodKey:
		if id.ed25519Priv == nil {
			return nil, ErrNoPrivateKey
		}
		return ed25519.Sign(id.ed25519Priv, digest), nil
	case MethodEthr:
		if id.ecdsaPriv == nil {
			return nil, ErrNoPrivateKey
		}
		sig, err := ecdsa.SignASN1(rand.Reader, id.ecdsaPriv, digest)
		if err != nil {
			return nil, fmt.Errorf("identity: ecdsa sign: %w", err)
		}
		return sig, nil
	default:
		return nil, fmt.Errorf("identity: unsupported DID method %q", id.Method)
	}
}

// Verify checks sig against digest using this identity's public key. It does
// NOT consult VerificationStatus; callers that need the "verified sender
// only" rule (Message.Verify, Hub routing) check that separately and raise
// a SecurityError rather than silently returning false.
func (id *Identity) Verify(digest, sig []byte) bool {
	switch id.Method {
	case MethodKey:
		if len(id.PublicKeyBytes) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(id.PublicKeyBytes), digest, sig)
	case MethodEthr:
		pub, err := secp256k1.ParsePubKey(id.PublicKeyBytes)
		if err != nil {
			return false
		}
		ecdsaPub := pub.ToECDSA()
		return ecdsa.VerifyASN1(ecdsaPub, digest, sig)
	default:
		return false
	}
}

// ErrNoPrivateKey is returned when signing is attempted on a public-key-only
// Identity.
var ErrNoPrivateKey = fmt.Errorf("identity: private key not available")

func didKeyFromPublicKey(pub []byte) string {
	fp := base64.RawURLEncoding.EncodeToString(pub)
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return "did:key:" + fp
}

func didEthrFromPublicKey(uncompressedPub []byte) string {
	// Skip the leading 0x04 uncompressed-point prefix before hashing, matching
	// the conventional Ethereum address derivation.
	body := uncompressedPub
	if len(body) == 65 && body[0] == 0x04 {
		body = body[1:]
	}
	h := make([]byte, 32)
	sum := sha3.NewLegacyKeccak256()
	sum.Write(body)
	sum.Sum(h[:0])
	return "did:ethr:0x" + hex.EncodeToString(h[12:32])
}

// ParseDID splits a "did:<method>:<value>" string into its method and value.
func ParseDID(s string) (method, value string, err error) {
	const prefix = "did:"
	if !strings.HasPrefix(s, prefix) {
		return "", "", fmt.Errorf("did: invalid format %q", s)
	}
	rest := s[len(prefix):]
	idx := strings.IndexByte(rest, ':')
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", fmt.Errorf("did: invalid format %q", s)
	}
	return rest[:idx], rest[idx+1:], nil
}

// ValidateDIDFormat checks that did is a structurally well-formed did:key or
// did:ethr string (the "format check" half of Registry.Register's identity
// verification). It does not re-derive the DID from a public key — that is
// a method-specific resolution step left to the caller.
func ValidateDIDFormat(did string) error {
	method, value, err := ParseDID(did)
	if err != nil {
		return err
	}
	switch method {
	case MethodKey:
		if len(value) != 16 {
			return fmt.Errorf("did:key: expected a 16-character fingerprint, got %d characters", len(value))
		}
	case MethodEthr:
		if !strings.HasPrefix(value, "0x") || len(value) != 42 {
			return fmt.Errorf("did:ethr: expected 0x-prefixed 40-hex-char address, got %q", value)
		}
		if _, err := hex.DecodeString(value[2:]); err != nil {
			return fmt.Errorf("did:ethr: address is not valid hex: %w", err)
		}
	default:
		return fmt.Errorf("did: unsupported method %q", method)
	}
	return nil
}
