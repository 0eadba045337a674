package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// LinkKeySize is the size of derived link keys (AES-256).
const LinkKeySize = 32

// linkKeyInfo domain-separates link keys from any other HKDF use of the
// same secret.
const linkKeyInfo = "lorastar link key v1"

var (
	ErrInvalidPubKeySize  = errors.New("invalid public key size: expected 32 bytes")
	ErrInvalidPrivKeySize = errors.New("invalid private key size: expected 64 bytes")
	ErrEmptySecret        = errors.New("secret must not be empty")
)

// Identity is an Ed25519 key pair identifying a gateway or node for key
// provisioning. It is never used on the air.
type Identity struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateIdentity creates a new random identity.
func GenerateIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity: %w", err)
	}
	return &Identity{Public: pub, Private: priv}, nil
}

// IdentityFromPrivateKey rebuilds an identity from a 64-byte Ed25519 private
// key in Go's seed||public format.
func IdentityFromPrivateKey(priv []byte) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivKeySize
	}
	p := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(p, priv)
	return &Identity{Public: p.Public().(ed25519.PublicKey), Private: p}, nil
}

// SharedSecret performs X25519 ECDH between this identity and a peer's
// Ed25519 public key.
func (id *Identity) SharedSecret(peerPub []byte) ([]byte, error) {
	if len(peerPub) != ed25519.PublicKeySize {
		return nil, ErrInvalidPubKeySize
	}
	scalar, err := montgomeryPrivate(id.Private)
	if err != nil {
		return nil, err
	}
	point, err := montgomeryPublic(peerPub)
	if err != nil {
		return nil, err
	}
	secret, err := curve25519.X25519(scalar, point)
	if err != nil {
		return nil, fmt.Errorf("ECDH failed: %w", err)
	}
	return secret, nil
}

// montgomeryPublic maps an Ed25519 public key onto Curve25519.
func montgomeryPublic(edPub []byte) ([]byte, error) {
	p, err := new(edwards25519.Point).SetBytes(edPub)
	if err != nil {
		return nil, fmt.Errorf("invalid Ed25519 public key: %w", err)
	}
	return p.BytesMontgomery(), nil
}

// montgomeryPrivate derives the clamped X25519 scalar of an Ed25519 private
// key (RFC 8032 section 5.1.5).
func montgomeryPrivate(edPriv ed25519.PrivateKey) ([]byte, error) {
	if len(edPriv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivKeySize
	}
	h := sha512.Sum512(edPriv.Seed())
	h[0] &= 248
	h[31] &= 127
	h[31] |= 64
	return h[:32], nil
}

// DeriveLinkKey derives the symmetric key for one slot of a network's key
// table using HKDF-SHA256. Slot 0 is the broadcast key. The secret is either
// a deployment master secret or an ECDH shared secret.
func DeriveLinkKey(secret []byte, networkID, slot uint8) ([]byte, error) {
	if len(secret) == 0 {
		return nil, ErrEmptySecret
	}
	info := append([]byte(linkKeyInfo), networkID, slot)
	r := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, LinkKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// DeriveKeyTable fills a key table for the given slots from a master secret.
// The broadcast slot is always included.
func DeriveKeyTable(secret []byte, networkID uint8, slots ...uint8) (*KeyTable, error) {
	t := NewKeyTable()
	all := append([]uint8{BroadcastKeyIndex}, slots...)
	for _, s := range all {
		k, err := DeriveLinkKey(secret, networkID, s)
		if err != nil {
			return nil, err
		}
		if err := t.Set(s, k); err != nil {
			return nil, err
		}
	}
	return t, nil
}
