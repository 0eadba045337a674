package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
)

func TestGenerateIdentity(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}
	if len(id.Public) != ed25519.PublicKeySize {
		t.Errorf("Public length = %d, want %d", len(id.Public), ed25519.PublicKeySize)
	}

	other, err := GenerateIdentity()
	if err != nil {
		t.Fatal(err)
	}
	if id.Public.Equal(other.Public) {
		t.Error("two generated identities should not be equal")
	}
}

func TestIdentityFromPrivateKey(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(rand.Reader)

	id, err := IdentityFromPrivateKey(priv)
	if err != nil {
		t.Fatalf("IdentityFromPrivateKey() error = %v", err)
	}
	if !id.Public.Equal(pub) {
		t.Error("reconstructed public key does not match original")
	}

	if _, err := IdentityFromPrivateKey(make([]byte, 32)); err != ErrInvalidPrivKeySize {
		t.Errorf("error = %v, want %v", err, ErrInvalidPrivKeySize)
	}
}

func TestSharedSecret_Symmetric(t *testing.T) {
	gw, _ := GenerateIdentity()
	node, _ := GenerateIdentity()

	s1, err := gw.SharedSecret(node.Public)
	if err != nil {
		t.Fatalf("gateway SharedSecret: %v", err)
	}
	s2, err := node.SharedSecret(gw.Public)
	if err != nil {
		t.Fatalf("node SharedSecret: %v", err)
	}
	if !bytes.Equal(s1, s2) {
		t.Error("shared secrets differ")
	}
	if len(s1) != 32 {
		t.Errorf("secret length = %d, want 32", len(s1))
	}
}

func TestSharedSecret_InvalidPeer(t *testing.T) {
	id, _ := GenerateIdentity()
	if _, err := id.SharedSecret(make([]byte, 31)); err != ErrInvalidPubKeySize {
		t.Errorf("error = %v, want %v", err, ErrInvalidPubKeySize)
	}
}

func TestDeriveLinkKey(t *testing.T) {
	secret := []byte("deployment master secret")

	k1, err := DeriveLinkKey(secret, 0xF3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(k1) != LinkKeySize {
		t.Errorf("key length = %d, want %d", len(k1), LinkKeySize)
	}

	again, _ := DeriveLinkKey(secret, 0xF3, 2)
	if !bytes.Equal(k1, again) {
		t.Error("derivation is not deterministic")
	}

	otherSlot, _ := DeriveLinkKey(secret, 0xF3, 3)
	otherNet, _ := DeriveLinkKey(secret, 0xF4, 2)
	if bytes.Equal(k1, otherSlot) || bytes.Equal(k1, otherNet) {
		t.Error("keys for different slots or networks must differ")
	}

	if _, err := DeriveLinkKey(nil, 0xF3, 2); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("error = %v, want ErrEmptySecret", err)
	}
}

func TestDeriveKeyTable(t *testing.T) {
	table, err := DeriveKeyTable([]byte("secret"), 0xF3, 1, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if table.Len() != 4 {
		t.Errorf("Len() = %d, want 4 (broadcast + 3 nodes)", table.Len())
	}
	want, _ := DeriveLinkKey([]byte("secret"), 0xF3, 2)
	got, err := table.KeyFor(2)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Error("table key does not match derived key")
	}
}
