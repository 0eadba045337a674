package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/kabili207/lorastar-go/core/codec"
)

const (
	// BlockSize is the cipher block size, equal to the frame size.
	BlockSize = codec.FrameSize

	// BroadcastKeyIndex is the key table slot used for broadcast frames.
	BroadcastKeyIndex = 0
)

var (
	ErrInvalidKeySize   = errors.New("invalid key size: must be 16 or 32 bytes")
	ErrUnknownPeer      = errors.New("no key for peer")
	ErrInvalidBlockSize = errors.New("cipher block size must equal the frame size")
)

// BlockFactory builds a keyed block cipher. aes.NewCipher is the default.
// The returned block is used for a single operation and then discarded, so
// key material is never held across calls.
type BlockFactory func(key []byte) (cipher.Block, error)

// KeyTable maps peer IDs to their symmetric keys. Slot 0 holds the
// broadcast key.
type KeyTable struct {
	keys map[uint8][]byte
}

// NewKeyTable creates an empty key table.
func NewKeyTable() *KeyTable {
	return &KeyTable{keys: make(map[uint8][]byte)}
}

// Set stores a key for a peer. Use BroadcastKeyIndex (or codec.BroadcastID)
// for the broadcast key.
func (t *KeyTable) Set(peer uint8, key []byte) error {
	if len(key) != 16 && len(key) != 32 {
		return ErrInvalidKeySize
	}
	if peer == codec.BroadcastID {
		peer = BroadcastKeyIndex
	}
	k := make([]byte, len(key))
	copy(k, key)
	t.keys[peer] = k
	return nil
}

// KeyFor returns the key used for frames addressed to peer. The broadcast
// peer ID maps to slot 0.
func (t *KeyTable) KeyFor(peer uint8) ([]byte, error) {
	if peer == codec.BroadcastID {
		peer = BroadcastKeyIndex
	}
	k, ok := t.keys[peer]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownPeer, peer)
	}
	return k, nil
}

// Len returns the number of keys in the table.
func (t *KeyTable) Len() int {
	return len(t.keys)
}

// Adapter encrypts and decrypts exactly one block per frame using the key
// selected for the peer.
//
// Security caveat: blocks are encrypted in ECB mode without a nonce, so
// identical frames under the same key produce identical ciphertexts.
type Adapter struct {
	keys    *KeyTable
	factory BlockFactory
}

// NewAdapter creates a cipher adapter over the key table. If factory is nil,
// AES is used.
func NewAdapter(keys *KeyTable, factory BlockFactory) *Adapter {
	if factory == nil {
		factory = aes.NewCipher
	}
	return &Adapter{keys: keys, factory: factory}
}

// Keys returns the adapter's key table.
func (a *Adapter) Keys() *KeyTable {
	return a.keys
}

// Seal encrypts a plaintext block for peer.
func (a *Adapter) Seal(peer uint8, plain *codec.Block) (codec.Block, error) {
	var out codec.Block
	key, err := a.keys.KeyFor(peer)
	if err != nil {
		return out, err
	}
	if err := EncryptBlock(a.factory, key, &out, plain); err != nil {
		return out, err
	}
	return out, nil
}

// Open decrypts a ciphertext block received from (or addressed to) peer.
func (a *Adapter) Open(peer uint8, sealed *codec.Block) (codec.Block, error) {
	var out codec.Block
	key, err := a.keys.KeyFor(peer)
	if err != nil {
		return out, err
	}
	if err := DecryptBlock(a.factory, key, &out, sealed); err != nil {
		return out, err
	}
	return out, nil
}

// EncryptBlock encrypts one block with a freshly keyed cipher.
func EncryptBlock(factory BlockFactory, key []byte, dst, src *codec.Block) error {
	block, err := keyed(factory, key)
	if err != nil {
		return err
	}
	block.Encrypt(dst[:], src[:])
	return nil
}

// DecryptBlock decrypts one block with a freshly keyed cipher.
func DecryptBlock(factory BlockFactory, key []byte, dst, src *codec.Block) error {
	block, err := keyed(factory, key)
	if err != nil {
		return err
	}
	block.Decrypt(dst[:], src[:])
	return nil
}

func keyed(factory BlockFactory, key []byte) (cipher.Block, error) {
	if len(key) != 16 && len(key) != 32 {
		return nil, ErrInvalidKeySize
	}
	block, err := factory(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	if block.BlockSize() != BlockSize {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBlockSize, block.BlockSize())
	}
	return block, nil
}
