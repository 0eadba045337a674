package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kabili207/lorastar-go/core/codec"
	"github.com/kabili207/lorastar-go/core/crypto"
)

const masterSecretEnv = "LORASTAR_MASTER_SECRET"

var (
	deriveNodes   []uint
	sharedPrivate string
	sharedPeer    string
	sharedNode    uint8
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Provision link keys",
}

var keysDeriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Derive link keys from the master secret",
	Long: `Print the broadcast key and the key of every --node, derived from the
master secret with HKDF-SHA256. The output can be passed back as --key flags.`,
	RunE: runKeysDerive,
}

var keysIdentityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Generate an Ed25519 provisioning identity",
	RunE:  runKeysIdentity,
}

var keysSharedCmd = &cobra.Command{
	Use:   "shared",
	Short: "Derive a node link key from two identities",
	Long: `Compute the X25519 shared secret between a private identity and a peer's
public key, then derive the link key for --node from it. The gateway and the
node arrive at the same key from opposite sides.`,
	RunE: runKeysShared,
}

func init() {
	keysDeriveCmd.Flags().UintSliceVar(&deriveNodes, "node", nil, "Node IDs to derive keys for")

	keysSharedCmd.Flags().StringVar(&sharedPrivate, "private", "", "Hex-encoded 64-byte Ed25519 private key")
	keysSharedCmd.Flags().StringVar(&sharedPeer, "peer", "", "Hex-encoded 32-byte Ed25519 public key of the peer")
	keysSharedCmd.Flags().Uint8Var(&sharedNode, "node", 0, "Node ID the key is for")

	keysCmd.AddCommand(keysDeriveCmd, keysIdentityCmd, keysSharedCmd)
	rootCmd.AddCommand(keysCmd)
}

func runKeysDerive(cmd *cobra.Command, args []string) error {
	secret, err := loadMasterSecret()
	if err != nil {
		return err
	}
	if secret == nil {
		return errors.New("no master secret: set --master-secret or " + masterSecretEnv)
	}
	nodes, err := parseNodes(deriveNodes)
	if err != nil {
		return err
	}
	for _, slot := range append([]uint8{crypto.BroadcastKeyIndex}, nodes...) {
		k, err := crypto.DeriveLinkKey(secret, networkID, slot)
		if err != nil {
			return err
		}
		fmt.Printf("--key %d=%s\n", slot, hex.EncodeToString(k))
	}
	return nil
}

func runKeysIdentity(cmd *cobra.Command, args []string) error {
	id, err := crypto.GenerateIdentity()
	if err != nil {
		return err
	}
	fmt.Printf("private: %s\n", hex.EncodeToString(id.Private))
	fmt.Printf("public:  %s\n", hex.EncodeToString(id.Public))
	return nil
}

func runKeysShared(cmd *cobra.Command, args []string) error {
	if !codec.IsUnicast(sharedNode) {
		return fmt.Errorf("--node must be between %d and %d", codec.MinNodeID, codec.MaxNodeID)
	}
	priv, err := hex.DecodeString(sharedPrivate)
	if err != nil {
		return fmt.Errorf("--private: %w", err)
	}
	peer, err := hex.DecodeString(sharedPeer)
	if err != nil {
		return fmt.Errorf("--peer: %w", err)
	}
	id, err := crypto.IdentityFromPrivateKey(priv)
	if err != nil {
		return err
	}
	secret, err := id.SharedSecret(peer)
	if err != nil {
		return err
	}
	k, err := crypto.DeriveLinkKey(secret, networkID, sharedNode)
	if err != nil {
		return err
	}
	fmt.Printf("--key %d=%s\n", sharedNode, hex.EncodeToString(k))
	return nil
}

// loadMasterSecret returns the decoded master secret, or nil if none is set.
func loadMasterSecret() ([]byte, error) {
	s := masterSecret
	if s == "" {
		s = os.Getenv(masterSecretEnv)
	}
	if s == "" {
		return nil, nil
	}
	secret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("master secret: %w", err)
	}
	return secret, nil
}

// loadKeys builds the key table from the master secret and --key flags. Keys
// given explicitly override derived ones.
func loadKeys(nodes []uint8) (*crypto.KeyTable, error) {
	secret, err := loadMasterSecret()
	if err != nil {
		return nil, err
	}
	table := crypto.NewKeyTable()
	if secret != nil {
		if table, err = crypto.DeriveKeyTable(secret, networkID, nodes...); err != nil {
			return nil, err
		}
	}
	for _, kv := range keyFlags {
		id, key, err := parseKeyFlag(kv)
		if err != nil {
			return nil, err
		}
		if err := table.Set(id, key); err != nil {
			return nil, fmt.Errorf("--key %d: %w", id, err)
		}
	}
	if _, err := table.KeyFor(codec.BroadcastID); err != nil {
		return nil, errors.New("no broadcast key: set --master-secret or --key 0=<hex>")
	}
	return table, nil
}

// parseKeyFlag parses "<id>=<hex>". The ID "broadcast" selects slot 0.
func parseKeyFlag(s string) (uint8, []byte, error) {
	idStr, keyHex, ok := strings.Cut(s, "=")
	if !ok {
		return 0, nil, fmt.Errorf("--key %q: want <id>=<hex>", s)
	}
	var id uint8
	if idStr == "broadcast" {
		id = crypto.BroadcastKeyIndex
	} else {
		v, err := strconv.ParseUint(idStr, 10, 8)
		if err != nil {
			return 0, nil, fmt.Errorf("--key %q: bad id: %w", s, err)
		}
		id = uint8(v)
		if id != crypto.BroadcastKeyIndex && id != codec.BroadcastID && !codec.IsUnicast(id) {
			return 0, nil, fmt.Errorf("--key %q: id out of range", s)
		}
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return 0, nil, fmt.Errorf("--key %q: %w", s, err)
	}
	if len(key) != 16 && len(key) != 32 {
		return 0, nil, fmt.Errorf("--key %q: %w", s, crypto.ErrInvalidKeySize)
	}
	return id, key, nil
}

// parseNodes validates a list of unicast node IDs.
func parseNodes(ids []uint) ([]uint8, error) {
	out := make([]uint8, 0, len(ids))
	for _, id := range ids {
		if id > codec.MaxNodeID || !codec.IsUnicast(uint8(id)) {
			return nil, fmt.Errorf("invalid node ID %d", id)
		}
		out = append(out, uint8(id))
	}
	return out, nil
}
