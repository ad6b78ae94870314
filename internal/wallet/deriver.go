// Package wallet derives the one-time deposit keypairs and keeps their
// private keys encrypted at rest. Raw key bytes exist only inside a
// Secret, which callers must Zero on every exit path.
package wallet

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"
)

const derivationSalt = "offramp/deposit-wallet/v1"

// maxDerivationIndex bounds the derivation index space (2^31).
const maxDerivationIndex = 1 << 31

// DepositWallet a freshly derived deposit address. The private key is
// already encrypted; the raw key never crosses this boundary.
type DepositWallet struct {
	Address             string
	EncryptedPrivateKey string
}

// Deriver derives per-transaction deposit keypairs from the master seed.
type Deriver struct {
	seed     []byte
	keystore *Keystore
}

// NewDeriver validates the master seed and encryption key. A missing or
// short seed is fatal; transaction creation must not proceed without it.
func NewDeriver(masterSeedHex, encryptionKeyHex string) (*Deriver, error) {
	seed, err := hex.DecodeString(strip0x(masterSeedHex))
	if err != nil {
		return nil, fmt.Errorf("invalid master seed: %w", err)
	}
	if len(seed) < 32 {
		return nil, fmt.Errorf("master seed too short: need at least 32 bytes, got %d", len(seed))
	}

	keystore, err := NewKeystore(encryptionKeyHex)
	if err != nil {
		return nil, err
	}

	return &Deriver{seed: seed, keystore: keystore}, nil
}

// DerivationIndex maps a transaction id into the bounded index space via
// keccak256. Collision-resistant: distinct ids land on distinct key
// material with overwhelming probability because the id itself also
// feeds the expansion below.
func DerivationIndex(transactionID string) uint32 {
	digest := crypto.Keccak256([]byte(transactionID))
	return binary.BigEndian.Uint32(digest[:4]) % maxDerivationIndex
}

// Derive returns the deposit wallet for a transaction id. Deterministic:
// the same id always yields the same keypair.
func (d *Deriver) Derive(transactionID string) (*DepositWallet, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("transaction id is required")
	}

	index := DerivationIndex(transactionID)
	info := fmt.Sprintf("m/44'/60'/0'/0/%d/%s", index, transactionID)

	// The expansion is re-read with an attempt counter on the rare draw
	// that falls outside the secp256k1 scalar range.
	for attempt := 0; attempt < 8; attempt++ {
		reader := hkdf.New(sha256.New, d.seed, []byte(derivationSalt), []byte(fmt.Sprintf("%s#%d", info, attempt)))
		raw := make([]byte, 32)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, fmt.Errorf("key derivation failed: %w", err)
		}

		priv, err := crypto.ToECDSA(raw)
		if err != nil {
			zero(raw)
			continue
		}

		address := crypto.PubkeyToAddress(priv.PublicKey).Hex()
		encrypted, err := d.keystore.Encrypt(raw)
		zero(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt private key: %w", err)
		}

		return &DepositWallet{Address: address, EncryptedPrivateKey: encrypted}, nil
	}

	return nil, fmt.Errorf("key derivation exhausted attempts for transaction %s", transactionID)
}

// Open decrypts an encrypted private key into a Secret for transient
// in-memory use. The caller must call Secret.Zero when done.
func (d *Deriver) Open(encryptedPrivateKey string) (*Secret, error) {
	return d.keystore.Open(encryptedPrivateKey)
}

func strip0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
