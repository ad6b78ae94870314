package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Keystore encrypts private key material with the server-held symmetric
// key (AES-256-GCM). Ciphertext layout: base64(nonce || sealed).
type Keystore struct {
	aead cipher.AEAD
}

// NewKeystore builds the keystore from a 32-byte hex encryption key.
func NewKeystore(encryptionKeyHex string) (*Keystore, error) {
	key, err := hex.DecodeString(strip0x(encryptionKeyHex))
	if err != nil {
		return nil, fmt.Errorf("invalid key encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("key encryption key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}

	return &Keystore{aead: aead}, nil
}

// Encrypt seals raw private key bytes.
func (k *Keystore) Encrypt(raw []byte) (string, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := k.aead.Seal(nil, nonce, raw, nil)
	return base64.StdEncoding.EncodeToString(append(nonce, sealed...)), nil
}

// Open decrypts into a Secret. The caller owns the Secret and must Zero
// it on all exit paths, including error paths.
func (k *Keystore) Open(encrypted string) (*Secret, error) {
	blob, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("invalid encrypted key encoding: %w", err)
	}
	nonceSize := k.aead.NonceSize()
	if len(blob) <= nonceSize {
		return nil, fmt.Errorf("encrypted key too short")
	}

	raw, err := k.aead.Open(nil, blob[:nonceSize], blob[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt private key: %w", err)
	}

	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		zero(raw)
		return nil, fmt.Errorf("decrypted key is not a valid secp256k1 key: %w", err)
	}

	return &Secret{raw: raw, key: priv}, nil
}

// Secret scoped in-memory private key. Never logged, never persisted,
// never returned across an API boundary.
type Secret struct {
	raw []byte
	key *ecdsa.PrivateKey
}

// ECDSA returns the parsed key for signing.
func (s *Secret) ECDSA() *ecdsa.PrivateKey {
	return s.key
}

// Zero wipes the raw key bytes and the scalar.
func (s *Secret) Zero() {
	if s == nil {
		return
	}
	zero(s.raw)
	if s.key != nil && s.key.D != nil {
		s.key.D.SetInt64(0)
	}
	s.key = nil
}
