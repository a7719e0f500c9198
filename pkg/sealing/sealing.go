// Package sealing provides authenticated encryption of record payloads and
// keyed blind indexes for searchable identifiers.
//
// Key material is injected by the caller. This package never derives, persists
// or rotates keys.
package sealing

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/chacha20poly1305"
)

const version byte = 1

// KeyHandle seals and opens payloads bound to associated data.
type KeyHandle interface {
	// KeyID identifies the key material for audit and rotation tooling.
	KeyID() string
	// Seal encrypts plaintext and authenticates aad alongside it.
	Seal(plaintext, aad []byte) ([]byte, error)
	// Open reverses Seal. The same aad must be supplied.
	Open(sealed, aad []byte) ([]byte, error)
	// BlindIndex returns a deterministic keyed digest of value for equality lookups.
	BlindIndex(value string) string
}

type handle struct {
	keyID    string
	key      []byte
	indexKey []byte
}

// New creates a KeyHandle from a finalized Config.
func New(cfg *Config) (KeyHandle, error) {
	key, indexKey, err := cfg.decode()
	if err != nil {
		return nil, err
	}
	return NewFromKeys(cfg.KeyID, key, indexKey)
}

// NewFromKeys creates a KeyHandle from raw 32-byte keys.
func NewFromKeys(keyID string, key, indexKey []byte) (KeyHandle, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("%w: encryption key must be %d bytes", ErrInvalidKey, chacha20poly1305.KeySize)
	}
	if len(indexKey) != 32 {
		return nil, fmt.Errorf("%w: index key must be 32 bytes", ErrInvalidKey)
	}

	return &handle{
		keyID:    keyID,
		key:      append([]byte(nil), key...),
		indexKey: append([]byte(nil), indexKey...),
	}, nil
}

// GenerateKey returns 32 random bytes suitable for either key slot.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

func (h *handle) KeyID() string {
	return h.keyID
}

// Sealed layout: version || nonce || ciphertext+tag.
func (h *handle) Seal(plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(h.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	out := make([]byte, 1+aead.NonceSize(), 1+aead.NonceSize()+len(plaintext)+aead.Overhead())
	out[0] = version
	if _, err := rand.Read(out[1:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(out, out[1:], plaintext, aad), nil
}

func (h *handle) Open(sealed, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(h.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	if len(sealed) < 1+aead.NonceSize()+aead.Overhead() || sealed[0] != version {
		return nil, ErrMalformed
	}

	nonce := sealed[1 : 1+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, sealed[1+aead.NonceSize():], aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// BlindIndex normalizes value by trimming and upper-casing before hashing.
func (h *handle) BlindIndex(value string) string {
	mac, _ := blake2b.New256(h.indexKey)
	mac.Write([]byte(strings.ToUpper(strings.TrimSpace(value))))
	return hex.EncodeToString(mac.Sum(nil))
}

// AAD builds associated data binding a payload to its entity kind and id.
func AAD(kind, id string) []byte {
	return []byte(kind + ":" + id)
}

// SealJSON marshals v and seals the result.
func SealJSON(h KeyHandle, v any, aad []byte) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return h.Seal(data, aad)
}

// OpenJSON opens sealed and unmarshals the plaintext into T.
func OpenJSON[T any](h KeyHandle, sealed, aad []byte) (T, error) {
	var v T
	data, err := h.Open(sealed, aad)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}
