package storage

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrNoCredentialKey is returned when sealed credentials are read or
// credentials are written without a configured key.
var ErrNoCredentialKey = errors.New("no credential key configured")

const sealedPrefix = "sealed:v1:"

// CredentialBox seals connection credentials with XChaCha20-Poly1305.
type CredentialBox struct {
	aead cipher.AEAD
}

// ParseCredentialKey decodes a base64 encoded 32 byte key.
func ParseCredentialKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode credential key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("credential key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

func NewCredentialBox(key []byte) (*CredentialBox, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	return &CredentialBox{aead: aead}, nil
}

// Seal encrypts plain under a random nonce and returns printable text.
func (b *CredentialBox) Seal(plain []byte) ([]byte, error) {
	if b == nil {
		return nil, ErrNoCredentialKey
	}
	nonce := make([]byte, b.aead.NonceSize(), b.aead.NonceSize()+len(plain)+b.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	sealed := b.aead.Seal(nonce, nonce, plain, nil)
	return []byte(sealedPrefix + base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open reverses Seal. Data written before sealing was introduced is
// returned unchanged so existing rows stay readable until rewritten.
func (b *CredentialBox) Open(data []byte) ([]byte, error) {
	if !IsSealed(data) {
		return data, nil
	}
	if b == nil {
		return nil, ErrNoCredentialKey
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(string(data), sealedPrefix))
	if err != nil {
		return nil, fmt.Errorf("decode sealed credentials: %w", err)
	}
	n := b.aead.NonceSize()
	if len(raw) < n+b.aead.Overhead() {
		return nil, errors.New("sealed credentials too short")
	}
	plain, err := b.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("open sealed credentials: %w", err)
	}
	return plain, nil
}

func IsSealed(data []byte) bool {
	return strings.HasPrefix(string(data), sealedPrefix)
}

// Option configures a store.
type Option func(*storeOptions)

type storeOptions struct {
	box *CredentialBox
}

// WithCredentialBox seals credentials written by the store and opens
// sealed ones it reads.
func WithCredentialBox(box *CredentialBox) Option {
	return func(o *storeOptions) { o.box = box }
}

func applyOptions(opts []Option) storeOptions {
	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
