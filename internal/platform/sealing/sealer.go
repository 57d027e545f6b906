package sealing

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	jose "github.com/go-jose/go-jose/v4"
)

var (
	// ErrKeyRequired is returned when no sealing secret is configured.
	ErrKeyRequired = errors.New("sealing: key required")
	// ErrInvalidSealedValue is returned when a value cannot be decrypted with the configured key.
	ErrInvalidSealedValue = errors.New("sealing: invalid sealed value")
)

// Sealer encrypts short secrets (backend tokens, cookie jars) as compact JWE using direct
// key agreement and AES-256-GCM.
type Sealer struct {
	key []byte
}

// NewSealer derives a 256-bit key from secret.
func NewSealer(secret string) (*Sealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrKeyRequired
	}
	sum := sha256.Sum256([]byte(secret))
	return &Sealer{key: sum[:]}, nil
}

// Seal encrypts plaintext. Empty input seals to an empty string.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if s == nil || len(s.key) == 0 {
		return "", ErrKeyRequired
	}
	encrypter, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: s.key}, nil)
	if err != nil {
		return "", fmt.Errorf("sealing: build encrypter: %w", err)
	}
	object, err := encrypter.Encrypt([]byte(plaintext))
	if err != nil {
		return "", fmt.Errorf("sealing: encrypt: %w", err)
	}
	return object.CompactSerialize()
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if s == nil || len(s.key) == 0 {
		return "", ErrKeyRequired
	}
	object, err := jose.ParseEncrypted(sealed, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSealedValue, err)
	}
	plaintext, err := object.Decrypt(s.key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSealedValue, err)
	}
	return string(plaintext), nil
}
