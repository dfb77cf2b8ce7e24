package backend

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"strings"
)

// Constants for AES-256-GCM encryption.
const (
	NonceSize = 12
	TagSize   = 16
	KeySize   = 32
)

// Errors returned by the encryption handler.
var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrDecryptFailed     = errors.New("decryption failed: authentication error")
	ErrInvalidCiphertext = errors.New("invalid ciphertext: too short")
	ErrKeyFileNotFound   = errors.New("encryption key file not found")
	ErrInvalidKeyFormat  = errors.New("invalid key format: must be 32 bytes or 64 hex chars")
)

// Encryption seals payloads with AES-256-GCM. Each payload is stored as
// nonce (12 bytes) + ciphertext + tag (16 bytes).
type Encryption struct {
	aead cipher.AEAD
}

// NewEncryption creates an encryption handler from a raw 32-byte key.
func NewEncryption(key []byte) (*Encryption, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Encryption{aead: gcm}, nil
}

// GenerateKey generates a new random 256-bit key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, err
	}
	return key, nil
}

// LoadKeyFile reads a key file holding either 32 raw bytes or 64 hex characters.
func LoadKeyFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrKeyFileNotFound
		}
		return nil, err
	}

	if len(data) == KeySize {
		return data, nil
	}

	trimmed := []byte(strings.TrimSpace(string(data)))
	switch len(trimmed) {
	case KeySize:
		return trimmed, nil
	case KeySize * 2:
		key := make([]byte, KeySize)
		if _, err := hex.Decode(key, trimmed); err != nil {
			return nil, ErrInvalidKeyFormat
		}
		return key, nil
	default:
		return nil, ErrInvalidKeyFormat
	}
}

// SaveKeyFile writes a key to path in hex format.
func SaveKeyFile(key []byte, path string) error {
	if len(key) != KeySize {
		return ErrInvalidKey
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(key)), 0600)
}

// Name implements Handler.
func (*Encryption) Name() string {
	return "aes-gcm"
}

// Encode implements Handler.
func (e *Encryption) Encode(data []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return e.aead.Seal(nonce, nonce, data, nil), nil
}

// Decode implements Handler.
func (e *Encryption) Decode(data []byte) ([]byte, error) {
	if len(data) < NonceSize+TagSize {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := e.aead.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}
