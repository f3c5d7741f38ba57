// Package crypto implements the symmetric payload cipher shared by the
// sensor node and the gateway: AES-256-CBC with a fresh random IV per
// message, PKCS#7 padding, and base64 tokens carrying iv‖ciphertext.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the required key length: AES-256.
const KeySize = 32

// EncryptedMarker prefixes encrypted payloads on the wire so the
// receiving side can tell them from plaintext JSON.
const EncryptedMarker = "[EN]"

var (
	ErrKeyLength      = errors.New("key length must be exactly 32 bytes")
	ErrMalformedToken = errors.New("malformed token")
	ErrBadPadding     = errors.New("bad PKCS#7 padding")
)

// CipherBox holds the loaded key. It is stateless beyond the key and
// safe for concurrent use.
type CipherBox struct {
	key []byte
}

// New creates a CipherBox from raw key material.
func New(key []byte) (*CipherBox, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d", ErrKeyLength, len(key))
	}
	k := make([]byte, KeySize)
	copy(k, key)
	return &CipherBox{key: k}, nil
}

// LoadKeyfile reads the 32-byte key file produced by GenerateKeyfile.
func LoadKeyfile(path string) (*CipherBox, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyfile: %w", err)
	}
	return New(key)
}

// GenerateKeyfile writes a fresh random 256-bit key to path. The file
// must be copied to every device that needs to communicate.
func GenerateKeyfile(path string) error {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := os.WriteFile(path, key, 0o600); err != nil {
		return fmt.Errorf("write keyfile: %w", err)
	}
	return nil
}

// DeriveKey derives a 32-byte key from a passphrase using PBKDF2 for
// deployments that provision a shared secret instead of a keyfile.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, 4096, KeySize, sha256.New)
}

// Encrypt pads and encrypts plaintext, returning base64(iv‖ciphertext).
// A fresh IV is generated per call; identical plaintexts yield
// different tokens.
func (b *CipherBox) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate IV: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext))
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. It fails loudly on malformed base64, short
// input, non-block-aligned ciphertext, or invalid padding; it never
// returns garbage from a bad token.
func (b *CipherBox) Decrypt(token string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	// IV plus at least one ciphertext block.
	if len(raw) < 2*aes.BlockSize {
		return "", fmt.Errorf("%w: %d bytes", ErrMalformedToken, len(raw))
	}

	iv, ciphertext := raw[:aes.BlockSize], raw[aes.BlockSize:]
	if len(ciphertext)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext not block aligned", ErrMalformedToken)
	}

	block, err := aes.NewCipher(b.key)
	if err != nil {
		return "", err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	unpadded, err := pkcs7Unpad(plaintext)
	if err != nil {
		return "", err
	}

	return string(unpadded), nil
}

// WrapPayload marks an encrypted token for the wire.
func WrapPayload(token string) string {
	return EncryptedMarker + token
}

// UnwrapPayload reports whether a received payload carries the
// encrypted marker, returning the token without it.
func UnwrapPayload(payload string) (string, bool) {
	if len(payload) >= len(EncryptedMarker) && payload[:len(EncryptedMarker)] == EncryptedMarker {
		return payload[len(EncryptedMarker):], true
	}
	return payload, false
}

func pkcs7Pad(data []byte) []byte {
	padLen := aes.BlockSize - len(data)%aes.BlockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d", ErrBadPadding, len(data))
	}

	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > aes.BlockSize || padLen > len(data) {
		return nil, fmt.Errorf("%w: pad byte %d", ErrBadPadding, padLen)
	}

	for _, v := range data[len(data)-padLen:] {
		if int(v) != padLen {
			return nil, fmt.Errorf("%w: inconsistent pad bytes", ErrBadPadding)
		}
	}

	return data[:len(data)-padLen], nil
}
