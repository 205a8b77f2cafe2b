// Package crypto implements the service's legacy payload cipher: AES-256-CBC
// keyed by the first 32 hex characters of SHA-256(cipher key), a fixed IV,
// PKCS#7 padding and standard base64 output.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

const initializationVector = "0123456789012345"

var (
	// ErrMissingKey is returned when no cipher key is available.
	ErrMissingKey = errors.New("crypto: cipher key is required")
	// ErrMalformedInput is returned for ciphertext that cannot be decoded or unpadded.
	ErrMalformedInput = errors.New("crypto: malformed input")
)

// Cipher encrypts and decrypts payload strings with one key.
type Cipher struct {
	block cipher.Block
}

// New derives the AES key from cipherKey.
func New(cipherKey string) (*Cipher, error) {
	if cipherKey == "" {
		return nil, ErrMissingKey
	}
	sum := sha256.Sum256([]byte(cipherKey))
	key := []byte(hex.EncodeToString(sum[:])[:32])
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: %w", err)
	}
	return &Cipher{block: block}, nil
}

// Encrypt returns base64(AES-CBC(plaintext)).
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || c.block == nil {
		return "", ErrMissingKey
	}
	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, []byte(initializationVector)).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if c == nil || c.block == nil {
		return "", ErrMissingKey
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("%w: ciphertext is not a multiple of the block size", ErrMalformedInput)
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(c.block, []byte(initializationVector)).CryptBlocks(out, raw)
	unpadded, err := unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

func pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrMalformedInput
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize || padding > len(data) {
		return nil, fmt.Errorf("%w: invalid padding", ErrMalformedInput)
	}
	for _, value := range data[len(data)-padding:] {
		if int(value) != padding {
			return nil, fmt.Errorf("%w: invalid padding", ErrMalformedInput)
		}
	}
	return data[:len(data)-padding], nil
}
