package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/skothari-dev/loom/internal/core"
)

// FieldCipher encrypts and decrypts flagged schema fields with
// AES-256-CBC. The key is derived from the shared key pair plus the
// per-field salt, so two fields never share a keystream. The IV is
// random per encryption and prepended to the ciphertext; output is
// base64.
type FieldCipher struct {
	public string
	secret string
}

// NewFieldCipher creates a cipher from the configured key pair.
// Missing keys are a fatal configuration error: silently storing or
// returning ciphertext would be the worse failure mode.
func NewFieldCipher(public, secret string) (*FieldCipher, error) {
	if public == "" || secret == "" {
		return nil, &core.ConfigError{Msg: "encryption key pair is not configured", Err: core.ErrMissingKey}
	}
	return &FieldCipher{public: public, secret: secret}, nil
}

func (c *FieldCipher) key(fieldSalt string) []byte {
	sum := sha256.Sum256([]byte(c.public + ":" + c.secret + ":" + fieldSalt))
	return sum[:]
}

// Encrypt encrypts a plaintext value for storage or comparison.
func (c *FieldCipher) Encrypt(plaintext, fieldSalt string) (string, error) {
	block, err := aes.NewCipher(c.key(fieldSalt))
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}

	padded := pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	iv := out[:aes.BlockSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Corrupt input is an error, never silently
// returned as data.
func (c *FieldCipher) Decrypt(ciphertext, fieldSalt string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not valid base64: %w", err)
	}
	if len(raw) < aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext has invalid length %d", len(raw))
	}

	block, err := aes.NewCipher(c.key(fieldSalt))
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}

	iv, body := raw[:aes.BlockSize], raw[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	unpadded, err := unpad(plain, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(unpadded), nil
}

// pad applies PKCS#7 padding.
func pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS#7 padding.
func unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
