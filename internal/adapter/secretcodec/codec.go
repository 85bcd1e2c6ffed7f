// Package secretcodec encrypts credential secrets at rest with AES-256-GCM.
//
// A sealed blob is three base64 parts joined by ':' (nonce, tag, ciphertext),
// each independently decodable.
package secretcodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fairyhunter13/neurowell-ai-gateway/internal/domain"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
	sep       = ":"
)

// ErrMalformedBlob is returned when a blob does not have the nonce:tag:ciphertext shape.
var ErrMalformedBlob = errors.New("secretcodec: malformed blob")

// ErrAuthentication is returned when the tag does not verify.
var ErrAuthentication = errors.New("secretcodec: authentication failed")

// Codec seals and opens secrets. A Codec built without key material refuses
// both operations with domain.ErrCodecNotConfigured.
type Codec struct {
	aead  cipher.AEAD
	nonce io.Reader
}

// New derives the key from material: base64 that decodes to exactly 32 bytes
// is used as-is, anything else is taken as UTF-8 and zero padded or truncated
// to 32 bytes. Empty material yields an unconfigured Codec.
func New(material string) (*Codec, error) {
	if material == "" {
		return &Codec{}, nil
	}
	block, err := aes.NewCipher(DeriveKey(material))
	if err != nil {
		return nil, fmt.Errorf("op=secretcodec.New: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("op=secretcodec.New: %w", err)
	}
	return &Codec{aead: aead, nonce: rand.Reader}, nil
}

// DeriveKey turns configured key material into a 32-byte AES key.
func DeriveKey(material string) []byte {
	if b, err := base64.StdEncoding.DecodeString(material); err == nil && len(b) == keySize {
		return b
	}
	key := make([]byte, keySize)
	copy(key, material)
	return key
}

// Configured reports whether the codec has key material.
func (c *Codec) Configured() bool { return c != nil && c.aead != nil }

// Encrypt seals plaintext into a blob.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("op=secretcodec.Encrypt: %w", domain.ErrCodecNotConfigured)
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(c.nonce, nonce); err != nil {
		return "", fmt.Errorf("op=secretcodec.Encrypt: nonce: %w", err)
	}
	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]
	enc := base64.StdEncoding
	return strings.Join([]string{enc.EncodeToString(nonce), enc.EncodeToString(tag), enc.EncodeToString(ct)}, sep), nil
}

// Decrypt opens a blob produced by Encrypt. It never returns partial plaintext.
func (c *Codec) Decrypt(blob string) ([]byte, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("op=secretcodec.Decrypt: %w", domain.ErrCodecNotConfigured)
	}
	parts := strings.Split(blob, sep)
	if len(parts) != 3 {
		return nil, fmt.Errorf("op=secretcodec.Decrypt: %w: want 3 parts, got %d", ErrMalformedBlob, len(parts))
	}
	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[0])
	if err != nil || len(nonce) != nonceSize {
		return nil, fmt.Errorf("op=secretcodec.Decrypt: %w: nonce", ErrMalformedBlob)
	}
	tag, err := enc.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return nil, fmt.Errorf("op=secretcodec.Decrypt: %w: tag", ErrMalformedBlob)
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("op=secretcodec.Decrypt: %w: ciphertext", ErrMalformedBlob)
	}
	plaintext, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return nil, fmt.Errorf("op=secretcodec.Decrypt: %w", ErrAuthentication)
	}
	return plaintext, nil
}
