// Package secure implements the field-level encryption codec applied at the
// repository boundary. Message content and customer identifying fields are
// encrypted with AES-256-GCM before they reach the store and decrypted on
// read, so the rest of the pipeline only ever handles plaintext.
//
// Wire format is "iv:tag:ciphertext", all hex. Values that do not look like
// the envelope (no separators) are passed through unchanged on decrypt, which
// keeps reads working across a migration from unencrypted data.
package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	ivLen  = 12 // GCM standard nonce size
	tagLen = 16
)

// ErrBadKey is returned when the key is not 32 bytes (AES-256).
var ErrBadKey = errors.New("secure: key must be 32 bytes")

// Codec encrypts and decrypts string fields. The zero value (no key) is a
// no-op codec: Encrypt and Decrypt return their input. That keeps local
// development working without ENCRYPTION_KEY while production always sets one.
type Codec struct {
	aead cipher.AEAD
}

// NewCodec builds a Codec from a 32-byte key. A nil/empty key yields the
// pass-through codec.
func NewCodec(key []byte) (*Codec, error) {
	if len(key) == 0 {
		return &Codec{}, nil
	}
	if len(key) != 32 {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCMWithNonceSize(block, ivLen)
	if err != nil {
		return nil, err
	}
	return &Codec{aead: aead}, nil
}

// Enabled reports whether the codec actually encrypts.
func (c *Codec) Enabled() bool { return c != nil && c.aead != nil }

// Encrypt seals plaintext into the iv:tag:ciphertext hex envelope.
// Empty input and the pass-through codec return the input unchanged.
func (c *Codec) Encrypt(plain string) (string, error) {
	if !c.Enabled() || plain == "" {
		return plain, nil
	}
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nil, iv, []byte(plain), nil)
	// Seal appends the tag to the ciphertext; split for the envelope format.
	ct := sealed[:len(sealed)-tagLen]
	tag := sealed[len(sealed)-tagLen:]
	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(tag) + ":" + hex.EncodeToString(ct), nil
}

// Decrypt opens an envelope produced by Encrypt. Values that are not in
// envelope form are returned as-is; a malformed or tampered envelope is an
// error so corruption does not silently surface as garbage text.
func (c *Codec) Decrypt(stored string) (string, error) {
	if !c.Enabled() || stored == "" || !strings.Contains(stored, ":") {
		return stored, nil
	}
	parts := strings.SplitN(stored, ":", 3)
	if len(parts) != 3 {
		return stored, nil
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivLen {
		return stored, nil
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagLen {
		return stored, nil
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return stored, nil
	}
	plain, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
