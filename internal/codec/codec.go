// Package codec obfuscates short strings (medical notes) before they are
// written to the remote store.
//
// WARNING: the scheme is repeating-key XOR over a 16-byte key followed by
// base64. It is NOT encryption in any meaningful sense: known plaintext or
// simple frequency analysis recovers the key. It is kept only so data written
// by existing clients stays readable. New storage must use authenticated
// encryption (AES-GCM), as securestore.LevelDB does.
package codec

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"unicode/utf8"

	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/securestore"
)

// keyChars is how much of the persisted key feeds the XOR stream.
const keyChars = 16

var (
	ErrEmptyKey    = errors.New("codec: empty key")
	ErrInvalidUTF8 = errors.New("codec: decoded text is not valid UTF-8")
)

// KeySource returns the persistent key, creating it on first use.
type KeySource interface {
	GetOrCreate(ctx context.Context, key securestore.Key, gen func() (string, error)) (string, error)
}

type Codec struct {
	keys KeySource
}

func New(keys KeySource) *Codec {
	return &Codec{keys: keys}
}

// GenerateKey returns 32 random bytes, hex encoded.
func GenerateKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func (c *Codec) Encrypt(ctx context.Context, plaintext string) (string, error) {
	k, err := c.keyBytes(ctx)
	if err != nil {
		return "", errs.E(errs.Encryption, "codec.Encrypt", err)
	}
	return base64.StdEncoding.EncodeToString(xor([]byte(plaintext), k)), nil
}

func (c *Codec) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	k, err := c.keyBytes(ctx)
	if err != nil {
		return "", errs.E(errs.Encryption, "codec.Decrypt", err)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", errs.E(errs.Encryption, "codec.Decrypt", err)
	}
	out := xor(raw, k)
	if !utf8.Valid(out) {
		return "", errs.E(errs.Encryption, "codec.Decrypt", ErrInvalidUTF8)
	}
	return string(out), nil
}

func (c *Codec) keyBytes(ctx context.Context) ([]byte, error) {
	key, err := c.keys.GetOrCreate(ctx, securestore.KeyEncryptionKey, GenerateKey)
	if err != nil {
		return nil, err
	}
	k := []byte(prefix(key, keyChars))
	if len(k) == 0 {
		return nil, ErrEmptyKey
	}
	return k, nil
}

// prefix returns the first n characters (not bytes) of s.
func prefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// xor is its own inverse.
func xor(data, key []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ key[i%len(key)]
	}
	return out
}
