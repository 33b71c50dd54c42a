package codec

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/securestore"
)

type fixedKey struct {
	key string
	err error
}

func (f fixedKey) GetOrCreate(context.Context, securestore.Key, func() (string, error)) (string, error) {
	return f.key, f.err
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New(securestore.New(securestore.NewMemory(), zap.NewNop()))

	for _, s := range []string{
		"",
		"a",
		"BP 120/80, follow up in 2 weeks",
		"Allergic to penicillin; prescribed amoxicillin-free regimen.",
		"Ünïcödé nötes — 日本語のメモ 🩺",
		string(make([]byte, 300)),
	} {
		enc, err := c.Encrypt(ctx, s)
		require.NoError(t, err)
		dec, err := c.Decrypt(ctx, enc)
		require.NoError(t, err)
		assert.Equal(t, s, dec)
	}
}

func TestEmptyRoundTripsToEmpty(t *testing.T) {
	ctx := context.Background()
	c := New(securestore.New(securestore.NewMemory(), zap.NewNop()))
	enc, err := c.Encrypt(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "", enc)
	dec, err := c.Decrypt(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "", dec)
}

func TestKeyStable(t *testing.T) {
	ctx := context.Background()
	store := securestore.New(securestore.NewMemory(), zap.NewNop())
	c := New(store)

	a, err := c.Encrypt(ctx, "first note")
	require.NoError(t, err)
	key1, _ := store.Get(ctx, securestore.KeyEncryptionKey)
	b, err := c.Encrypt(ctx, "second note")
	require.NoError(t, err)
	key2, _ := store.Get(ctx, securestore.KeyEncryptionKey)
	assert.Equal(t, key1, key2)
	assert.Len(t, key1, 64)

	da, err := c.Decrypt(ctx, a)
	require.NoError(t, err)
	db, err := c.Decrypt(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, "first note", da)
	assert.Equal(t, "second note", db)
}

func TestKnownVector(t *testing.T) {
	// key prefix "ABCDEFGHIJKLMNOP" (first 16 chars only)
	c := New(fixedKey{key: "ABCDEFGHIJKLMNOPQRSTUVWXYZ"})
	enc, err := c.Encrypt(context.Background(), "hello")
	require.NoError(t, err)

	want := []byte{'h' ^ 'A', 'e' ^ 'B', 'l' ^ 'C', 'l' ^ 'D', 'o' ^ 'E'}
	assert.Equal(t, base64.StdEncoding.EncodeToString(want), enc)
}

func TestShortKeyWraps(t *testing.T) {
	c := New(fixedKey{key: "k"})
	enc, err := c.Encrypt(context.Background(), "abc")
	require.NoError(t, err)
	raw, _ := base64.StdEncoding.DecodeString(enc)
	assert.Equal(t, []byte{'a' ^ 'k', 'b' ^ 'k', 'c' ^ 'k'}, raw)

	dec, err := c.Decrypt(context.Background(), enc)
	require.NoError(t, err)
	assert.Equal(t, "abc", dec)
}

func TestMultibyteKeyPrefix(t *testing.T) {
	assert.Equal(t, "ééé", prefix("éééé", 3))
	assert.Equal(t, "ab", prefix("ab", 16))
	assert.Equal(t, "", prefix("", 16))
}

func TestErrors(t *testing.T) {
	ctx := context.Background()

	c := New(fixedKey{key: "0123456789abcdef"})
	_, err := c.Decrypt(ctx, "not base64 !!")
	assert.ErrorIs(t, err, errs.Encryption)

	// valid base64 whose XOR is not UTF-8
	bad := base64.StdEncoding.EncodeToString([]byte{0xff ^ '0', 0xfe ^ '1'})
	_, err = c.Decrypt(ctx, bad)
	assert.ErrorIs(t, err, errs.Encryption)
	assert.ErrorIs(t, err, ErrInvalidUTF8)

	storeErr := errs.E(errs.Storage, "securestore.GetOrCreate", errors.New("locked"))
	c = New(fixedKey{err: storeErr})
	_, err = c.Encrypt(ctx, "x")
	assert.ErrorIs(t, err, errs.Encryption)
	_, err = c.Decrypt(ctx, "eA==")
	assert.ErrorIs(t, err, errs.Encryption)

	c = New(fixedKey{key: ""})
	_, err = c.Encrypt(ctx, "x")
	assert.ErrorIs(t, err, ErrEmptyKey)
}
