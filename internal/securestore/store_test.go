package securestore_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/securestore"
)

// brokenBackend fails every call, like a locked or full device store.
type brokenBackend struct{ deletes int }

var errLocked = errors.New("keychain locked")

func (b *brokenBackend) Set(context.Context, string, string, securestore.Protection) error {
	return errLocked
}
func (b *brokenBackend) Get(context.Context, string) (string, bool, error) {
	return "", false, errLocked
}
func (b *brokenBackend) Delete(context.Context, string) error {
	b.deletes++
	return errLocked
}

func TestSaveGet(t *testing.T) {
	ctx := context.Background()
	mem := securestore.NewMemory()
	s := securestore.New(mem, zap.NewNop())

	_, ok := s.AuthToken(ctx)
	assert.False(t, ok)

	require.NoError(t, s.SaveAuthToken(ctx, "tok-1"))
	require.NoError(t, s.SaveUserID(ctx, "u-1"))

	tok, ok := s.AuthToken(ctx)
	assert.True(t, ok)
	assert.Equal(t, "tok-1", tok)
	uid, _ := s.UserID(ctx)
	assert.Equal(t, "u-1", uid)

	require.NoError(t, s.SaveAuthToken(ctx, "tok-2"))
	tok, _ = s.AuthToken(ctx)
	assert.Equal(t, "tok-2", tok)

	for _, k := range []securestore.Key{securestore.KeyAuthToken, securestore.KeyUserID} {
		p, ok := mem.ProtectionOf(string(k))
		require.True(t, ok)
		assert.Equal(t, securestore.ProtectionAfterFirstUnlock, p)
	}
}

func TestSaveUnavailable(t *testing.T) {
	ctx := context.Background()
	s := securestore.New(&brokenBackend{}, zap.NewNop())

	err := s.SaveAuthToken(ctx, "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.Storage)
	assert.ErrorIs(t, err, errLocked)

	// reads degrade to absent
	_, ok := s.UserID(ctx)
	assert.False(t, ok)

	// optional preference swallows
	s.SaveBiometricPreference(ctx, true)
	assert.False(t, s.BiometricPreference(ctx))
}

func TestBiometricPreference(t *testing.T) {
	ctx := context.Background()
	s := securestore.New(securestore.NewMemory(), zap.NewNop())

	assert.False(t, s.BiometricPreference(ctx))
	s.SaveBiometricPreference(ctx, true)
	assert.True(t, s.BiometricPreference(ctx))
	s.SaveBiometricPreference(ctx, false)
	assert.False(t, s.BiometricPreference(ctx))
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	s := securestore.New(securestore.NewMemory(), zap.NewNop())

	for _, k := range securestore.Keys {
		require.NoError(t, s.Save(ctx, k, "v-"+string(k)))
	}
	s.ClearAll(ctx)
	for _, k := range securestore.Keys {
		_, ok := s.Get(ctx, k)
		assert.False(t, ok, "key %s still present", k)
	}
}

func TestClearAllBestEffort(t *testing.T) {
	b := &brokenBackend{}
	s := securestore.New(b, zap.NewNop())
	s.ClearAll(context.Background())
	assert.Equal(t, len(securestore.Keys), b.deletes, "every key attempted")
}

func TestGetOrCreateConcurrent(t *testing.T) {
	ctx := context.Background()
	s := securestore.New(securestore.NewMemory(), zap.NewNop())

	var calls atomic.Int32
	gen := func() (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("key-%d", n), nil
	}

	const workers = 32
	got := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := s.GetOrCreate(ctx, securestore.KeyEncryptionKey, gen)
			assert.NoError(t, err)
			got[i] = v
		}(i)
	}
	wg.Wait()

	stored, ok := s.Get(ctx, securestore.KeyEncryptionKey)
	require.True(t, ok)
	for _, v := range got {
		assert.Equal(t, stored, v)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetOrCreateReadError(t *testing.T) {
	s := securestore.New(&brokenBackend{}, zap.NewNop())
	called := false
	_, err := s.GetOrCreate(context.Background(), securestore.KeyEncryptionKey, func() (string, error) {
		called = true
		return "x", nil
	})
	assert.ErrorIs(t, err, errs.Storage)
	assert.False(t, called, "must not generate over an unreadable store")
}
