// Package securestore keeps the small secrets a portal session needs (auth
// token, user id, biometric preference, local encryption key) in a protected
// local store.
package securestore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"healthcare-portal/internal/errs"
)

type Key string

const (
	KeyAuthToken        Key = "userToken"
	KeyUserID           Key = "userId"
	KeyBiometricEnabled Key = "biometricEnabled"
	KeyEncryptionKey    Key = "encryptionKey"
)

// Keys lists every key ClearAll removes.
var Keys = []Key{KeyAuthToken, KeyUserID, KeyBiometricEnabled, KeyEncryptionKey}

type Store struct {
	backend Backend
	log     *zap.Logger
	create  singleflight.Group
}

func New(b Backend, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: b, log: log.Named("securestore")}
}

// Save writes value under key. Failures are StorageError.
func (s *Store) Save(ctx context.Context, key Key, value string) error {
	if err := s.backend.Set(ctx, string(key), value, ProtectionAfterFirstUnlock); err != nil {
		return errs.E(errs.Storage, "securestore.Save", fmt.Errorf("%s: %w", key, err))
	}
	return nil
}

// Get never fails: a backend error is logged and reported as absent.
func (s *Store) Get(ctx context.Context, key Key) (string, bool) {
	v, ok, err := s.backend.Get(ctx, string(key))
	if err != nil {
		s.log.Warn("read failed", zap.String("key", string(key)), zap.Error(err))
		return "", false
	}
	return v, ok
}

func (s *Store) Delete(ctx context.Context, key Key) error {
	if err := s.backend.Delete(ctx, string(key)); err != nil {
		return errs.E(errs.Storage, "securestore.Delete", fmt.Errorf("%s: %w", key, err))
	}
	return nil
}

// ClearAll is best effort: every key is attempted, failures are only logged.
func (s *Store) ClearAll(ctx context.Context) {
	for _, k := range Keys {
		if err := s.backend.Delete(ctx, string(k)); err != nil {
			s.log.Error("clear failed", zap.String("key", string(k)), zap.Error(err))
		}
	}
}

// GetOrCreate returns the value under key, generating and persisting it on
// first use. Concurrent first callers share one generation. A read error is
// returned rather than treated as absence, so an existing value is never
// overwritten because the store was briefly unreadable.
func (s *Store) GetOrCreate(ctx context.Context, key Key, gen func() (string, error)) (string, error) {
	v, err, _ := s.create.Do(string(key), func() (any, error) {
		cur, ok, err := s.backend.Get(ctx, string(key))
		if err != nil {
			return "", errs.E(errs.Storage, "securestore.GetOrCreate", err)
		}
		if ok && cur != "" {
			return cur, nil
		}
		nv, err := gen()
		if err != nil {
			return "", err
		}
		if err := s.Save(ctx, key, nv); err != nil {
			return "", err
		}
		return nv, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *Store) SaveAuthToken(ctx context.Context, token string) error {
	return s.Save(ctx, KeyAuthToken, token)
}

func (s *Store) AuthToken(ctx context.Context) (string, bool) {
	return s.Get(ctx, KeyAuthToken)
}

func (s *Store) SaveUserID(ctx context.Context, uid string) error {
	return s.Save(ctx, KeyUserID, uid)
}

func (s *Store) UserID(ctx context.Context) (string, bool) {
	return s.Get(ctx, KeyUserID)
}

// SaveBiometricPreference swallows failures; the preference is optional.
func (s *Store) SaveBiometricPreference(ctx context.Context, enabled bool) {
	b, _ := json.Marshal(enabled)
	if err := s.Save(ctx, KeyBiometricEnabled, string(b)); err != nil {
		s.log.Warn("save biometric preference", zap.Error(err))
	}
}

func (s *Store) BiometricPreference(ctx context.Context) bool {
	v, ok := s.Get(ctx, KeyBiometricEnabled)
	if !ok {
		return false
	}
	var enabled bool
	if err := json.Unmarshal([]byte(v), &enabled); err != nil {
		s.log.Warn("bad biometric preference", zap.Error(err))
		return false
	}
	return enabled
}
