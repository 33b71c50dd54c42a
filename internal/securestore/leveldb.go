package securestore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/syndtr/goleveldb/leveldb"
	"golang.org/x/crypto/hkdf"
)

var ErrNoDeviceSecret = errors.New("securestore: device secret required")

// LevelDB persists credentials in an app-scoped LevelDB directory. Every
// value is sealed with AES-256-GCM under a key derived from the installation
// secret; the entry key and the protection byte are bound as associated
// data so values cannot be swapped between keys or downgraded.
//
// Record layout: protection(1) | nonce | ciphertext.
type LevelDB struct {
	db   *leveldb.DB
	aead cipher.AEAD
}

func OpenLevelDB(path string, deviceSecret []byte) (*LevelDB, error) {
	if len(deviceSecret) == 0 {
		return nil, ErrNoDeviceSecret
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir securestore dir: %w", err)
	}

	h := hkdf.New(sha256.New, deviceSecret, nil, []byte("securestore/v1"))
	k := make([]byte, 32)
	if _, err := io.ReadFull(h, k); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb: %w", err)
	}
	return &LevelDB{db: db, aead: gcm}, nil
}

func (l *LevelDB) Close() error { return l.db.Close() }

func (l *LevelDB) Set(_ context.Context, key, value string, p Protection) error {
	nonce := make([]byte, l.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	rec := make([]byte, 0, 1+len(nonce)+len(value)+l.aead.Overhead())
	rec = append(rec, byte(p))
	rec = append(rec, nonce...)
	rec = l.aead.Seal(rec, nonce, []byte(value), aad(key, p))
	return l.db.Put([]byte(key), rec, nil)
}

func (l *LevelDB) Get(_ context.Context, key string) (string, bool, error) {
	rec, err := l.db.Get([]byte(key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	ns := l.aead.NonceSize()
	if len(rec) < 1+ns {
		return "", false, fmt.Errorf("securestore: record %q truncated", key)
	}
	pt, err := l.aead.Open(nil, rec[1:1+ns], rec[1+ns:], aad(key, Protection(rec[0])))
	if err != nil {
		return "", false, fmt.Errorf("securestore: open %q: %w", key, err)
	}
	return string(pt), true, nil
}

func aad(key string, p Protection) []byte {
	return append([]byte{byte(p)}, key...)
}

func (l *LevelDB) Delete(_ context.Context, key string) error {
	return l.db.Delete([]byte(key), nil)
}
