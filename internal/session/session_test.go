package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"healthcare-portal/internal/auth"
	"healthcare-portal/internal/biometric"
	"healthcare-portal/internal/codec"
	"healthcare-portal/internal/docstore/memory"
	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/identity"
	"healthcare-portal/internal/model"
	"healthcare-portal/internal/securestore"
)

type event struct{ uid, action, resource string }

type recordAudit struct {
	mu     sync.Mutex
	events []event
}

func (r *recordAudit) LogAccess(_ context.Context, uid, action, resource string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{uid, action, resource})
}

func (r *recordAudit) actions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.action
	}
	return out
}

type fakeBio struct {
	available bool
	success   bool
	calls     int
}

func (f *fakeBio) HasHardware(context.Context) (bool, error) { return f.available, nil }
func (f *fakeBio) IsEnrolled(context.Context) (bool, error)  { return f.available, nil }

func (f *fakeBio) Authenticate(context.Context, biometric.Options) (biometric.Result, error) {
	f.calls++
	return biometric.Result{Success: f.success}, nil
}

func (f *fakeBio) SupportedTypes(context.Context) ([]biometric.Type, error) { return nil, nil }

type fixture struct {
	m     *Manager
	svc   *identity.Service
	docs  *memory.Store
	creds *securestore.Store
	audit *recordAudit
	bio   *fakeBio
}

func newFixture() *fixture {
	docs := memory.New()
	svc := identity.NewService(identity.NewMemoryUsers(), docs, "secret")
	creds := securestore.New(securestore.NewMemory(), zap.NewNop())
	audit := &recordAudit{}
	bio := &fakeBio{}
	m := New(identity.NewProvider(svc), docs, creds, audit, biometric.NewGate(bio, zap.NewNop()), zap.NewNop())
	return &fixture{m: m, svc: svc, docs: docs, creds: creds, audit: audit, bio: bio}
}

var ada = identity.SignUpRequest{Email: "ada@example.com", Password: "secret123", Name: "Ada", Phone: "555", Role: model.RolePatient}

func TestSignUpStoresCredentials(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, err := f.m.SignUp(ctx, ada, "different")
	assert.ErrorIs(t, err, ErrPasswordMismatch)
	assert.ErrorIs(t, err, errs.Auth)

	id, err := f.m.SignUp(ctx, ada, ada.Password)
	require.NoError(t, err)

	tok, ok := f.creds.AuthToken(ctx)
	require.True(t, ok)
	assert.Equal(t, id.Token, tok)
	uid, _ := f.creds.UserID(ctx)
	assert.Equal(t, id.UID, uid)
	assert.Equal(t, []string{"SIGNUP"}, f.audit.actions())
	assert.Equal(t, "user_registration", f.audit.events[0].resource)
}

func TestLogin(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.svc.SignUp(ctx, ada)
	require.NoError(t, err)

	_, err = f.m.Login(ctx, ada.Email, "wrong-password")
	assert.ErrorIs(t, err, errs.Auth)
	assert.Empty(t, f.audit.actions())

	id, err := f.m.Login(ctx, ada.Email, ada.Password)
	require.NoError(t, err)
	assert.Equal(t, "Ada", id.Name)
	assert.Equal(t, []string{"LOGIN"}, f.audit.actions())
	assert.Equal(t, event{id.UID, "LOGIN", "user_authentication"}, f.audit.events[0])
}

func TestLoginRoleFromToken(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	me, err := f.svc.SignUp(ctx, ada)
	require.NoError(t, err)
	require.NoError(t, f.docs.Update(ctx, model.CollectionUsers, me.UID, map[string]any{"role": "admin", "name": "Ada L."}))

	id, err := f.m.Login(ctx, ada.Email, ada.Password)
	require.NoError(t, err)
	assert.Equal(t, model.RolePatient, id.Role)
	assert.Equal(t, "Ada L.", id.Name)
}

func TestLoginWithoutProfile(t *testing.T) {
	ctx := context.Background()
	// sign-up without a profile store leaves no users/{uid} document
	users := identity.NewMemoryUsers()
	_, err := identity.NewService(users, nil, "secret").SignUp(ctx, ada)
	require.NoError(t, err)

	f := newFixture()
	p := identity.NewProvider(identity.NewService(users, f.docs, "secret"))
	m := New(p, f.docs, f.creds, f.audit, biometric.NewGate(f.bio, nil), nil)

	_, err = m.Login(ctx, ada.Email, ada.Password)
	assert.ErrorIs(t, err, ErrNoProfile)
	assert.Nil(t, p.Current())
	_, ok := f.creds.AuthToken(ctx)
	assert.False(t, ok)
}

func TestLogoutClearsEverything(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.m.SignUp(ctx, ada, ada.Password)
	require.NoError(t, err)
	f.creds.SaveBiometricPreference(ctx, true)
	_, err = f.creds.GetOrCreate(ctx, securestore.KeyEncryptionKey, func() (string, error) { return "k", nil })
	require.NoError(t, err)

	f.m.Logout(ctx)

	for _, k := range securestore.Keys {
		_, ok := f.creds.Get(ctx, k)
		assert.False(t, ok, "key %s", k)
	}
	assert.Equal(t, []string{"SIGNUP", "LOGOUT"}, f.audit.actions())
}

func TestExitKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	p := identity.NewProvider(f.svc)
	m := New(p, f.docs, f.creds, f.audit, biometric.NewGate(f.bio, nil), nil)
	_, err := m.SignUp(ctx, ada, ada.Password)
	require.NoError(t, err)

	m.Exit(ctx)
	_, ok := f.creds.AuthToken(ctx)
	assert.False(t, ok)
	assert.NotNil(t, p.Current())
}

func TestRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	_, ok := f.m.Restore(ctx)
	assert.False(t, ok, "nothing stored")

	id, err := f.m.SignUp(ctx, ada, ada.Password)
	require.NoError(t, err)

	got, ok := f.m.Restore(ctx)
	require.True(t, ok)
	assert.Equal(t, id.UID, got.UID)
	assert.Equal(t, model.RolePatient, got.Role)

	f.m.now = func() time.Time { return time.Now().Add(2 * auth.TokenTTL) }
	_, ok = f.m.Restore(ctx)
	assert.False(t, ok, "expired")
	_, ok = f.creds.AuthToken(ctx)
	assert.False(t, ok, "expired token wiped")
}

func TestExpiredSessionKeepsEncryptionKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	_, err := f.m.SignUp(ctx, ada, ada.Password)
	require.NoError(t, err)
	f.creds.SaveBiometricPreference(ctx, true)

	c := codec.New(f.creds)
	sealed, err := c.Encrypt(ctx, "allergic to penicillin")
	require.NoError(t, err)

	f.m.now = func() time.Time { return time.Now().Add(2 * auth.TokenTTL) }
	_, ok := f.m.Restore(ctx)
	require.False(t, ok)
	_, ok = f.creds.UserID(ctx)
	assert.False(t, ok, "user id wiped with the token")
	assert.True(t, f.creds.BiometricPreference(ctx))

	plain, err := c.Decrypt(ctx, sealed)
	require.NoError(t, err)
	assert.Equal(t, "allergic to penicillin", plain)
}

func TestBiometrics(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	assert.True(t, f.m.Unlock(ctx), "no preference, no challenge")
	assert.False(t, f.m.SetBiometrics(ctx, true), "unavailable")
	assert.False(t, f.creds.BiometricPreference(ctx))

	f.bio.available = true
	require.True(t, f.m.SetBiometrics(ctx, true))
	assert.False(t, f.m.Unlock(ctx))
	f.bio.success = true
	assert.True(t, f.m.Unlock(ctx))
	assert.Equal(t, 2, f.bio.calls)

	f.bio.available = false
	assert.False(t, f.m.Unlock(ctx))
	assert.True(t, f.m.SetBiometrics(ctx, false))
	assert.True(t, f.m.Unlock(ctx))
}
