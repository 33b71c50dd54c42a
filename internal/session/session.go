// Package session runs the device-side sign-in lifecycle: credentials go to
// the secure store, every transition is audited, and biometrics can gate a
// restored session.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"healthcare-portal/internal/auth"
	"healthcare-portal/internal/biometric"
	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/identity"
	"healthcare-portal/internal/model"
	"healthcare-portal/internal/securestore"
)

var (
	ErrNoProfile        = errors.New("user profile not found")
	ErrPasswordMismatch = errors.New("passwords do not match")
)

// Auditor records access events; compliance.Logger satisfies it.
type Auditor interface {
	LogAccess(ctx context.Context, userID, action, resource string)
}

type Manager struct {
	provider *identity.Provider
	profiles docstore.Store
	creds    *securestore.Store
	audit    Auditor
	gate     *biometric.Gate
	log      *zap.Logger
	now      func() time.Time
}

func New(p *identity.Provider, profiles docstore.Store, creds *securestore.Store, audit Auditor, gate *biometric.Gate, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		provider: p,
		profiles: profiles,
		creds:    creds,
		audit:    audit,
		gate:     gate,
		log:      log.Named("session"),
		now:      time.Now,
	}
}

func (m *Manager) persist(ctx context.Context, id identity.Identity) error {
	if err := m.creds.SaveAuthToken(ctx, id.Token); err != nil {
		return err
	}
	return m.creds.SaveUserID(ctx, id.UID)
}

// Login signs in, requires a profile document, stores the credentials and
// records a LOGIN event. The display name comes from the profile; the role
// stays the one carried by the verified token.
func (m *Manager) Login(ctx context.Context, email, password string) (identity.Identity, error) {
	id, err := m.provider.SignIn(ctx, email, password)
	if err != nil {
		return identity.Identity{}, err
	}

	prof, err := m.profiles.Get(ctx, model.CollectionUsers, id.UID)
	if err != nil {
		_ = m.provider.SignOut(ctx)
		if errors.Is(err, docstore.ErrNotFound) {
			return identity.Identity{}, errs.E(errs.Auth, "session.Login", ErrNoProfile)
		}
		return identity.Identity{}, errs.Remote(errs.Persistence, "session.Login", err)
	}
	if name, ok := prof.Data["name"].(string); ok && name != "" {
		id.Name = name
	}

	if err := m.persist(ctx, id); err != nil {
		return identity.Identity{}, err
	}
	m.audit.LogAccess(ctx, id.UID, "LOGIN", "user_authentication")
	return id, nil
}

// SignUp registers, stores the credentials and records a SIGNUP event.
func (m *Manager) SignUp(ctx context.Context, req identity.SignUpRequest, confirmPassword string) (identity.Identity, error) {
	if req.Password != confirmPassword {
		return identity.Identity{}, errs.E(errs.Auth, "session.SignUp", ErrPasswordMismatch)
	}
	id, err := m.provider.SignUp(ctx, req)
	if err != nil {
		return identity.Identity{}, err
	}
	if err := m.persist(ctx, id); err != nil {
		return identity.Identity{}, err
	}
	m.audit.LogAccess(ctx, id.UID, "SIGNUP", "user_registration")
	return id, nil
}

// Logout ends the session and wipes every stored credential.
func (m *Manager) Logout(ctx context.Context) {
	uid, _ := m.creds.UserID(ctx)
	if cur := m.provider.Current(); cur != nil {
		uid = cur.UID
	}
	if err := m.provider.SignOut(ctx); err != nil {
		m.log.Warn("sign out", zap.Error(err))
	}
	m.creds.ClearAll(ctx)
	if uid != "" {
		m.audit.LogAccess(ctx, uid, "LOGOUT", "user_authentication")
	}
}

// Exit wipes stored credentials without touching the signed-in identity.
func (m *Manager) Exit(ctx context.Context) {
	m.creds.ClearAll(ctx)
}

// Restore brings back the session saved by a previous Login. An expired or
// unreadable token is wiped along with the user id and reported as no
// session. The encryption key and biometric preference survive.
func (m *Manager) Restore(ctx context.Context) (identity.Identity, bool) {
	tok, ok := m.creds.AuthToken(ctx)
	if !ok || tok == "" {
		return identity.Identity{}, false
	}
	claims, err := auth.PeekClaims(tok)
	if err != nil || claims.Expired(m.now()) {
		m.log.Info("stored session discarded", zap.Error(err))
		m.forget(ctx)
		return identity.Identity{}, false
	}
	uid, _ := m.creds.UserID(ctx)
	if uid == "" {
		uid = claims.UserID
	}
	id := identity.Identity{UID: uid, Role: claims.Role, Token: tok}
	m.provider.Restore(id)
	return id, true
}

func (m *Manager) forget(ctx context.Context) {
	for _, k := range []securestore.Key{securestore.KeyAuthToken, securestore.KeyUserID} {
		if err := m.creds.Delete(ctx, k); err != nil {
			m.log.Warn("delete credential", zap.String("key", string(k)), zap.Error(err))
		}
	}
}

// SetBiometrics stores the preference. Enabling fails when the device has
// no usable biometrics.
func (m *Manager) SetBiometrics(ctx context.Context, enabled bool) bool {
	if enabled && !m.gate.IsAvailable(ctx) {
		return false
	}
	m.creds.SaveBiometricPreference(ctx, enabled)
	return true
}

// Unlock gates a restored session. Without the preference there is nothing
// to check; with it, only a successful challenge unlocks.
func (m *Manager) Unlock(ctx context.Context) bool {
	if !m.creds.BiometricPreference(ctx) {
		return true
	}
	if !m.gate.IsAvailable(ctx) {
		return false
	}
	return m.gate.Authenticate(ctx)
}
