package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"healthcare-portal/internal/auth"
	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/model"
)

const minPasswordLen = 6

type Service struct {
	users    UserStore
	profiles docstore.Store
	secret   string
}

// NewService signs tokens with secret. profiles may be nil; when set, sign-up
// also writes the users/{uid} profile document.
func NewService(users UserStore, profiles docstore.Store, secret string) *Service {
	return &Service{users: users, profiles: profiles, secret: secret}
}

func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (Identity, error) {
	const op = "identity.SignUp"
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return Identity{}, errs.E(errs.Auth, op, ErrMissingFields)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return Identity{}, errs.E(errs.Auth, op, ErrInvalidEmail)
	}
	if len(req.Password) < minPasswordLen {
		return Identity{}, errs.E(errs.Auth, op, ErrWeakPassword)
	}
	// admins are provisioned, never self-registered
	if req.Role != model.RolePatient && req.Role != model.RoleDoctor {
		return Identity{}, errs.E(errs.Auth, op, ErrInvalidRole)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return Identity{}, err
	}
	u := &model.User{
		ID:           uuid.New().String(),
		Email:        strings.ToLower(req.Email),
		PasswordHash: hash,
		Name:         req.Name,
		Phone:        req.Phone,
		Role:         req.Role,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrEmailInUse) {
			return Identity{}, errs.E(errs.Auth, op, err)
		}
		return Identity{}, errs.Remote(errs.Persistence, op, err)
	}

	if s.profiles != nil {
		now := time.Now()
		err := s.profiles.Set(ctx, model.CollectionUsers, u.ID, map[string]any{
			"id":        u.ID,
			"email":     u.Email,
			"name":      u.Name,
			"phone":     u.Phone,
			"role":      string(u.Role),
			"createdAt": now,
			"updatedAt": now,
		})
		if err != nil {
			return Identity{}, errs.Remote(errs.Persistence, op, err)
		}
	}
	return s.issue(u)
}

func (s *Service) SignIn(ctx context.Context, email, password string) (Identity, error) {
	const op = "identity.SignIn"
	if email == "" || password == "" {
		return Identity{}, errs.E(errs.Auth, op, ErrMissingFields)
	}
	u, err := s.users.UserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, ErrNoUser) {
			// same answer as a wrong password
			return Identity{}, errs.E(errs.Auth, op, ErrInvalidCredentials)
		}
		return Identity{}, errs.Remote(errs.Persistence, op, err)
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return Identity{}, errs.E(errs.Auth, op, ErrInvalidCredentials)
	}
	return s.issue(u)
}

func (s *Service) issue(u *model.User) (Identity, error) {
	tok, err := auth.MakeToken(u.ID, u.Role, s.secret)
	if err != nil {
		return Identity{}, err
	}
	return Identity{UID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, Token: tok}, nil
}
