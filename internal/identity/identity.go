// Package identity signs users up and in. Service is the server side
// (password hashes + signed ID tokens); Provider is the device-side holder
// of the current identity and its auth-state listeners.
package identity

import (
	"context"
	"errors"

	"healthcare-portal/internal/model"
)

var (
	ErrEmailInUse         = errors.New("email already in use")
	ErrNoUser             = errors.New("no such user")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrWeakPassword       = errors.New("password must be at least 6 characters")
	ErrMissingFields      = errors.New("all fields required")
	ErrInvalidRole        = errors.New("role must be patient or doctor")
)

type Identity struct {
	UID   string
	Email string
	Name  string
	Role  model.Role
	Token string
}

type SignUpRequest struct {
	Email    string
	Password string
	Name     string
	Phone    string
	Role     model.Role
}

// Authenticator is the identity provider as seen from the device:
// implemented in-process by Service and remotely by rpc.Client.
type Authenticator interface {
	SignUp(ctx context.Context, req SignUpRequest) (Identity, error)
	SignIn(ctx context.Context, email, password string) (Identity, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *model.User) error
	UserByEmail(ctx context.Context, email string) (*model.User, error)
}
