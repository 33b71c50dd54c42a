package store

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"healthcare-portal/internal/identity"
	"healthcare-portal/internal/model"
)

func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, name, phone, role) VALUES ($1,$2,$3,$4,$5,$6)`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash, u.Name, u.Phone, string(u.Role),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return identity.ErrEmailInUse
	}
	return err
}

func (s *Store) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	u := &model.User{}
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, name, phone, role, created_at, updated_at
		 FROM users WHERE email = $1`, strings.ToLower(email),
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Phone, &role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, identity.ErrNoUser
	}
	if err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return u, nil
}
