// Package errs holds the error kinds shared by the portal core.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can choose user-facing messaging
// without matching on strings.
type Kind uint8

const (
	_ Kind = iota
	Storage
	Encryption
	Persistence
	Auth
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Storage:
		return "storage"
	case Encryption:
		return "encryption"
	case Persistence:
		return "persistence"
	case Auth:
		return "auth"
	case Timeout:
		return "timeout"
	}
	return "unknown"
}

// Error implements error so a bare Kind can be the target of errors.Is.
func (k Kind) Error() string { return k.String() + " error" }

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errs.Persistence) match any *Error of that kind.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.Kind
}

func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Remote classifies a failed remote call: deadline expiry becomes Timeout,
// everything else falls back to kind.
func Remote(kind Kind, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Timeout, Op: op, Err: err}
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
