// Package biometric gates sensitive screens behind the device's biometric
// challenge. Every failure degrades to "not available" / "not authenticated".
package biometric

import (
	"context"

	"go.uber.org/zap"
)

type Type string

const (
	TypeFingerprint Type = "fingerprint"
	TypeFace        Type = "facial_recognition"
	TypeIris        Type = "iris"
)

type Options struct {
	PromptMessage         string
	FallbackLabel         string
	CancelLabel           string
	DisableDeviceFallback bool
}

type Result struct {
	Success bool
	Error   string // platform reason on failure, e.g. "user_cancel"
}

// Platform is the device's local-authentication API.
type Platform interface {
	HasHardware(ctx context.Context) (bool, error)
	IsEnrolled(ctx context.Context) (bool, error)
	Authenticate(ctx context.Context, opts Options) (Result, error)
	SupportedTypes(ctx context.Context) ([]Type, error)
}

// Prompt is the fixed challenge shown to the user; PIN fallback stays enabled.
var Prompt = Options{
	PromptMessage:         "Authenticate to access Digital Healthcare",
	FallbackLabel:         "Use PIN",
	CancelLabel:           "Cancel",
	DisableDeviceFallback: false,
}

type Gate struct {
	p   Platform
	log *zap.Logger
}

func NewGate(p Platform, log *zap.Logger) *Gate {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gate{p: p, log: log.Named("biometric")}
}

func (g *Gate) IsAvailable(ctx context.Context) bool {
	hw, err := g.p.HasHardware(ctx)
	if err != nil {
		g.log.Warn("hardware check failed", zap.Error(err))
		return false
	}
	enrolled, err := g.p.IsEnrolled(ctx)
	if err != nil {
		g.log.Warn("enrollment check failed", zap.Error(err))
		return false
	}
	return hw && enrolled
}

// Authenticate runs one challenge. No retries; that is the caller's call.
func (g *Gate) Authenticate(ctx context.Context) bool {
	res, err := g.p.Authenticate(ctx, Prompt)
	if err != nil {
		g.log.Warn("authenticate failed", zap.Error(err))
		return false
	}
	if !res.Success && res.Error != "" {
		g.log.Debug("authenticate rejected", zap.String("reason", res.Error))
	}
	return res.Success
}

func (g *Gate) SupportedTypes(ctx context.Context) []Type {
	ts, err := g.p.SupportedTypes(ctx)
	if err != nil {
		g.log.Warn("supported types failed", zap.Error(err))
		return []Type{}
	}
	return ts
}
