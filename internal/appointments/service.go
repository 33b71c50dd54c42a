// Package appointments keeps role-scoped appointment lists in sync with the
// remote document store and writes appointment changes with their audit
// trail.
package appointments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/model"
)

var ErrInvalidStatus = errors.New("invalid appointment status")

const (
	DefaultTimeout    = 10 * time.Second
	defaultMinBackoff = 250 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second

	auditResource = "appointment"
)

type Service struct {
	docs    docstore.Store
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time

	minBackoff time.Duration
	maxBackoff time.Duration
}

type Option func(*Service)

// WithTimeout bounds every remote call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// WithBackoff sets the resubscribe delay range.
func WithBackoff(lo, hi time.Duration) Option {
	return func(s *Service) { s.minBackoff, s.maxBackoff = lo, hi }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(docs docstore.Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		docs:       docs,
		log:        log.Named("appointments"),
		timeout:    DefaultTimeout,
		now:        time.Now,
		minBackoff: defaultMinBackoff,
		maxBackoff: defaultMaxBackoff,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// Create stores a new appointment as pending and records a CREATED audit
// entry. Caller-supplied status and timestamps are ignored. The audit write
// is best effort: once the appointment is stored, Create succeeds.
func (s *Service) Create(ctx context.Context, a model.Appointment) (string, error) {
	const op = "appointments.Create"
	now := s.now().UTC()
	a.Status = model.StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now

	cctx, cancel := s.call(ctx)
	id, err := s.docs.Add(cctx, model.CollectionAppointments, encode(a))
	cancel()
	if err != nil {
		return "", errs.Remote(errs.Persistence, op, err)
	}

	s.audit(ctx, model.AuditEntry{
		AppointmentID: id,
		Action:        "CREATED",
		PerformedBy:   a.PatientID,
		Resource:      auditResource,
		Timestamp:     now,
	})
	return id, nil
}

func (s *Service) UpdateStatus(ctx context.Context, id string, status model.Status, updatedBy string) error {
	const op = "appointments.UpdateStatus"
	if !status.Valid() {
		return errs.E(errs.Persistence, op, fmt.Errorf("%w: %q", ErrInvalidStatus, status))
	}
	now := s.now().UTC()

	cctx, cancel := s.call(ctx)
	err := s.docs.Update(cctx, model.CollectionAppointments, id, map[string]any{
		"status":    string(status),
		"updatedAt": now,
	})
	cancel()
	if err != nil {
		return errs.Remote(errs.Persistence, op, err)
	}

	s.audit(ctx, model.AuditEntry{
		AppointmentID: id,
		Action:        "STATUS_CHANGED_" + strings.ToUpper(string(status)),
		PerformedBy:   updatedBy,
		Resource:      auditResource,
		Timestamp:     now,
	})
	return nil
}

func (s *Service) audit(ctx context.Context, e model.AuditEntry) {
	cctx, cancel := s.call(ctx)
	defer cancel()
	_, err := s.docs.Add(cctx, model.CollectionAuditLogs, map[string]any{
		"appointmentId": e.AppointmentID,
		"action":        e.Action,
		"performedBy":   e.PerformedBy,
		"resource":      e.Resource,
		"timestamp":     e.Timestamp,
	})
	if err != nil {
		s.log.Error("audit write failed",
			zap.String("appointment_id", e.AppointmentID),
			zap.String("action", e.Action),
			zap.Error(err))
	}
}

// GetByID returns nil when the appointment is absent or cannot be read.
func (s *Service) GetByID(ctx context.Context, id string) *model.Appointment {
	cctx, cancel := s.call(ctx)
	defer cancel()
	d, err := s.docs.Get(cctx, model.CollectionAppointments, id)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			s.log.Warn("get appointment", zap.String("id", id), zap.Error(err))
		}
		return nil
	}
	a := decode(*d)
	return &a
}

// GetUpcoming lists the next pending or confirmed appointments of a patient
// or doctor. It returns an empty slice for other roles and on any failure.
func (s *Service) GetUpcoming(ctx context.Context, userID string, role model.Role) []model.Appointment {
	q, ok := upcomingQuery(userID, role, s.now().UTC())
	if !ok {
		return []model.Appointment{}
	}
	cctx, cancel := s.call(ctx)
	defer cancel()
	docs, err := s.docs.Query(cctx, q)
	if err != nil {
		s.log.Warn("upcoming query", zap.String("user_id", userID), zap.Error(err))
		return []model.Appointment{}
	}
	return decodeAll(docs)
}
