package appointments

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/model"
)

// Subscribe streams the role-scoped appointment list to onUpdate, once right
// away and again on every change. Each call carries the full result set.
// A broken stream is logged and re-established with exponential backoff
// until the returned func is called or ctx ends. A refusal that retrying
// cannot fix (permission, bad query, expired token) ends the subscription.
func (s *Service) Subscribe(ctx context.Context, userID string, role model.Role, onUpdate func([]model.Appointment)) (docstore.Unsubscribe, error) {
	const op = "appointments.Subscribe"
	q, err := liveQuery(userID, role)
	if err != nil {
		return nil, errs.E(errs.Persistence, op, err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		s:        s,
		ctx:      sctx,
		cancel:   cancel,
		q:        q,
		userID:   userID,
		onUpdate: onUpdate,
	}
	if err := sub.watch(); err != nil {
		cancel()
		return nil, errs.Remote(errs.Persistence, op, err)
	}
	return sub.stop, nil
}

type subscription struct {
	s        *Service
	ctx      context.Context
	cancel   context.CancelFunc
	q        docstore.Query
	userID   string
	onUpdate func([]model.Appointment)

	mu       sync.Mutex
	inner    docstore.Unsubscribe
	retry    *time.Timer
	failures int
	once     sync.Once
}

func (sub *subscription) watch() error {
	unsub, err := sub.s.docs.Watch(sub.ctx, sub.q, sub.deliver, sub.fail)
	if err != nil {
		return err
	}
	sub.mu.Lock()
	if sub.ctx.Err() != nil {
		sub.mu.Unlock()
		unsub()
		return nil
	}
	old := sub.inner
	sub.inner = unsub
	sub.mu.Unlock()
	if old != nil {
		old()
	}
	return nil
}

func (sub *subscription) deliver(docs []docstore.Document) {
	if sub.ctx.Err() != nil {
		return
	}
	sub.mu.Lock()
	sub.failures = 0
	sub.mu.Unlock()
	sub.onUpdate(decodeAll(docs))
}

// permanent reports failures that will recur on every resubscribe.
func permanent(err error) bool {
	switch status.Code(err) {
	case codes.PermissionDenied, codes.InvalidArgument, codes.Unauthenticated,
		codes.Unimplemented, codes.FailedPrecondition:
		return true
	}
	return false
}

func (sub *subscription) fail(err error) {
	if sub.ctx.Err() != nil {
		return
	}
	if permanent(err) {
		sub.s.log.Error("appointment stream refused, giving up",
			zap.String("user_id", sub.userID),
			zap.Error(err))
		sub.stop()
		return
	}
	sub.mu.Lock()
	old := sub.inner
	sub.inner = nil
	delay := sub.s.backoff(sub.failures)
	sub.failures++
	sub.retry = time.AfterFunc(delay, sub.resubscribe)
	sub.mu.Unlock()
	if old != nil {
		old()
	}

	sub.s.log.Warn("appointment stream failed, resubscribing",
		zap.String("user_id", sub.userID),
		zap.Duration("delay", delay),
		zap.Error(err))
}

func (sub *subscription) resubscribe() {
	if sub.ctx.Err() != nil {
		return
	}
	if err := sub.watch(); err != nil {
		sub.fail(err)
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() {
		sub.cancel()
		sub.mu.Lock()
		inner := sub.inner
		sub.inner = nil
		if sub.retry != nil {
			sub.retry.Stop()
		}
		sub.mu.Unlock()
		if inner != nil {
			inner()
		}
	})
}

// backoff doubles from minBackoff up to maxBackoff.
func (s *Service) backoff(failures int) time.Duration {
	d := s.minBackoff
	for i := 0; i < failures && d < s.maxBackoff; i++ {
		d *= 2
	}
	if d > s.maxBackoff {
		d = s.maxBackoff
	}
	return d
}
