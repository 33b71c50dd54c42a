package compliance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AccessEvent is one audit record of a data access.
type AccessEvent struct {
	Timestamp time.Time
	UserID    string
	Action    string
	Resource  string
	IPAddress string
}

// Sink stores access events. Implementations may block; Logger calls them
// off the caller's goroutine.
type Sink interface {
	Write(ctx context.Context, ev AccessEvent) error
}

const (
	clientAddress = "mobile_app"
	queueSize     = 256
	writeTimeout  = 5 * time.Second
)

// Logger is fire-and-forget: LogAccess never blocks on the sink and never
// reports an error to the business operation that triggered it.
type Logger struct {
	sink Sink
	log  *zap.Logger
	now  func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan AccessEvent
	done   chan struct{}
}

func NewLogger(sink Sink, log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Logger{
		sink:  sink,
		log:   log.Named("audit"),
		now:   time.Now,
		queue: make(chan AccessEvent, queueSize),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Logger) LogAccess(_ context.Context, userID, action, resource string) {
	ev := AccessEvent{
		Timestamp: l.now().UTC(),
		UserID:    userID,
		Action:    action,
		Resource:  resource,
		IPAddress: clientAddress,
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.log.Warn("audit event after close", zap.String("action", action))
		return
	}
	select {
	case l.queue <- ev:
	default:
		l.log.Warn("audit queue full, event dropped",
			zap.String("user_id", userID), zap.String("action", action))
	}
}

// Close drains queued events and stops the writer. Safe to call twice.
func (l *Logger) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()
	<-l.done
}

func (l *Logger) run() {
	defer close(l.done)
	for ev := range l.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := l.sink.Write(ctx, ev)
		cancel()
		if err != nil {
			l.log.Error("audit write failed",
				zap.String("user_id", ev.UserID),
				zap.String("action", ev.Action),
				zap.Error(err))
		}
	}
}

// ZapSink writes events as structured log lines.
type ZapSink struct {
	log *zap.Logger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: log}
}

func (s *ZapSink) Write(_ context.Context, ev AccessEvent) error {
	s.log.Info("hipaa audit",
		zap.Time("timestamp", ev.Timestamp),
		zap.String("user_id", ev.UserID),
		zap.String("action", ev.Action),
		zap.String("resource", ev.Resource),
		zap.String("ip_address", ev.IPAddress),
	)
	return nil
}

// MultiSink writes to every sink and returns the first error.
type MultiSink []Sink

func (m MultiSink) Write(ctx context.Context, ev AccessEvent) error {
	var first error
	for _, s := range m {
		if err := s.Write(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
