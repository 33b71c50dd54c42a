package appointments

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/docstore/memory"
	"healthcare-portal/internal/errs"
	"healthcare-portal/internal/model"
)

var errDown = errors.New("store unavailable")

// failing breaks writes to one collection and every query.
type failing struct {
	*memory.Store
	coll string
}

func (f *failing) Add(ctx context.Context, coll string, data map[string]any) (string, error) {
	if coll == f.coll {
		return "", errDown
	}
	return f.Store.Add(ctx, coll, data)
}

func (f *failing) Update(ctx context.Context, coll, id string, data map[string]any) error {
	if coll == f.coll {
		return errDown
	}
	return f.Store.Update(ctx, coll, id, data)
}

func (f *failing) Query(context.Context, docstore.Query) ([]docstore.Document, error) {
	return nil, errDown
}

// stalled blocks every write until the caller gives up.
type stalled struct{ *memory.Store }

func (s stalled) Add(ctx context.Context, _ string, _ map[string]any) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

// flaky breaks the first live stream right after it opens.
type flaky struct {
	*memory.Store
	watches atomic.Int32
	err     error
}

func (f *flaky) Watch(ctx context.Context, q docstore.Query, onSnap func([]docstore.Document), onErr func(error)) (docstore.Unsubscribe, error) {
	if f.watches.Add(1) == 1 || f.err != nil {
		err := f.err
		if err == nil {
			err = errors.New("stream reset")
		}
		go onErr(err)
		return func() {}, nil
	}
	return f.Store.Watch(ctx, q, onSnap, onErr)
}

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newService(docs docstore.Store, opts ...Option) *Service {
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return New(docs, zap.NewNop(), opts...)
}

func auditEntries(t *testing.T, docs docstore.Store) []docstore.Document {
	t.Helper()
	got, err := docs.Query(context.Background(), docstore.Collection(model.CollectionAuditLogs))
	require.NoError(t, err)
	return got
}

func TestLiveQueryShapes(t *testing.T) {
	q, err := liveQuery("U", model.RolePatient)
	require.NoError(t, err)
	f, ok := q.FilterOn("patientId")
	require.True(t, ok)
	assert.Equal(t, "U", f.Value)
	_, ok = q.FilterOn("doctorId")
	assert.False(t, ok)
	assert.Equal(t, &docstore.Order{Field: "date", Desc: true}, q.Order)

	q, err = liveQuery("D", model.RoleDoctor)
	require.NoError(t, err)
	f, ok = q.FilterOn("doctorId")
	require.True(t, ok)
	assert.Equal(t, "D", f.Value)
	_, ok = q.FilterOn("patientId")
	assert.False(t, ok)

	q, err = liveQuery("A", model.RoleAdmin)
	require.NoError(t, err)
	assert.Empty(t, q.Filters)
	assert.Equal(t, 50, q.Max)
	assert.Equal(t, &docstore.Order{Field: "createdAt", Desc: true}, q.Order)

	_, err = liveQuery("X", model.Role("nurse"))
	assert.Error(t, err)
}

func TestCreateForcesPendingAndAudits(t *testing.T) {
	docs := memory.New()
	svc := newService(docs)

	id, err := svc.Create(context.Background(), model.Appointment{
		PatientID: "p1",
		DoctorID:  "d1",
		Date:      fixedNow.Add(24 * time.Hour),
		Duration:  30,
		Status:    model.StatusCompleted,
		Type:      model.TypeConsultation,
		CreatedAt: time.Unix(0, 0),
	})
	require.NoError(t, err)

	a := svc.GetByID(context.Background(), id)
	require.NotNil(t, a)
	assert.Equal(t, model.StatusPending, a.Status)
	assert.True(t, a.CreatedAt.Equal(fixedNow))
	assert.True(t, a.UpdatedAt.Equal(fixedNow))
	assert.Equal(t, 30, a.Duration)
	assert.Equal(t, model.TypeConsultation, a.Type)

	entries := auditEntries(t, docs)
	require.Len(t, entries, 1)
	assert.Equal(t, "CREATED", entries[0].Data["action"])
	assert.Equal(t, id, entries[0].Data["appointmentId"])
	assert.Equal(t, "p1", entries[0].Data["performedBy"])
	assert.Equal(t, "appointment", entries[0].Data["resource"])
}

func TestCreateFailure(t *testing.T) {
	svc := newService(&failing{Store: memory.New(), coll: model.CollectionAppointments})
	_, err := svc.Create(context.Background(), model.Appointment{PatientID: "p1"})
	assert.ErrorIs(t, err, errs.Persistence)
	assert.ErrorIs(t, err, errDown)
}

func TestCreateSurvivesAuditFailure(t *testing.T) {
	docs := &failing{Store: memory.New(), coll: model.CollectionAuditLogs}
	svc := newService(docs)
	id, err := svc.Create(context.Background(), model.Appointment{PatientID: "p1"})
	require.NoError(t, err)
	assert.NotNil(t, svc.GetByID(context.Background(), id))
}

func TestCreateTimeout(t *testing.T) {
	svc := newService(stalled{memory.New()}, WithTimeout(10*time.Millisecond))
	_, err := svc.Create(context.Background(), model.Appointment{PatientID: "p1"})
	assert.ErrorIs(t, err, errs.Timeout)
}

func TestUpdateStatus(t *testing.T) {
	docs := memory.New()
	svc := newService(docs)
	id, err := svc.Create(context.Background(), model.Appointment{PatientID: "p1", DoctorID: "d1"})
	require.NoError(t, err)

	require.NoError(t, svc.UpdateStatus(context.Background(), id, model.StatusConfirmed, "userX"))
	assert.Equal(t, model.StatusConfirmed, svc.GetByID(context.Background(), id).Status)

	entries := auditEntries(t, docs)
	require.Len(t, entries, 2)
	var found bool
	for _, e := range entries {
		if e.Data["action"] == "STATUS_CHANGED_CONFIRMED" {
			found = true
			assert.Equal(t, "userX", e.Data["performedBy"])
			assert.Equal(t, id, e.Data["appointmentId"])
		}
	}
	assert.True(t, found)

	err = svc.UpdateStatus(context.Background(), id, model.Status("archived"), "userX")
	assert.ErrorIs(t, err, errs.Persistence)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	err = svc.UpdateStatus(context.Background(), "missing", model.StatusCancelled, "userX")
	assert.ErrorIs(t, err, errs.Persistence)
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestGetByIDMissing(t *testing.T) {
	svc := newService(memory.New())
	assert.Nil(t, svc.GetByID(context.Background(), "nope"))
}

func TestGetUpcoming(t *testing.T) {
	ctx := context.Background()
	docs := memory.New()
	svc := newService(docs)

	add := func(patient string, date time.Time, status model.Status) string {
		id, err := docs.Add(ctx, model.CollectionAppointments, map[string]any{
			"patientId": patient,
			"doctorId":  "d1",
			"date":      date,
			"status":    string(status),
		})
		require.NoError(t, err)
		return id
	}
	later := add("p1", fixedNow.Add(48*time.Hour), model.StatusConfirmed)
	sooner := add("p1", fixedNow.Add(time.Hour), model.StatusPending)
	add("p1", fixedNow.Add(2*time.Hour), model.StatusCancelled)
	add("p1", fixedNow.Add(-time.Hour), model.StatusPending)
	add("p2", fixedNow.Add(time.Hour), model.StatusPending)

	got := svc.GetUpcoming(ctx, "p1", model.RolePatient)
	require.Len(t, got, 2)
	assert.Equal(t, sooner, got[0].ID)
	assert.Equal(t, later, got[1].ID)

	assert.Len(t, svc.GetUpcoming(ctx, "d1", model.RoleDoctor), 3)

	admin := svc.GetUpcoming(ctx, "a1", model.RoleAdmin)
	assert.NotNil(t, admin)
	assert.Empty(t, admin)

	broken := newService(&failing{Store: docs})
	got = broken.GetUpcoming(ctx, "p1", model.RolePatient)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func recv(t *testing.T, ch <-chan []model.Appointment) []model.Appointment {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
	}
	return nil
}

func TestSubscribe(t *testing.T) {
	ctx := context.Background()
	docs := memory.New()
	svc := newService(docs)
	updates := make(chan []model.Appointment, 16)

	unsub, err := svc.Subscribe(ctx, "p1", model.RolePatient, func(as []model.Appointment) { updates <- as })
	require.NoError(t, err)
	assert.Empty(t, recv(t, updates))

	date := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)
	_, err = svc.Create(ctx, model.Appointment{PatientID: "p1", DoctorID: "d1", Date: date})
	require.NoError(t, err)

	got := recv(t, updates)
	require.Len(t, got, 1)
	assert.True(t, got[0].Date.Equal(date))
	assert.True(t, got[0].CreatedAt.Equal(fixedNow))

	unsub()
	unsub()
	assert.Equal(t, 0, docs.Watchers())
}

func TestSubscribeRejectsUnknownRole(t *testing.T) {
	svc := newService(memory.New())
	_, err := svc.Subscribe(context.Background(), "x", model.Role(""), func([]model.Appointment) {})
	assert.ErrorIs(t, err, errs.Persistence)
}

func TestSubscribeResubscribesAfterFailure(t *testing.T) {
	ctx := context.Background()
	docs := &flaky{Store: memory.New()}
	_, err := docs.Add(ctx, model.CollectionAppointments, map[string]any{"doctorId": "d1", "date": fixedNow})
	require.NoError(t, err)

	svc := newService(docs, WithBackoff(time.Millisecond, 10*time.Millisecond))
	updates := make(chan []model.Appointment, 16)
	unsub, err := svc.Subscribe(ctx, "d1", model.RoleDoctor, func(as []model.Appointment) { updates <- as })
	require.NoError(t, err)
	defer unsub()

	got := recv(t, updates)
	assert.Len(t, got, 1)
	assert.Equal(t, int32(2), docs.watches.Load())
}

func TestSubscribeStopsOnPermanentFailure(t *testing.T) {
	ctx := context.Background()
	docs := &flaky{Store: memory.New(), err: status.Error(codes.PermissionDenied, "access denied")}
	svc := newService(docs, WithBackoff(time.Millisecond, 2*time.Millisecond))

	unsub, err := svc.Subscribe(ctx, "p1", model.RolePatient, func([]model.Appointment) {
		t.Error("no snapshot expected")
	})
	require.NoError(t, err)
	defer unsub()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), docs.watches.Load())
}

func TestBackoff(t *testing.T) {
	svc := New(memory.New(), nil)
	assert.Equal(t, 250*time.Millisecond, svc.backoff(0))
	assert.Equal(t, 500*time.Millisecond, svc.backoff(1))
	assert.Equal(t, 2*time.Second, svc.backoff(3))
	assert.Equal(t, 30*time.Second, svc.backoff(20))
}

func TestTimeField(t *testing.T) {
	want := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	tests := []struct {
		name string
		in   any
	}{
		{"native", docstore.TimestampOf(want)},
		{"time", want},
		{"rfc3339", "2024-03-04T05:06:07Z"},
		{"millis", float64(want.UnixMilli())},
		{"wire map", map[string]any{"_seconds": float64(want.Unix()), "_nanoseconds": 0.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, timeField(tt.in).Equal(want), "got %v", timeField(tt.in))
		})
	}
	assert.True(t, timeField("not a date").IsZero())
	assert.True(t, timeField(nil).IsZero())
}
