// Package notify registers the device for push, raises local notifications
// and, server side, relays appointment events to Expo push.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/model"
)

type Permission string

const (
	PermissionGranted      Permission = "granted"
	PermissionDenied       Permission = "denied"
	PermissionUndetermined Permission = "undetermined"
)

type Priority string

const (
	PriorityDefault Priority = "default"
	PriorityHigh    Priority = "high"
)

const (
	CategoryAppointment = "appointment"
	CategoryEmergency   = "emergency"

	defaultSound = "default"
)

// Content of one notification. An empty Category means a plain alert.
type Content struct {
	Title    string
	Body     string
	Data     map[string]any
	Sound    string
	Category string
	Priority Priority
}

// Request is a notification the platform has accepted but not delivered.
type Request struct {
	ID      string
	Content Content
}

// Action is one interactive button of a category.
type Action struct {
	ID         string
	Title      string
	Foreground bool
}

// Platform is the device notification API.
type Platform interface {
	IsDevice() bool
	OS() string
	PermissionStatus(ctx context.Context) (Permission, error)
	RequestPermission(ctx context.Context) (Permission, error)
	PushToken(ctx context.Context) (string, error)
	// Schedule presents c immediately and returns its identifier.
	Schedule(ctx context.Context, c Content) (string, error)
	Cancel(ctx context.Context, id string) error
	Scheduled(ctx context.Context) ([]Request, error)
	SetCategory(ctx context.Context, name string, actions []Action) error
}

// Dispatcher never fails its caller; every platform or store error is
// logged and degrades to an empty result.
type Dispatcher struct {
	p        Platform
	profiles docstore.Store
	log      *zap.Logger
	now      func() time.Time
}

func NewDispatcher(p Platform, profiles docstore.Store, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{p: p, profiles: profiles, log: log.Named("notify"), now: time.Now}
}

// RegisterForPush returns the device push token, or "" off-device, without
// permission, or on any error.
func (d *Dispatcher) RegisterForPush(ctx context.Context) string {
	if !d.p.IsDevice() {
		d.log.Info("push notifications need a physical device")
		return ""
	}
	status, err := d.p.PermissionStatus(ctx)
	if err != nil {
		d.log.Warn("permission status", zap.Error(err))
		return ""
	}
	if status != PermissionGranted {
		status, err = d.p.RequestPermission(ctx)
		if err != nil {
			d.log.Warn("request permission", zap.Error(err))
			return ""
		}
	}
	if status != PermissionGranted {
		d.log.Info("push permission not granted", zap.String("status", string(status)))
		return ""
	}
	tok, err := d.p.PushToken(ctx)
	if err != nil {
		d.log.Warn("push token", zap.Error(err))
		return ""
	}
	return tok
}

// SavePushToken merges the token and platform tag into users/{userID}.
func (d *Dispatcher) SavePushToken(ctx context.Context, userID, token string) {
	err := d.profiles.Update(ctx, model.CollectionUsers, userID, map[string]any{
		"pushToken":          token,
		"pushTokenPlatform":  d.p.OS(),
		"pushTokenUpdatedAt": d.now().UTC(),
	})
	if err != nil {
		d.log.Error("save push token", zap.String("user_id", userID), zap.Error(err))
	}
}

func (d *Dispatcher) schedule(ctx context.Context, c Content) string {
	if c.Sound == "" {
		c.Sound = defaultSound
	}
	if c.Data == nil {
		c.Data = map[string]any{}
	}
	id, err := d.p.Schedule(ctx, c)
	if err != nil {
		d.log.Error("schedule notification", zap.String("title", c.Title), zap.Error(err))
		return ""
	}
	return id
}

// SendLocal shows an in-app notification now. It returns the notification
// id, or "" on failure.
func (d *Dispatcher) SendLocal(ctx context.Context, title, body string, data map[string]any) string {
	return d.schedule(ctx, Content{Title: title, Body: body, Data: data})
}

// SendEmergency shows an interactive emergency alert. Any priority other
// than high is sent as default.
func (d *Dispatcher) SendEmergency(ctx context.Context, userID, title, message string, priority Priority) string {
	if priority != PriorityHigh {
		priority = PriorityDefault
	}
	return d.schedule(ctx, Content{
		Title:    title,
		Body:     message,
		Data:     map[string]any{"userId": userID, "type": "emergency", "priority": string(priority)},
		Category: CategoryEmergency,
		Priority: priority,
	})
}

// SendAppointmentReminder tells the user the appointment starts in
// minutesUntil minutes. patientName is optional.
func (d *Dispatcher) SendAppointmentReminder(ctx context.Context, appointmentID, doctorName, patientName string, minutesUntil int) string {
	if minutesUntil <= 0 {
		minutesUntil = 60
	}
	body := fmt.Sprintf("You have an appointment with %s in %d minutes", doctorName, minutesUntil)
	if patientName != "" {
		body += " for " + patientName
	}
	return d.schedule(ctx, Content{
		Title:    "Appointment Reminder",
		Body:     body,
		Data:     map[string]any{"appointmentId": appointmentID, "type": "appointment_reminder"},
		Category: CategoryAppointment,
	})
}

func (d *Dispatcher) CancelScheduled(ctx context.Context, id string) {
	if err := d.p.Cancel(ctx, id); err != nil {
		d.log.Error("cancel notification", zap.String("id", id), zap.Error(err))
	}
}

func (d *Dispatcher) ScheduledNotifications(ctx context.Context) []Request {
	reqs, err := d.p.Scheduled(ctx)
	if err != nil {
		d.log.Error("list scheduled notifications", zap.Error(err))
		return []Request{}
	}
	if reqs == nil {
		return []Request{}
	}
	return reqs
}

// Categories are the interactive notification types the app registers.
var Categories = map[string][]Action{
	CategoryAppointment: {
		{ID: "view", Title: "View Details", Foreground: true},
		{ID: "snooze", Title: "Remind Later"},
	},
	CategoryEmergency: {
		{ID: "call", Title: "Call Now", Foreground: true},
		{ID: "dismiss", Title: "Dismiss"},
	},
}

func (d *Dispatcher) InitCategories(ctx context.Context) {
	for _, name := range []string{CategoryAppointment, CategoryEmergency} {
		if err := d.p.SetCategory(ctx, name, Categories[name]); err != nil {
			d.log.Error("set notification category", zap.String("category", name), zap.Error(err))
			return
		}
	}
}
