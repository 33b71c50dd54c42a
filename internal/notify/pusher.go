package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/model"
)

// Message is one Expo push message.
type Message struct {
	To       string            `json:"to"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Sound    string            `json:"sound,omitempty"`
	Priority string            `json:"priority,omitempty"`
}

type ticket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
}

type pushResponse struct {
	Data []ticket `json:"data"`
}

// Pusher relays appointment events to the other party's device through the
// Expo push service. Recipients are looked up in the users collection.
type Pusher struct {
	http *resty.Client
	url  string
	docs docstore.Store
	log  *zap.Logger
}

func NewPusher(url string, docs docstore.Store, log *zap.Logger) *Pusher {
	if log == nil {
		log = zap.NewNop()
	}
	client := resty.New().
		SetTimeout(10*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Pusher{http: client, url: url, docs: docs, log: log.Named("pusher")}
}

// Send posts msgs in one request. A ticket with status "error" fails the
// whole call.
func (p *Pusher) Send(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	var out pushResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetBody(msgs).
		SetResult(&out).
		Post(p.url)
	if err != nil {
		return fmt.Errorf("push send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("push send: status %d", resp.StatusCode())
	}
	for _, t := range out.Data {
		if t.Status == "error" {
			return fmt.Errorf("push rejected: %s", t.Message)
		}
	}
	return nil
}

func (p *Pusher) profile(ctx context.Context, userID string) map[string]any {
	if userID == "" {
		return nil
	}
	d, err := p.docs.Get(ctx, model.CollectionUsers, userID)
	if err != nil {
		p.log.Warn("recipient lookup", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return d.Data
}

// DocumentCreated notifies the doctor of a new appointment request.
func (p *Pusher) DocumentCreated(ctx context.Context, collection, id string, data map[string]any) {
	if collection != model.CollectionAppointments {
		return
	}
	doctor := p.profile(ctx, str(data["doctorId"]))
	token := str(doctor["pushToken"])
	if token == "" {
		return
	}
	name := str(p.profile(ctx, str(data["patientId"]))["name"])
	if name == "" {
		name = "A patient"
	}
	err := p.Send(ctx, Message{
		To:    token,
		Title: "New Appointment Request",
		Body:  name + " has requested an appointment",
		Data:  map[string]string{"appointmentId": id, "type": "appointment_request"},
		Sound: defaultSound,
	})
	if err != nil {
		p.log.Error("appointment request push", zap.String("appointment_id", id), zap.Error(err))
	}
}

// DocumentUpdated notifies the patient when an appointment's status changes.
func (p *Pusher) DocumentUpdated(ctx context.Context, collection, id string, before, after map[string]any) {
	if collection != model.CollectionAppointments {
		return
	}
	status := str(after["status"])
	if status == "" || status == str(before["status"]) {
		return
	}
	token := str(p.profile(ctx, str(after["patientId"]))["pushToken"])
	if token == "" {
		return
	}
	err := p.Send(ctx, Message{
		To:    token,
		Title: "Appointment Status Updated",
		Body:  "Your appointment status has been changed to: " + status,
		Data:  map[string]string{"appointmentId": id, "type": "appointment_status_update"},
		Sound: defaultSound,
	})
	if err != nil {
		p.log.Error("status change push", zap.String("appointment_id", id), zap.Error(err))
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
