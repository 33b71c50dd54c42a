package model

import "time"

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor || r == RoleAdmin
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow-up"
	TypeEmergency    AppointmentType = "emergency"
)

type User struct {
	ID           string
	Email        string
	PasswordHash string
	Name         string
	Phone        string
	Role         Role
	PushToken    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Appointment struct {
	ID        string
	PatientID string
	DoctorID  string
	Date      time.Time
	Duration  int // minutes
	Status    Status
	Type      AppointmentType
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AuditEntry is one append-only record in the auditLogs collection.
type AuditEntry struct {
	AppointmentID string
	Action        string
	PerformedBy   string
	Resource      string
	Timestamp     time.Time
}

// Collection names in the remote document store.
const (
	CollectionAppointments = "appointments"
	CollectionAuditLogs    = "auditLogs"
	CollectionUsers        = "users"
)
