package appointments

import (
	"fmt"
	"time"

	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/model"
)

const (
	adminLimit    = 50
	upcomingLimit = 10
)

// liveQuery is the role-scoped query behind Subscribe.
func liveQuery(userID string, role model.Role) (docstore.Query, error) {
	q := docstore.Collection(model.CollectionAppointments)
	switch role {
	case model.RolePatient:
		return q.Where("patientId", docstore.OpEq, userID).OrderBy("date", true), nil
	case model.RoleDoctor:
		return q.Where("doctorId", docstore.OpEq, userID).OrderBy("date", true), nil
	case model.RoleAdmin:
		return q.OrderBy("createdAt", true).Limit(adminLimit), nil
	}
	return docstore.Query{}, fmt.Errorf("appointments: no live query for role %q", role)
}

func upcomingQuery(userID string, role model.Role, now time.Time) (docstore.Query, bool) {
	var field string
	switch role {
	case model.RolePatient:
		field = "patientId"
	case model.RoleDoctor:
		field = "doctorId"
	default:
		return docstore.Query{}, false
	}
	return docstore.Collection(model.CollectionAppointments).
		Where(field, docstore.OpEq, userID).
		Where("date", docstore.OpGte, now).
		Where("status", docstore.OpIn, []string{string(model.StatusPending), string(model.StatusConfirmed)}).
		OrderBy("date", false).
		Limit(upcomingLimit), true
}
