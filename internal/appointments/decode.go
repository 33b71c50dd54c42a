package appointments

import (
	"strings"
	"time"

	"healthcare-portal/internal/docstore"
	"healthcare-portal/internal/model"
)

// timeField converts whatever a store hands back for a date field into a
// time.Time. Native timestamps go through their AsTime accessor; anything
// else is parsed as a generic date. Unparseable values yield the zero time.
func timeField(v any) time.Time {
	switch x := v.(type) {
	case interface{ AsTime() time.Time }:
		return x.AsTime()
	case time.Time:
		return x.UTC()
	case *time.Time:
		if x != nil {
			return x.UTC()
		}
	case string:
		return parseDate(x)
	case float64:
		// epoch millis
		return time.UnixMilli(int64(x)).UTC()
	case int64:
		return time.UnixMilli(x).UTC()
	case map[string]any:
		return mapTime(x)
	}
	return time.Time{}
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// mapTime accepts the wire shapes of a timestamp that lost its type on the
// way through a JSON layer.
func mapTime(m map[string]any) time.Time {
	for _, keys := range [][2]string{{"_seconds", "_nanoseconds"}, {"seconds", "nanoseconds"}} {
		sec, ok := m[keys[0]].(float64)
		if !ok {
			continue
		}
		nanos, _ := m[keys[1]].(float64)
		return docstore.Timestamp{Seconds: int64(sec), Nanos: int32(nanos)}.AsTime()
	}
	return time.Time{}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func decode(d docstore.Document) model.Appointment {
	a := model.Appointment{
		ID:        d.ID,
		PatientID: str(d.Data["patientId"]),
		DoctorID:  str(d.Data["doctorId"]),
		Date:      timeField(d.Data["date"]),
		Status:    model.Status(str(d.Data["status"])),
		Type:      model.AppointmentType(str(d.Data["type"])),
		Notes:     str(d.Data["notes"]),
		CreatedAt: timeField(d.Data["createdAt"]),
		UpdatedAt: timeField(d.Data["updatedAt"]),
	}
	if n, ok := d.Data["duration"].(float64); ok {
		a.Duration = int(n)
	}
	return a
}

func decodeAll(docs []docstore.Document) []model.Appointment {
	out := make([]model.Appointment, 0, len(docs))
	for _, d := range docs {
		out = append(out, decode(d))
	}
	return out
}

func encode(a model.Appointment) map[string]any {
	m := map[string]any{
		"patientId": a.PatientID,
		"doctorId":  a.DoctorID,
		"date":      a.Date,
		"duration":  a.Duration,
		"status":    string(a.Status),
		"type":      string(a.Type),
		"createdAt": a.CreatedAt,
		"updatedAt": a.UpdatedAt,
	}
	if a.Notes != "" {
		m["notes"] = a.Notes
	}
	return m
}
