package docstore_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcare-portal/internal/docstore"
)

type status string

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 1500, time.UTC)
	got := docstore.Normalize(map[string]any{
		"status":   status("pending"),
		"duration": 30,
		"date":     now,
		"tags":     []string{"a", "b"},
		"nested":   map[string]int{"x": 1},
	}).(map[string]any)

	assert.Equal(t, "pending", got["status"])
	assert.Equal(t, 30.0, got["duration"])
	assert.Equal(t, docstore.TimestampOf(now), got["date"])
	assert.Equal(t, []any{"a", "b"}, got["tags"])
	assert.Equal(t, map[string]any{"x": 1.0}, got["nested"])
	assert.True(t, now.Equal(got["date"].(docstore.Timestamp).AsTime()))
}

func TestCompareAcrossTypes(t *testing.T) {
	ts := docstore.Timestamp{Seconds: 10}
	ordered := []any{nil, false, true, -1.0, 2.0, ts, docstore.Timestamp{Seconds: 10, Nanos: 1}, "a", "b"}
	for i := 0; i+1 < len(ordered); i++ {
		assert.Equal(t, -1, docstore.Compare(ordered[i], ordered[i+1]), "%v < %v", ordered[i], ordered[i+1])
		assert.Equal(t, 1, docstore.Compare(ordered[i+1], ordered[i]))
	}
	assert.Equal(t, 0, docstore.Compare(ts, ts))
}

func TestJSONRoundTrip(t *testing.T) {
	in := docstore.NormalizeMap(map[string]any{
		"date":  time.Unix(1700000000, 123456789),
		"notes": "x",
		"list":  []any{time.Unix(5, 0)},
	})
	raw, err := json.Marshal(docstore.EncodeJSON(in))
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.Equal(t, in, docstore.DecodeJSON(back))
}

func TestApply(t *testing.T) {
	docs := []docstore.Document{
		{ID: "1", Data: docstore.NormalizeMap(map[string]any{"patientId": "p1", "date": time.Unix(100, 0), "status": "pending"})},
		{ID: "2", Data: docstore.NormalizeMap(map[string]any{"patientId": "p1", "date": time.Unix(300, 0), "status": "cancelled"})},
		{ID: "3", Data: docstore.NormalizeMap(map[string]any{"patientId": "p2", "date": time.Unix(200, 0), "status": "confirmed"})},
		{ID: "4", Data: docstore.NormalizeMap(map[string]any{"patientId": "p1", "status": "pending"})},
	}

	q := docstore.Collection("appointments").Where("patientId", docstore.OpEq, "p1").OrderBy("date", true)
	got := docstore.Apply(docs, q)
	require.Len(t, got, 2, "doc without the order field is excluded")
	assert.Equal(t, "2", got[0].ID)
	assert.Equal(t, "1", got[1].ID)

	q = docstore.Collection("appointments").
		Where("date", docstore.OpGte, time.Unix(150, 0)).
		Where("status", docstore.OpIn, []string{"pending", "confirmed"}).
		OrderBy("date", false).
		Limit(10)
	got = docstore.Apply(docs, q)
	require.Len(t, got, 1)
	assert.Equal(t, "3", got[0].ID)

	got = docstore.Apply(docs, docstore.Collection("appointments").Limit(2))
	assert.Len(t, got, 2)
}

func TestQueryBuilderDoesNotAlias(t *testing.T) {
	base := docstore.Collection("c").Where("a", docstore.OpEq, 1)
	q1 := base.Where("b", docstore.OpEq, 2)
	q2 := base.Where("c", docstore.OpEq, 3)
	assert.Len(t, base.Filters, 1)
	assert.Equal(t, "b", q1.Filters[1].Field)
	assert.Equal(t, "c", q2.Filters[1].Field)
}

func TestValidate(t *testing.T) {
	assert.Error(t, docstore.Query{}.Validate())
	assert.Error(t, docstore.Collection("c").Where("s", docstore.OpIn, "x").Validate())
	assert.Error(t, docstore.Collection("c").Where("s", "!=", "x").Validate())
	assert.NoError(t, docstore.Collection("c").Where("s", docstore.OpIn, []string{"x"}).Validate())
}
