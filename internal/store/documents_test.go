package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"healthcare-portal/internal/docstore"
)

func TestBuildQueryPatientShape(t *testing.T) {
	q := docstore.Collection("appointments").
		Where("patientId", docstore.OpEq, "p1").
		OrderBy("date", true)

	sql, args, err := buildQuery(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT id, data FROM documents WHERE collection = $1`+
			` AND data -> $2::text = $3::jsonb`+
			` AND data -> $4::text IS NOT NULL ORDER BY data -> $4::text DESC, id`,
		sql)
	assert.Equal(t, []any{"appointments", "patientId", `"p1"`, "date"}, args)
}

func TestBuildQueryUpcomingShape(t *testing.T) {
	now := time.Unix(1700000000, 5)
	q := docstore.Collection("appointments").
		Where("doctorId", docstore.OpEq, "d1").
		Where("date", docstore.OpGte, now).
		Where("status", docstore.OpIn, []string{"pending", "confirmed"}).
		OrderBy("date", false).
		Limit(10)

	sql, args, err := buildQuery(q)
	require.NoError(t, err)
	assert.Contains(t, sql, `data -> $4::text >= $5::jsonb AND jsonb_typeof(data -> $4::text) = jsonb_typeof($5::jsonb)`)
	assert.Contains(t, sql, `data -> $6::text IN (SELECT jsonb_array_elements($7::jsonb))`)
	assert.Contains(t, sql, `ORDER BY data -> $8::text ASC, id LIMIT $9`)
	assert.Equal(t, `{"_nanoseconds":5,"_seconds":1700000000}`, args[4])
	assert.Equal(t, `["pending","confirmed"]`, args[6])
	assert.Equal(t, 10, args[8])
}

func TestBuildQueryAdminShape(t *testing.T) {
	sql, args, err := buildQuery(docstore.Collection("appointments").OrderBy("createdAt", true).Limit(50))
	require.NoError(t, err)
	assert.NotContains(t, sql, "patientId")
	assert.NotContains(t, sql, "doctorId")
	assert.Contains(t, sql, "LIMIT $3")
	assert.Equal(t, 50, args[2])
}

func TestBuildQueryRejectsBadOp(t *testing.T) {
	_, _, err := buildQuery(docstore.Collection("x").Where("a", "<>", 1))
	assert.Error(t, err)
}
