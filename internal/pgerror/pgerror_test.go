package pgerror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestGetConstraintName(t *testing.T) {
	wrapped := fmt.Errorf("failed to insert: %w", &pgconn.PgError{Code: UniqueViolation, ConstraintName: "cycle_events_pkey"})
	name, ok := GetConstraintName(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "cycle_events_pkey", name)

	_, ok = GetConstraintName(&pgconn.PgError{Code: "40001", ConstraintName: "x"})
	assert.False(t, ok, "serialization failure is not a constraint error")

	_, ok = GetConstraintName(&pgconn.PgError{Code: NotNullViolation})
	assert.False(t, ok, "no constraint name")

	_, ok = GetConstraintName(errors.New("plain"))
	assert.False(t, ok)

	_, ok = GetConstraintName(nil)
	assert.False(t, ok)
}
