package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestSQLStateClassification(t *testing.T) {
	t.Parallel()

	unique := fmt.Errorf("insert: %w", &pgconn.PgError{Code: sqlStateUniqueViolation})
	foreignKey := &pgconn.PgError{Code: sqlStateForeignKeyViolation}

	require.True(t, isUniqueViolation(unique))
	require.False(t, isForeignKeyViolation(unique))
	require.True(t, isForeignKeyViolation(foreignKey))
	require.False(t, isUniqueViolation(foreignKey))

	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "22001"}))
	require.False(t, isUniqueViolation(errors.New("plain error")))
	require.Empty(t, sqlState(nil))
}
