// File: internal/history/store_test.go
package history

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/toolforge/internal/experiment"
)

// flexibleSQLMatcher builds a whitespace-insensitive regex for SQL mocks.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	pool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func expectSchema(pool pgxmock.PgxPoolIface) {
	pool.ExpectExec(flexibleSQLMatcher(createTableSQL)).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
}

func TestNewStore(t *testing.T) {
	t.Run("propagates ping failure", func(t *testing.T) {
		pool := newMockPool(t)
		pingErr := errors.New("database unavailable")
		pool.ExpectPing().WillReturnError(pingErr)

		_, err := New(context.Background(), pool, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("ensures the schema on startup", func(t *testing.T) {
		pool := newMockPool(t)
		pool.ExpectPing()
		expectSchema(pool)

		_, err := New(context.Background(), pool, zaptest.NewLogger(t))
		require.NoError(t, err)
		assert.NoError(t, pool.ExpectationsWereMet())
	})
}

func TestRecordResult(t *testing.T) {
	ctx := context.Background()
	result := &experiment.Result{
		ExperimentDir: "exp_004",
		Resolved:      3,
		Unresolved:    7,
		P2PSuccess:    12,
		P2PFailure:    1,
		F2PSuccess:    4,
		F2PFailure:    6,
		TotalCost:     9.25,
	}

	t.Run("inserts one row per result", func(t *testing.T) {
		pool := newMockPool(t)
		pool.ExpectPing()
		expectSchema(pool)
		pool.ExpectExec(flexibleSQLMatcher(insertResultSQL)).
			WithArgs(pgxmock.AnyArg(), 4, "exp_004", 3, 7, 12, 1, 4, 6, 9.25, pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		store, err := New(ctx, pool, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NoError(t, store.RecordResult(ctx, 4, result))
		assert.NoError(t, pool.ExpectationsWereMet())
	})

	t.Run("wraps insert failures", func(t *testing.T) {
		pool := newMockPool(t)
		pool.ExpectPing()
		expectSchema(pool)
		insertErr := errors.New("connection reset")
		pool.ExpectExec(flexibleSQLMatcher(insertResultSQL)).
			WithArgs(pgxmock.AnyArg(), 4, "exp_004", 3, 7, 12, 1, 4, 6, 9.25, pgxmock.AnyArg()).
			WillReturnError(insertErr)

		store, err := New(ctx, pool, zaptest.NewLogger(t))
		require.NoError(t, err)
		err = store.RecordResult(ctx, 4, result)
		require.Error(t, err)
		assert.ErrorIs(t, err, insertErr)
	})
}

func TestListResults(t *testing.T) {
	ctx := context.Background()
	pool := newMockPool(t)
	pool.ExpectPing()
	expectSchema(pool)

	recordedAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{
		"id", "exp_num", "experiment_dir", "resolved", "unresolved",
		"p2p_success", "p2p_failure", "f2p_success", "f2p_failure",
		"total_cost", "recorded_at",
	}).
		AddRow("11111111-1111-1111-1111-111111111111", 1, "exp_001", 1, 9, 10, 2, 1, 9, 4.5, recordedAt).
		AddRow("22222222-2222-2222-2222-222222222222", 2, "exp_002", 4, 6, 11, 1, 4, 6, 5.0, recordedAt)
	pool.ExpectQuery(flexibleSQLMatcher("SELECT id, exp_num, experiment_dir")).
		WillReturnRows(rows)

	store, err := New(ctx, pool, zaptest.NewLogger(t))
	require.NoError(t, err)

	records, err := store.ListResults(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].ExpNum)
	assert.Equal(t, "exp_001", records[0].ExperimentDir)
	assert.Equal(t, 4, records[1].Resolved)
	assert.Equal(t, recordedAt, records[1].RecordedAt)
	assert.NoError(t, pool.ExpectationsWereMet())
}
