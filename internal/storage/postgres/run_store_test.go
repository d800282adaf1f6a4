package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/feedpoller/internal/poller"
)

func TestRecordRunInsertsSummary(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0)
	finished := started.Add(90 * time.Second)
	summary := poller.RunSummary{
		RunID: "0190f1e2-0000-7000-8000-000000000001", Total: 10, Updated: 3, NotUpdated: 5,
		Failed: 2, WriteFailures: 1,
	}

	mock.ExpectExec(`INSERT INTO poll_runs`).
		WithArgs(summary.RunID, started.UTC(), finished.UTC(), StatusCompleted,
			10, 3, 5, 2, 1, 0, (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.RecordRun(context.Background(), RunRecord{
		Summary:    summary,
		StartedAt:  started,
		FinishedAt: finished,
		Status:     StatusFor(summary, nil),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunStoresErrorMessage(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "feed_runs")
	require.NoError(t, err)

	msg := "feed list unavailable"
	mock.ExpectExec(`INSERT INTO feed_runs`).
		WithArgs("run-1", pgxmock.AnyArg(), pgxmock.AnyArg(), StatusFailed,
			0, 0, 0, 0, 0, 0, &msg).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	runErr := errors.New(msg)
	summary := poller.RunSummary{RunID: "run-1"}
	err = store.RecordRun(context.Background(), RunRecord{
		Summary: summary,
		Status:  StatusFor(summary, runErr),
		Err:     runErr,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunExecError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO poll_runs`).WillReturnError(errors.New("connection reset"))

	err = store.RecordRun(context.Background(), RunRecord{Summary: poller.RunSummary{RunID: "run-2"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record run run-2")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	assert.Error(t, store.RecordRun(context.Background(), RunRecord{}))
}

func TestNewRunStoreWithPoolValidates(t *testing.T) {
	t.Parallel()

	_, err := NewRunStoreWithPool(nil, "")
	assert.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE feeds")
	assert.Error(t, err)
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, StatusCompleted, StatusFor(poller.RunSummary{Total: 3}, nil))
	assert.Equal(t, StatusCancelled, StatusFor(poller.RunSummary{Total: 3, Skipped: 1}, nil))
	assert.Equal(t, StatusFailed, StatusFor(poller.RunSummary{}, errors.New("boom")))
}
