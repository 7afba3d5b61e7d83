package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/luminapix/backend/internal/models"
	"github.com/luminapix/backend/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTaskQueue struct {
	mu       sync.Mutex
	enqueued []queue.Task
	err      error
}

func (f *fakeTaskQueue) Enqueue(ctx context.Context, t queue.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.enqueued = append(f.enqueued, t)
	return nil
}

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []models.JobStatus
}

func (f *fakeDeliverer) Deliver(ctx context.Context, callbackURL, jobID string, status models.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, status)
}

func (f *fakeDeliverer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

type fakeScheduler struct {
	mu        sync.Mutex
	scheduled []string
}

func (f *fakeScheduler) ScheduleInputCleanup(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, jobID)
}

func jobColumns() []string {
	return []string{"id", "account_id", "operation", "parameters", "status", "progress",
		"credits_reserved", "input_images", "output_images", "error_message", "callback_url",
		"processing_seconds", "created_at", "started_at", "completed_at"}
}

func jobRow(jobID, status, callbackURL string) *sqlmock.Rows {
	return sqlmock.NewRows(jobColumns()).
		AddRow(jobID, "acct-1", "enhance", []byte(`{"enhance":{"quality":"medium"}}`), status, 0,
			2, []byte(`["a.png"]`), nil, nil, callbackURL, nil, time.Now(), nil, nil)
}

func TestDispatchSubmit(t *testing.T) {
	t.Run("enqueues task at attempt one", func(t *testing.T) {
		db, _, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		q := &fakeTaskQueue{}
		dispatcher := NewDispatchService(q, NewJobService(db, NewLedgerService(db)), &fakeDeliverer{}, &fakeScheduler{})

		err = dispatcher.Submit(context.Background(), &models.Job{ID: "job-1"})
		assert.NoError(t, err)
		assert.Equal(t, []queue.Task{{JobID: "job-1", Attempt: 1}}, q.enqueued)
	})

	t.Run("queue outage fails the job", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("UPDATE jobs").
			WithArgs("failed", "task queue unavailable", sqlmock.AnyArg(), "job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		q := &fakeTaskQueue{err: errors.New("connection refused")}
		dispatcher := NewDispatchService(q, NewJobService(db, NewLedgerService(db)), &fakeDeliverer{}, &fakeScheduler{})

		err = dispatcher.Submit(context.Background(), &models.Job{ID: "job-1"})
		assert.ErrorIs(t, err, ErrQueueUnavailable)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOnWorkerSuccess(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE jobs").
		WithArgs("completed", []byte(`["/files/job-1/output/output_0.png"]`), 12.5, sqlmock.AnyArg(), "job-1", "processing").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1").
		WithArgs("job-1").
		WillReturnRows(jobRow("job-1", "completed", "https://example.com/hook"))

	notifier := &fakeDeliverer{}
	scheduler := &fakeScheduler{}
	dispatcher := NewDispatchService(&fakeTaskQueue{}, NewJobService(db, NewLedgerService(db)), notifier, scheduler)

	err = dispatcher.OnWorkerSuccess(context.Background(), "job-1", []string{"/files/job-1/output/output_0.png"}, 12.5)
	assert.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, scheduler.scheduled)

	assert.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOnWorkerFailure(t *testing.T) {
	t.Run("retryable attempt is a no-op", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		notifier := &fakeDeliverer{}
		dispatcher := NewDispatchService(&fakeTaskQueue{}, NewJobService(db, NewLedgerService(db)), notifier, &fakeScheduler{})

		err = dispatcher.OnWorkerFailure(context.Background(), "job-1", "engine timeout", false)
		assert.NoError(t, err)
		assert.Zero(t, notifier.count())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exhausted attempts fail the job and notify", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()

		mock.ExpectExec("UPDATE jobs").
			WithArgs("failed", "engine timeout", sqlmock.AnyArg(), "job-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id = \\$1").
			WithArgs("job-1").
			WillReturnRows(jobRow("job-1", "failed", "https://example.com/hook"))

		notifier := &fakeDeliverer{}
		dispatcher := NewDispatchService(&fakeTaskQueue{}, NewJobService(db, NewLedgerService(db)), notifier, &fakeScheduler{})

		err = dispatcher.OnWorkerFailure(context.Background(), "job-1", "engine timeout", true)
		assert.NoError(t, err)

		assert.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 5*time.Millisecond)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
