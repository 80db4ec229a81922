package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/engine/internal/domain/job"
	"github.com/deepresearch/engine/internal/domain/jobevent"
)

func TestCreateJobExecutesInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO jobs").WillReturnResult(sqlmock.NewResult(1, 1))

	s := New(db)
	created, err := s.CreateJob(context.Background(), job.Job{
		ID:     "job-1",
		Prompt: "research x",
		Mode:   job.ModeFocus,
		Status: job.StatusPending,
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", created.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompareAndTransitionJobReturnsFalseOnNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE jobs SET").WillReturnResult(sqlmock.NewResult(0, 0))

	s := New(db)
	ok, err := s.CompareAndTransitionJob(context.Background(), "job-1", job.StatusPending, job.Job{Status: job.StatusProcessing})
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendJobEventExecutesInsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO job_events").WillReturnResult(sqlmock.NewResult(1, 1))

	s := New(db)
	err = s.AppendJobEvent(context.Background(), jobevent.JobEvent{
		JobID: "job-1", Provider: "openai", Model: "gpt-5-mini", ErrorKind: "TRANSIENT", Reason: "timeout",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListJobEventsScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"job_id", "provider", "model", "error_kind", "reason", "occurred_at"}).
		AddRow("job-1", "openai", "gpt-5-mini", "TRANSIENT", "timeout", time.Now().UTC())
	mock.ExpectQuery("SELECT job_id, provider, model, error_kind, reason, occurred_at").WillReturnRows(rows)

	s := New(db)
	events, err := s.ListJobEvents(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "TRANSIENT", events[0].ErrorKind)
	require.NoError(t, mock.ExpectationsWereMet())
}
