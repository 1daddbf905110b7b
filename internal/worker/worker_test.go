package worker

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/conclavehq/conclave/internal/queue"
	"github.com/conclavehq/conclave/internal/registry"
)

func threadRows() []string {
	return []string{
		"id", "namespace", "name", "external_id", "participants", "status", "mode",
		"parent_thread_id", "worker_locked_by", "worker_lease_expires_at",
		"metadata", "created_at", "updated_at",
	}
}

func TestRunDrainsEmptyQueueAndReleases(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := queue.NewStore(db)
	reg := registry.New()
	w := New(store, reg, Config{WorkerID: "w1", LeaseTTL: time.Minute}, nil)

	now := time.Now()
	mock.ExpectQuery("UPDATE threads SET").
		WillReturnRows(sqlmock.NewRows(threadRows()).AddRow(
			"t1", "ns", "thread one", "ext-1", []byte(`[]`), "active", "immediate",
			nil, "w1", now.Add(time.Minute), []byte(`{}`), now, now,
		))
	mock.ExpectExec("UPDATE events SET status = 'pending'").
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.|\n)*FOR UPDATE SKIP LOCKED").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "thread_id", "namespace", "type", "payload", "parent_event_id", "trace_id",
			"priority", "ttl_ms", "expires_at", "status", "metadata", "created_at", "updated_at",
		}))
	mock.ExpectRollback()

	mock.ExpectExec("UPDATE threads SET worker_locked_by = NULL").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := w.Run(context.Background(), "t1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.State() != StateIdle {
		t.Errorf("State() = %v, want idle after Run returns", w.State())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunNoopWhenLeaseHeldElsewhere(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	store := queue.NewStore(db)
	reg := registry.New()
	w := New(store, reg, Config{WorkerID: "w1", LeaseTTL: time.Minute}, nil)

	mock.ExpectQuery("UPDATE threads SET").WillReturnError(sql.ErrNoRows)

	if err := w.Run(context.Background(), "t1"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if w.State() != StateIdle {
		t.Errorf("State() = %v, want idle", w.State())
	}
}
