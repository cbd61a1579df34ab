package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"conveyor/internal/config"
	"conveyor/internal/document"
	"conveyor/internal/pipelinestatus"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	cfg := config.Default()
	return newStore(db, "mock.db", &cfg, nil), mock
}

func TestIsSQLiteBusy(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("SQLITE_BUSY: cannot commit"), true},
		{errors.New("no such table: documents"), false},
	}
	for _, tc := range cases {
		if got := isSQLiteBusy(tc.err); got != tc.want {
			t.Fatalf("isSQLiteBusy(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestExecRetriesBusyErrors(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE pipeline_status").
		WillReturnError(errors.New("database is locked (5) (SQLITE_BUSY)"))
	mock.ExpectExec("UPDATE pipeline_status").
		WithArgs(2, 0, 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := st.FlushCounts(context.Background(), pipelinestatus.Counts{Processed: 2, Discarded: 1}); err != nil {
		t.Fatalf("FlushCounts failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExecDoesNotRetryOtherErrors(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE pipeline_status").WillReturnError(errors.New("disk I/O error"))

	if err := st.FlushCounts(context.Background(), pipelinestatus.Counts{Failed: 1}); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRetryGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	err := retryOnBusy(context.Background(), func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected busy error to surface")
	}
	if calls != busyRetryAttempts {
		t.Fatalf("expected %d attempts, got %d", busyRetryAttempts, calls)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := retryOnBusy(ctx, func() error {
		return errors.New("database is locked")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestJSONPathQuoting(t *testing.T) {
	path, err := jsonPath("fetched", "it's")
	if err != nil {
		t.Fatalf("jsonPath failed: %v", err)
	}
	if path != `'$."fetched"."it''s"'` {
		t.Fatalf("unexpected path %s", path)
	}
	if _, err := jsonPath(`a"b`); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected ErrInvalidField, got %v", err)
	}
}

func TestCompileEmptyQueryMatchesAll(t *testing.T) {
	where, args, err := compileQuery(document.NewQuery())
	if err != nil {
		t.Fatalf("compileQuery failed: %v", err)
	}
	if where != "1" || len(args) != 0 {
		t.Fatalf("unexpected compile result %q %v", where, args)
	}
}
