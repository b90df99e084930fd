package access

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

var assocColumns = []string{"username", "phone_numbers", "role", "version", "updated_at"}

func newMock(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

func TestPGRepoGetScansTextArray(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT username, phone_numbers, role, version, updated_at").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(assocColumns).
			AddRow("alice", "{+15551234567,+15557654321}", "viewer", int64(3), ts))

	a, err := repo.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(a.PhoneNumbers) != 2 || a.PhoneNumbers[1] != "+15557654321" {
		t.Fatalf("unexpected phones %v", a.PhoneNumbers)
	}
	if a.Role != RoleViewer || a.Version != 3 || !a.UpdatedAt.Equal(ts) {
		t.Fatalf("unexpected association %+v", a)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoGetNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("FROM phone_associations").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if _, err := repo.Get(context.Background(), "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGRepoAppendPhoneInserted(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO phone_associations").
		WithArgs("alice", "+1555").
		WillReturnRows(sqlmock.NewRows(assocColumns).AddRow("alice", "{+1555}", "viewer", int64(1), ts))

	a, added, err := repo.AppendPhone(context.Background(), "alice", "+1555")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !added || len(a.PhoneNumbers) != 1 {
		t.Fatalf("expected added single phone, got added=%v %v", added, a.PhoneNumbers)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoAppendPhoneAlreadyPresent(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO phone_associations").
		WithArgs("alice", "+1555").
		WillReturnRows(sqlmock.NewRows(assocColumns))
	mock.ExpectQuery("FROM phone_associations").
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(assocColumns).AddRow("alice", "{+1555}", "viewer", int64(1), ts))

	a, added, err := repo.AppendPhone(context.Background(), "alice", "+1555")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if added {
		t.Fatalf("expected no-op append")
	}
	if len(a.PhoneNumbers) != 1 || a.PhoneNumbers[0] != "+1555" {
		t.Fatalf("unexpected phones %v", a.PhoneNumbers)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGRepoRemovePhoneDistinguishesMissingRecord(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		getRows *sqlmock.Rows
		want    error
	}{
		{name: "no record", getRows: sqlmock.NewRows(assocColumns), want: ErrNotFound},
		{name: "phone absent", getRows: sqlmock.NewRows(assocColumns).AddRow("alice", "{+2}", "viewer", int64(1), ts), want: ErrPhoneNotAssociated},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMock(t)
			mock.ExpectQuery("UPDATE phone_associations").
				WithArgs("alice", "+1").
				WillReturnRows(sqlmock.NewRows(assocColumns))
			mock.ExpectQuery("FROM phone_associations").
				WithArgs("alice").
				WillReturnRows(tt.getRows)

			if _, err := repo.RemovePhone(context.Background(), "alice", "+1"); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPGRepoSetRoleUpserts(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("ON CONFLICT \\(username\\) DO UPDATE SET\\s+role = EXCLUDED.role").
		WithArgs("root", "admin").
		WillReturnRows(sqlmock.NewRows(assocColumns).AddRow("root", "{}", "admin", int64(1), ts))

	a, err := repo.SetRole(context.Background(), "root", RoleAdmin)
	if err != nil {
		t.Fatalf("set role: %v", err)
	}
	if a.Role != RoleAdmin || a.PhoneNumbers == nil || len(a.PhoneNumbers) != 0 {
		t.Fatalf("unexpected association %+v", a)
	}
}
