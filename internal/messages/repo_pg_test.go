package messages

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

// arrayConverter lets []string arguments through to the mock, as pgx does for text[].
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMock(t *testing.T) (*PGRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return &PGRepo{DB: db}, mock
}

var columns = []string{"id", "username", "phone_number", "created_at", "object_key", "file_name", "contact_name", "category", "content_type", "size_bytes", "body_text"}

func TestPGRepoPutRecordMediaNullsText(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rec := Record{
		ID:          "msg_1714564800000_ab12cd34",
		Username:    "bot",
		PhoneNumber: "+15551234567",
		Timestamp:   ts,
		ObjectKey:   "image/1714564800000-ab12cd34.jpg",
		FileName:    "photo.jpg",
		ContactName: "Alice",
		Category:    "image",
		ContentType: "image/jpeg",
		SizeBytes:   2048,
	}

	mock.ExpectExec("INSERT INTO messages").
		WithArgs(
			rec.ID,
			rec.Username,
			rec.PhoneNumber,
			ts,
			rec.ObjectKey,
			rec.FileName,
			rec.ContactName,
			rec.Category,
			rec.ContentType,
			int64(2048),
			nil, // body_text
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.PutRecord(context.Background(), rec); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoPutRecordTextNullsObjectColumns(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	text := "hello"
	rec := Record{ID: "msg_1", Username: "bot", PhoneNumber: "+15551234567", Timestamp: ts, ContactName: "WhatsApp User", Text: &text}

	mock.ExpectExec("INSERT INTO messages").
		WithArgs(rec.ID, rec.Username, rec.PhoneNumber, ts, nil, nil, "WhatsApp User", nil, nil, nil, "hello").
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := repo.PutRecord(context.Background(), rec); err != nil {
		t.Fatalf("PutRecord: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoPutRecordDuplicate(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("INSERT INTO messages").
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.PutRecord(context.Background(), Record{ID: "msg_1", Timestamp: time.Now()})
	if err != ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestPGRepoQueryByPhoneSetFiltersObjects(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(columns).
		AddRow("msg_1", "bot", "+15551234567", ts, "image/1-a.jpg", "a.jpg", "Alice", "image", "image/jpeg", int64(10), nil)

	mock.ExpectQuery(`WHERE phone_number = ANY\(\$1\) AND object_key IS NOT NULL`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(rows)

	recs, err := repo.QueryByPhoneSet(context.Background(), []string{"+15551234567", "+15551234567"}, true)
	if err != nil {
		t.Fatalf("QueryByPhoneSet: %v", err)
	}
	if len(recs) != 1 || recs[0].ObjectKey != "image/1-a.jpg" || recs[0].Text != nil {
		t.Fatalf("unexpected records %+v", recs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoQueryByPhoneSetEmptySkipsQuery(t *testing.T) {
	repo, mock := newMock(t)

	recs, err := repo.QueryByPhoneSet(context.Background(), nil, true)
	if err != nil {
		t.Fatalf("QueryByPhoneSet: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected empty result, got %d", len(recs))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("ExpectationsWereMet: %v", err)
	}
}

func TestPGRepoScanAllScansText(t *testing.T) {
	repo, mock := newMock(t)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(columns).
		AddRow("msg_2", "bot", "+15551234567", ts, nil, nil, "Bob", nil, nil, nil, "hi there")

	mock.ExpectQuery(`FROM messages\s+ORDER BY created_at, id`).WillReturnRows(rows)

	recs, err := repo.ScanAll(context.Background(), false)
	if err != nil {
		t.Fatalf("ScanAll: %v", err)
	}
	if len(recs) != 1 || recs[0].Text == nil || *recs[0].Text != "hi there" || recs[0].HasObject() {
		t.Fatalf("unexpected records %+v", recs)
	}
}
