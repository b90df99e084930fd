package messages

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

const selectColumns = `id, username, phone_number, created_at, object_key, file_name, contact_name, category, content_type, size_bytes, body_text`

// PutRecord inserts a new record.
func (r *PGRepo) PutRecord(ctx context.Context, rec Record) error {
	const query = `
INSERT INTO messages (
    id,
    username,
    phone_number,
    created_at,
    object_key,
    file_name,
    contact_name,
    category,
    content_type,
    size_bytes,
    body_text
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	var sizeBytes sql.NullInt64
	if rec.HasObject() {
		sizeBytes = sql.NullInt64{Int64: rec.SizeBytes, Valid: true}
	}
	var text sql.NullString
	if rec.Text != nil {
		text = sql.NullString{String: *rec.Text, Valid: true}
	}

	_, err := r.DB.ExecContext(
		ctx,
		query,
		rec.ID,
		rec.Username,
		rec.PhoneNumber,
		rec.Timestamp.UTC(),
		nullString(rec.ObjectKey),
		nullString(rec.FileName),
		nullString(rec.ContactName),
		nullString(rec.Category),
		nullString(rec.ContentType),
		sizeBytes,
		text,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateID
	}
	return err
}

// GetByOwner returns records uploaded by username.
func (r *PGRepo) GetByOwner(ctx context.Context, username string) ([]Record, error) {
	query := `SELECT ` + selectColumns + `
FROM messages
WHERE username = $1
ORDER BY created_at, id`
	return r.query(ctx, query, username)
}

// QueryByPhoneSet returns records whose phone number is in phones.
func (r *PGRepo) QueryByPhoneSet(ctx context.Context, phones []string, hasObjectKey bool) ([]Record, error) {
	if len(phones) == 0 {
		return []Record{}, nil
	}
	var b strings.Builder
	b.WriteString(`SELECT ` + selectColumns + `
FROM messages
WHERE phone_number = ANY($1)`)
	if hasObjectKey {
		b.WriteString(` AND object_key IS NOT NULL`)
	}
	b.WriteString(`
ORDER BY created_at, id`)
	return r.query(ctx, b.String(), dedupe(phones))
}

// ScanAll returns every record.
func (r *PGRepo) ScanAll(ctx context.Context, hasObjectKey bool) ([]Record, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + selectColumns + `
FROM messages`)
	if hasObjectKey {
		b.WriteString(`
WHERE object_key IS NOT NULL`)
	}
	b.WriteString(`
ORDER BY created_at, id`)
	return r.query(ctx, b.String())
}

func (r *PGRepo) query(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var rec Record
		var objectKey, fileName, contactName, category, contentType, text sql.NullString
		var sizeBytes sql.NullInt64
		if err := rows.Scan(
			&rec.ID,
			&rec.Username,
			&rec.PhoneNumber,
			&rec.Timestamp,
			&objectKey,
			&fileName,
			&contactName,
			&category,
			&contentType,
			&sizeBytes,
			&text,
		); err != nil {
			return nil, err
		}
		rec.Timestamp = rec.Timestamp.UTC()
		rec.ObjectKey = objectKey.String
		rec.FileName = fileName.String
		rec.ContactName = contactName.String
		rec.Category = category.String
		rec.ContentType = contentType.String
		if sizeBytes.Valid {
			rec.SizeBytes = sizeBytes.Int64
		}
		if text.Valid {
			t := text.String
			rec.Text = &t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ Repo = (*PGRepo)(nil)
