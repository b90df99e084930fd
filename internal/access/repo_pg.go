package access

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgtype"
)

// PGRepo implements Repo using Postgres. Appends and removals are single
// statements, so row locking serializes concurrent writers per username.
type PGRepo struct {
	DB *sql.DB
}

var typeMap = pgtype.NewMap()

func (r *PGRepo) Get(ctx context.Context, username string) (Association, error) {
	const query = `
SELECT username, phone_numbers, role, version, updated_at
FROM phone_associations
WHERE username = $1`
	a, err := scanAssociation(r.DB.QueryRowContext(ctx, query, username))
	if errors.Is(err, sql.ErrNoRows) {
		return Association{}, ErrNotFound
	}
	return a, err
}

func (r *PGRepo) AppendPhone(ctx context.Context, username, phone string) (Association, bool, error) {
	const query = `
INSERT INTO phone_associations (username, phone_numbers, role, version, updated_at)
VALUES ($1, ARRAY[$2::text], 'viewer', 1, NOW())
ON CONFLICT (username) DO UPDATE SET
    phone_numbers = array_append(phone_associations.phone_numbers, $2::text),
    version = phone_associations.version + 1,
    updated_at = NOW()
WHERE NOT ($2::text = ANY(phone_associations.phone_numbers))
RETURNING username, phone_numbers, role, version, updated_at`

	a, err := scanAssociation(r.DB.QueryRowContext(ctx, query, username, phone))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Association{}, false, err
	}
	// Conflict row skipped by the WHERE clause: the phone is already there.
	existing, err := r.Get(ctx, username)
	if err != nil {
		return Association{}, false, err
	}
	return existing, false, nil
}

func (r *PGRepo) RemovePhone(ctx context.Context, username, phone string) (Association, error) {
	const query = `
UPDATE phone_associations
SET phone_numbers = array_remove(phone_numbers, $2::text),
    version = version + 1,
    updated_at = NOW()
WHERE username = $1 AND $2::text = ANY(phone_numbers)
RETURNING username, phone_numbers, role, version, updated_at`

	a, err := scanAssociation(r.DB.QueryRowContext(ctx, query, username, phone))
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Association{}, err
	}
	if _, err := r.Get(ctx, username); err != nil {
		return Association{}, err
	}
	return Association{}, ErrPhoneNotAssociated
}

func (r *PGRepo) SetRole(ctx context.Context, username string, role Role) (Association, error) {
	const query = `
INSERT INTO phone_associations (username, phone_numbers, role, version, updated_at)
VALUES ($1, '{}', $2, 1, NOW())
ON CONFLICT (username) DO UPDATE SET
    role = EXCLUDED.role,
    version = phone_associations.version + 1,
    updated_at = NOW()
RETURNING username, phone_numbers, role, version, updated_at`
	return scanAssociation(r.DB.QueryRowContext(ctx, query, username, string(role)))
}

func scanAssociation(row *sql.Row) (Association, error) {
	var a Association
	var role string
	phones := []string{}
	if err := row.Scan(&a.Username, typeMap.SQLScanner(&phones), &role, &a.Version, &a.UpdatedAt); err != nil {
		return Association{}, err
	}
	a.PhoneNumbers = phones
	if a.PhoneNumbers == nil {
		a.PhoneNumbers = []string{}
	}
	a.Role = Role(role)
	a.UpdatedAt = a.UpdatedAt.UTC()
	return a, nil
}

var _ Repo = (*PGRepo)(nil)
