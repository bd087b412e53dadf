// Package sqlite provides the durable ad-hoc grant store on an embedded
// SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bastion-gate/bastion/internal/domain/access"
)

const schema = `
CREATE TABLE IF NOT EXISTS principal_grants (
	principal  TEXT NOT NULL,
	permission TEXT NOT NULL,
	granted_at TEXT NOT NULL,
	PRIMARY KEY (principal, permission)
);`

// GrantStore implements access.GrantStore on SQLite. Safe for
// concurrent use; database/sql serializes access to the single writer.
type GrantStore struct {
	db *sql.DB
}

// Open creates or opens the grant database at path and bootstraps the
// schema.
func Open(path string) (*GrantStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open grant store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap grant schema: %w", err)
	}
	return &GrantStore{db: db}, nil
}

// Grants lists the principal's ad-hoc permissions.
func (s *GrantStore) Grants(ctx context.Context, principal string) ([]access.Permission, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT permission FROM principal_grants WHERE principal = ?`, principal)
	if err != nil {
		return nil, fmt.Errorf("list grants: %w", err)
	}
	defer rows.Close()

	var perms []access.Permission
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		perms = append(perms, access.Permission(p))
	}
	return perms, rows.Err()
}

// Add records an ad-hoc grant. Re-granting an existing permission
// refreshes its timestamp.
func (s *GrantStore) Add(ctx context.Context, principal string, perm access.Permission) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO principal_grants (principal, permission, granted_at) VALUES (?, ?, ?)`,
		principal, string(perm), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("persist grant: %w", err)
	}
	return nil
}

// Remove deletes an ad-hoc grant.
func (s *GrantStore) Remove(ctx context.Context, principal string, perm access.Permission) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM principal_grants WHERE principal = ? AND permission = ?`,
		principal, string(perm))
	if err != nil {
		return fmt.Errorf("remove grant: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *GrantStore) Close() error {
	return s.db.Close()
}
