// Package store persists what the sheets cannot: members, sessions and the
// cell-update audit log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"slate/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsureMemberByName returns the member with the given display name,
// creating one with the default role when absent.
func (s *PostgresStore) EnsureMemberByName(ctx context.Context, name string) (Member, error) {
	member, err := s.scanMember(s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(email, ''), role, password_hash, created_at FROM members WHERE name=$1`, name))
	if err == nil {
		return member, nil
	}
	if err != sql.ErrNoRows {
		return Member{}, fmt.Errorf("lookup member %q: %w", name, err)
	}

	member = Member{
		ID:   util.NewID("mem"),
		Name: name,
		Role: "artist",
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO members(id, name, role) VALUES($1, $2, $3)
		 ON CONFLICT (name) DO NOTHING`,
		member.ID, member.Name, member.Role); err != nil {
		return Member{}, fmt.Errorf("insert member %q: %w", name, err)
	}
	// Re-read: a concurrent insert may have won the conflict.
	return s.scanMember(s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(email, ''), role, password_hash, created_at FROM members WHERE name=$1`, name))
}

func (s *PostgresStore) GetMemberByID(ctx context.Context, memberID string) (Member, error) {
	return s.scanMember(s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(email, ''), role, password_hash, created_at FROM members WHERE id=$1`, memberID))
}

func (s *PostgresStore) GetMemberByEmail(ctx context.Context, email string) (Member, error) {
	return s.scanMember(s.db.QueryRowContext(ctx,
		`SELECT id, name, COALESCE(email, ''), role, password_hash, created_at FROM members WHERE email=$1`, email))
}

func (s *PostgresStore) CreateMember(ctx context.Context, member Member) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members(id, name, email, role, password_hash) VALUES($1, $2, NULLIF($3, ''), $4, $5)`,
		member.ID, member.Name, member.Email, member.Role, member.PasswordHash)
	if err != nil {
		return fmt.Errorf("insert member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMemberPassword(ctx context.Context, memberID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE members SET password_hash=$2 WHERE id=$1`, memberID, passwordHash)
	if err != nil {
		return fmt.Errorf("update member password: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanMember(row *sql.Row) (Member, error) {
	var member Member
	err := row.Scan(&member.ID, &member.Name, &member.Email, &member.Role, &member.PasswordHash, &member.CreatedAt)
	if err != nil {
		return Member{}, err
	}
	return member, nil
}

// SaveRefreshSession stores a hashed refresh token. Used as the fallback
// when Redis is not configured.
func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, member Member, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_sessions(token_hash, member_id, expires_at) VALUES($1, $2, $3)
		 ON CONFLICT (token_hash) DO UPDATE SET member_id=$2, expires_at=$3`,
		tokenHash, member.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (Member, error) {
	member, err := s.scanMember(s.db.QueryRowContext(ctx,
		`SELECT m.id, m.name, COALESCE(m.email, ''), m.role, m.password_hash, m.created_at
		 FROM refresh_sessions rs JOIN members m ON m.id = rs.member_id
		 WHERE rs.token_hash=$1 AND rs.expires_at > NOW()`, tokenHash))
	if err == sql.ErrNoRows {
		return Member{}, fmt.Errorf("refresh token not found or expired")
	}
	if err != nil {
		return Member{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM refresh_sessions WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, tokenID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO revoked_tokens(token_id, expires_at) VALUES($1, $2) ON CONFLICT DO NOTHING`,
		tokenID, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_id=$1 AND expires_at > NOW())`, tokenID).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// InsertCellAudit records one successful cell write.
func (s *PostgresStore) InsertCellAudit(ctx context.Context, audit CellAudit) error {
	if audit.ID == "" {
		audit.ID = util.NewID("aud")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cell_audit(id, table_name, entity_id, field_id, old_value, new_value, forced, member_id, member_name)
		 VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		audit.ID, audit.TableName, audit.EntityID, audit.FieldID,
		audit.OldValue, audit.NewValue, audit.Forced, audit.MemberID, audit.MemberName)
	if err != nil {
		return fmt.Errorf("insert cell audit: %w", err)
	}
	return nil
}

// ListCellAudit returns the most recent edits for a table, optionally
// filtered to one entity.
func (s *PostgresStore) ListCellAudit(ctx context.Context, tableName, entityID string, limit int) ([]CellAudit, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, table_name, entity_id, field_id, old_value, new_value, forced, member_id, member_name, created_at
		 FROM cell_audit
		 WHERE table_name=$1 AND ($2 = '' OR entity_id=$2)
		 ORDER BY created_at DESC
		 LIMIT $3`,
		tableName, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list cell audit: %w", err)
	}
	defer rows.Close()

	audits := make([]CellAudit, 0)
	for rows.Next() {
		var audit CellAudit
		if err := rows.Scan(&audit.ID, &audit.TableName, &audit.EntityID, &audit.FieldID,
			&audit.OldValue, &audit.NewValue, &audit.Forced, &audit.MemberID, &audit.MemberName, &audit.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cell audit: %w", err)
		}
		audits = append(audits, audit)
	}
	return audits, rows.Err()
}
