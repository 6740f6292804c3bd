// Package app wires the cell-update engine, sessions and the supporting
// services behind the HTTP API.
package app

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"slate/api/internal/auth"
	"slate/api/internal/authpw"
	"slate/api/internal/cellstore"
	"slate/api/internal/config"
	"slate/api/internal/files"
	"slate/api/internal/rbac"
	"slate/api/internal/search"
	"slate/api/internal/sheet"
	"slate/api/internal/store"
	"slate/api/internal/util"
)

// Session is an authenticated caller for the duration of one request.
type Session struct {
	Token        string
	RefreshToken string
	MemberID     string
	MemberName   string
	Role         string
	TokenID      string
	ExpiresAt    time.Time
}

// dataStore is the Postgres surface the service uses.
type dataStore interface {
	EnsureMemberByName(ctx context.Context, name string) (store.Member, error)
	GetMemberByID(ctx context.Context, id string) (store.Member, error)
	RevokeAccessToken(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, tokenID string) (bool, error)
	InsertCellAudit(ctx context.Context, audit store.CellAudit) error
	ListCellAudit(ctx context.Context, tableName, entityID string, limit int) ([]store.CellAudit, error)
	Ping(ctx context.Context) error
}

// SessionStore holds refresh tokens. Redis-backed in production; the
// Postgres store satisfies the same interface as a fallback.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, member store.Member, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.Member, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// cellUpdater is the compare-and-swap engine.
type cellUpdater interface {
	UpdateCell(ctx context.Context, req cellstore.UpdateRequest) (cellstore.UpdateResult, error)
	ApplyBatch(ctx context.Context, requests []cellstore.UpdateRequest) (cellstore.BatchResult, error)
}

// tableReader reads table snapshots for listing and readiness.
type tableReader interface {
	GetSnapshot(ctx context.Context, table string) (sheet.Snapshot, error)
	TableExists(ctx context.Context, table string) (bool, error)
	Ping(ctx context.Context) error
}

// searcher answers entity queries and absorbs index updates.
type searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexRow(table, entityID string, record map[string]string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions SessionStore
	cells    cellUpdater
	tables   tableReader
	search   searcher       // nil when search is unconfigured
	files    *files.Service // nil when attachments are unconfigured
	authpw   *authpw.Service
}

func New(cfg config.Config, dataStore dataStore, sessions SessionStore, cells cellUpdater, tables tableReader, searchSvc searcher, filesSvc *files.Service, authpwSvc *authpw.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		cells:    cells,
		tables:   tables,
		search:   searchSvc,
		files:    filesSvc,
		authpw:   authpwSvc,
	}
}

// Login bootstraps a member by display name and issues a session.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	memberName := strings.TrimSpace(name)
	if memberName == "" {
		memberName = "Member"
	}

	member, err := s.store.EnsureMemberByName(ctx, memberName)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, member)
}

// SignIn authenticates a member by email and password and issues a session.
func (s *Service) SignIn(ctx context.Context, email, password string) (Session, error) {
	if s.authpw == nil {
		return Session{}, domainError(http.StatusNotFound, "NOT_FOUND", "Password sign-in not configured", nil)
	}
	member, err := s.authpw.SignIn(ctx, email, password)
	if err != nil {
		return Session{}, domainError(http.StatusUnauthorized, "UNAUTHORIZED", err.Error(), nil)
	}
	return s.issueSession(ctx, member)
}

// SignUp registers a member with email and password and issues a session.
func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	if s.authpw == nil {
		return Session{}, domainError(http.StatusNotFound, "NOT_FOUND", "Password sign-in not configured", nil)
	}
	member, err := s.authpw.SignUp(ctx, req)
	if err != nil {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	return s.issueSession(ctx, member)
}

// Refresh rotates a refresh token and issues a new session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	member, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, member)
}

func (s *Service) issueSession(ctx context.Context, member store.Member) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	tokenID := util.NewID("tok")

	token, err := auth.Issue([]byte(s.cfg.JWTSecret), auth.Claims{
		MemberID: member.ID,
		Name:     member.Name,
		Role:     member.Role,
		TokenID:  tokenID,
		IssuedAt: now.Unix(),
		Expires:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewToken(32)
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), member, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		MemberID:     member.ID,
		MemberName:   member.Name,
		Role:         member.Role,
		TokenID:      tokenID,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken verifies an access token and resolves the member.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.Parse([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.TokenID)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	member, err := s.store.GetMemberByID(ctx, claims.MemberID)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:      token,
		MemberID:   member.ID,
		MemberName: member.Name,
		Role:       member.Role,
		TokenID:    claims.TokenID,
		ExpiresAt:  time.Unix(claims.Expires, 0),
	}, nil
}

// Logout revokes both halves of a session. Best effort on both.
func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.TokenID != "" {
		_ = s.store.RevokeAccessToken(ctx, session.TokenID, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

// UpdateCell runs one compare-and-swap and, on success, records the edit in
// the audit log and refreshes the search index. Audit and index failures are
// logged, never surfaced: the cell write already happened.
func (s *Service) UpdateCell(ctx context.Context, session Session, req cellstore.UpdateRequest) (cellstore.UpdateResult, error) {
	result, err := s.cells.UpdateCell(ctx, req)
	if err != nil {
		return cellstore.UpdateResult{}, err
	}
	if result.Success {
		s.recordWrite(ctx, session, req)
	}
	return result, nil
}

// ApplyBatch applies updates sequentially and audits each successful item.
func (s *Service) ApplyBatch(ctx context.Context, session Session, requests []cellstore.UpdateRequest) (cellstore.BatchResult, error) {
	batch, err := s.cells.ApplyBatch(ctx, requests)
	if err != nil {
		return cellstore.BatchResult{}, err
	}
	for i, result := range batch.Results {
		if result.Success {
			s.recordWrite(ctx, session, requests[i])
		}
	}
	return batch, nil
}

func (s *Service) recordWrite(ctx context.Context, session Session, req cellstore.UpdateRequest) {
	audit := store.CellAudit{
		TableName:  req.Table,
		EntityID:   req.EntityID,
		FieldID:    req.FieldID,
		OldValue:   req.OriginalValue,
		NewValue:   req.NewValue,
		Forced:     req.Force,
		MemberID:   session.MemberID,
		MemberName: session.MemberName,
	}
	if err := s.store.InsertCellAudit(ctx, audit); err != nil {
		log.Printf("app: audit %s/%s.%s: %v", req.Table, req.EntityID, req.FieldID, err)
	}

	if s.search == nil {
		return
	}
	snapshot, err := s.tables.GetSnapshot(ctx, req.Table)
	if err != nil {
		log.Printf("app: reindex %s/%s: %v", req.Table, req.EntityID, err)
		return
	}
	if record, ok := snapshot.Record(req.EntityID); ok {
		s.search.IndexRow(req.Table, req.EntityID, record)
	}
}

// ListRecords returns every data row of a table as header-keyed records.
func (s *Service) ListRecords(ctx context.Context, table string) ([]map[string]string, error) {
	snapshot, err := s.tables.GetSnapshot(ctx, table)
	if err != nil {
		return nil, err
	}
	return snapshot.Records(), nil
}

// Audit returns the most recent edits for a table.
func (s *Service) Audit(ctx context.Context, table, entityID string, limit int) ([]store.CellAudit, error) {
	return s.store.ListCellAudit(ctx, table, entityID, limit)
}

// Search answers an entity query, falling back to table scans when the
// search index is down or unconfigured.
func (s *Service) Search(ctx context.Context, q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// Attachments returns the file service, or nil when unconfigured.
func (s *Service) Attachments() *files.Service {
	return s.files
}

// Ping checks the database.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingTableService checks the backing table store.
func (s *Service) PingTableService(ctx context.Context) error {
	return s.tables.Ping(ctx)
}
