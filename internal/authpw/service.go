// Package authpw provides email/password authentication for crew members.
package authpw

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"slate/api/internal/rbac"
	"slate/api/internal/store"
	"slate/api/internal/util"
)

// MemberStore is the subset of the database the auth service needs.
type MemberStore interface {
	GetMemberByEmail(ctx context.Context, email string) (store.Member, error)
	GetMemberByID(ctx context.Context, id string) (store.Member, error)
	CreateMember(ctx context.Context, member store.Member) error
	UpdateMemberPassword(ctx context.Context, memberID, passwordHash string) error
}

type Service struct {
	store MemberStore
}

func NewService(store MemberStore) *Service {
	return &Service{store: store}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Email    string
	Password string
	Name     string
}

// SignUp creates a new member account with the default artist role.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.Member, error) {
	if req.Email == "" || req.Password == "" || req.Name == "" {
		return store.Member{}, errors.New("email, password, and name are required")
	}
	if len(req.Password) < 8 {
		return store.Member{}, errors.New("password must be at least 8 characters")
	}

	if _, err := s.store.GetMemberByEmail(ctx, req.Email); err == nil {
		return store.Member{}, errors.New("email already registered")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.Member{}, fmt.Errorf("hash password: %w", err)
	}

	member := store.Member{
		ID:           util.NewID("mem"),
		Name:         req.Name,
		Email:        req.Email,
		Role:         string(rbac.RoleArtist),
		PasswordHash: string(hash),
	}
	if err := s.store.CreateMember(ctx, member); err != nil {
		return store.Member{}, fmt.Errorf("create member: %w", err)
	}
	return member, nil
}

// SignIn authenticates a member by email and password.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Member, error) {
	if email == "" || password == "" {
		return store.Member{}, errors.New("email and password are required")
	}

	member, err := s.store.GetMemberByEmail(ctx, email)
	if err != nil {
		return store.Member{}, errors.New("invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(password)); err != nil {
		return store.Member{}, errors.New("invalid email or password")
	}
	return member, nil
}

// ChangePassword replaces a member's password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, memberID, current, next string) error {
	if len(next) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	member, err := s.store.GetMemberByID(ctx, memberID)
	if err != nil {
		return errors.New("member not found")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(member.PasswordHash), []byte(current)); err != nil {
		return errors.New("current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(next), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.UpdateMemberPassword(ctx, memberID, string(hash)); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}
