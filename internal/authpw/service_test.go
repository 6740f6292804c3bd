package authpw

import (
	"context"
	"errors"
	"testing"

	"slate/api/internal/store"
)

type fakeMemberStore struct {
	byEmail map[string]store.Member
	byID    map[string]store.Member
}

func newFakeMemberStore() *fakeMemberStore {
	return &fakeMemberStore{
		byEmail: make(map[string]store.Member),
		byID:    make(map[string]store.Member),
	}
}

func (f *fakeMemberStore) GetMemberByEmail(ctx context.Context, email string) (store.Member, error) {
	m, ok := f.byEmail[email]
	if !ok {
		return store.Member{}, errors.New("not found")
	}
	return m, nil
}

func (f *fakeMemberStore) GetMemberByID(ctx context.Context, id string) (store.Member, error) {
	m, ok := f.byID[id]
	if !ok {
		return store.Member{}, errors.New("not found")
	}
	return m, nil
}

func (f *fakeMemberStore) CreateMember(ctx context.Context, member store.Member) error {
	f.byEmail[member.Email] = member
	f.byID[member.ID] = member
	return nil
}

func (f *fakeMemberStore) UpdateMemberPassword(ctx context.Context, memberID, passwordHash string) error {
	m, ok := f.byID[memberID]
	if !ok {
		return errors.New("not found")
	}
	m.PasswordHash = passwordHash
	f.byID[memberID] = m
	f.byEmail[m.Email] = m
	return nil
}

func TestSignUpAndSignIn(t *testing.T) {
	svc := NewService(newFakeMemberStore())
	ctx := context.Background()

	member, err := svc.SignUp(ctx, SignUpRequest{Email: "ada@studio.test", Password: "swordfish99", Name: "Ada"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if member.Role != "artist" {
		t.Errorf("expected default role artist, got %q", member.Role)
	}
	if member.PasswordHash == "swordfish99" {
		t.Error("password stored in plain text")
	}

	got, err := svc.SignIn(ctx, "ada@studio.test", "swordfish99")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if got.ID != member.ID {
		t.Errorf("expected member %s, got %s", member.ID, got.ID)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc := NewService(newFakeMemberStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "bao@studio.test", Password: "swordfish99", Name: "Bao"}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if _, err := svc.SignIn(ctx, "bao@studio.test", "wrong-password"); err == nil {
		t.Error("expected error for wrong password, got nil")
	}
	if _, err := svc.SignIn(ctx, "nobody@studio.test", "swordfish99"); err == nil {
		t.Error("expected error for unknown email, got nil")
	}
}

func TestSignUpValidation(t *testing.T) {
	svc := NewService(newFakeMemberStore())
	ctx := context.Background()

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "x@studio.test", Password: "short", Name: "X"}); err == nil {
		t.Error("expected error for short password, got nil")
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Password: "longenough99", Name: "X"}); err == nil {
		t.Error("expected error for missing email, got nil")
	}

	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "dup@studio.test", Password: "longenough99", Name: "Dup"}); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if _, err := svc.SignUp(ctx, SignUpRequest{Email: "dup@studio.test", Password: "longenough99", Name: "Dup2"}); err == nil {
		t.Error("expected error for duplicate email, got nil")
	}
}

func TestChangePassword(t *testing.T) {
	svc := NewService(newFakeMemberStore())
	ctx := context.Background()

	member, err := svc.SignUp(ctx, SignUpRequest{Email: "cy@studio.test", Password: "original-pw", Name: "Cy"})
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}

	if err := svc.ChangePassword(ctx, member.ID, "wrong-pw", "replacement-pw"); err == nil {
		t.Error("expected error for wrong current password, got nil")
	}
	if err := svc.ChangePassword(ctx, member.ID, "original-pw", "replacement-pw"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := svc.SignIn(ctx, "cy@studio.test", "original-pw"); err == nil {
		t.Error("old password still accepted after change")
	}
	if _, err := svc.SignIn(ctx, "cy@studio.test", "replacement-pw"); err != nil {
		t.Errorf("new password rejected: %v", err)
	}
}
