package auth

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/seu-repo/ocpp-bridge/internal/domain"
	"github.com/seu-repo/ocpp-bridge/internal/mocks"
)

func seedUser(t *testing.T, repo *mocks.MockUserRepository, email, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &domain.User{
		ID:       "u1",
		Name:     "Operator",
		Email:    email,
		Password: string(hash),
		Role:     domain.UserRoleOperator,
	}
	if err := repo.Save(context.Background(), user); err != nil {
		t.Fatalf("save user: %v", err)
	}
	return user
}

func TestLoginAndValidateRoundTrip(t *testing.T) {
	repo := mocks.NewMockUserRepository()
	seedUser(t, repo, "op@example.com", "s3cret")

	svc := NewService(repo, "test-secret", time.Hour, zap.NewNop())

	token, err := svc.Login(context.Background(), "op@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if token == "" {
		t.Fatal("Login returned empty token")
	}

	user, err := svc.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if user.ID != "u1" || user.Role != domain.UserRoleOperator {
		t.Errorf("validated user = %+v", user)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	repo := mocks.NewMockUserRepository()
	seedUser(t, repo, "op@example.com", "s3cret")

	svc := NewService(repo, "test-secret", time.Hour, zap.NewNop())

	if _, err := svc.Login(context.Background(), "op@example.com", "wrong"); err == nil {
		t.Fatal("Login with wrong password succeeded")
	}
}

func TestLoginUnknownUser(t *testing.T) {
	svc := NewService(mocks.NewMockUserRepository(), "test-secret", time.Hour, zap.NewNop())

	if _, err := svc.Login(context.Background(), "nobody@example.com", "x"); err == nil {
		t.Fatal("Login for unknown user succeeded")
	}
}

func TestValidateTokenGarbage(t *testing.T) {
	svc := NewService(mocks.NewMockUserRepository(), "test-secret", time.Hour, zap.NewNop())

	if _, err := svc.ValidateToken(context.Background(), "not.a.token"); err == nil {
		t.Fatal("ValidateToken accepted garbage")
	}
}

func TestValidateTokenWrongSecret(t *testing.T) {
	repo := mocks.NewMockUserRepository()
	seedUser(t, repo, "op@example.com", "s3cret")

	issuer := NewService(repo, "secret-a", time.Hour, zap.NewNop())
	verifier := NewService(repo, "secret-b", time.Hour, zap.NewNop())

	token, err := issuer.Login(context.Background(), "op@example.com", "s3cret")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if _, err := verifier.ValidateToken(context.Background(), token); err == nil {
		t.Fatal("token signed with a different secret validated")
	}
}
