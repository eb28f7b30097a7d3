package services

import (
	"context"
	"testing"
	"time"

	"github.com/psillyops/psillyops-backend/internal/apierr"
	"github.com/psillyops/psillyops-backend/internal/logger"
	"github.com/psillyops/psillyops-backend/internal/repos"
	"github.com/psillyops/psillyops-backend/internal/requestdata"
	"github.com/psillyops/psillyops-backend/internal/types"
)

func newAuthEnv(t *testing.T) AuthService {
	t.Helper()
	env := newTestEnv(t)
	log, err := logger.New("test")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	users := repos.NewUserRepo(env.db, log)
	return NewAuthService(env.db, log, users, "test-secret", time.Hour)
}

func TestRegisterAndLogin(t *testing.T) {
	auth := newAuthEnv(t)

	user, err := auth.Register(context.Background(), "Op@Example.com", "hunter22", "Opal", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Email != "op@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.Role != types.RoleOperator {
		t.Fatalf("default role: want=%s got=%s", types.RoleOperator, user.Role)
	}
	if user.PasswordHash == "hunter22" {
		t.Fatalf("password stored in plain text")
	}

	token, loggedIn, err := auth.Login(context.Background(), "op@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if token == "" {
		t.Fatalf("empty token")
	}
	if loggedIn.ID != user.ID {
		t.Fatalf("login user: want=%s got=%s", user.ID, loggedIn.ID)
	}

	ctx, err := auth.SetContextFromToken(context.Background(), token)
	if err != nil {
		t.Fatalf("SetContextFromToken: %v", err)
	}
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID != user.ID || rd.Role != types.RoleOperator {
		t.Fatalf("request data: %+v", rd)
	}
	actor := rd.Actor()
	if actor.Can(types.CapAssignSteps) {
		t.Fatalf("operator should not hold admin capabilities")
	}
}

func TestRegisterValidation(t *testing.T) {
	auth := newAuthEnv(t)

	if _, err := auth.Register(context.Background(), "", "pw", "Name", ""); !apierr.IsValidation(err) {
		t.Fatalf("empty email: want validation error, got %v", err)
	}
	if _, err := auth.Register(context.Background(), "a@b.com", "pw", "Name", "SUPERUSER"); !apierr.IsValidation(err) {
		t.Fatalf("unknown role: want validation error, got %v", err)
	}

	if _, err := auth.Register(context.Background(), "a@b.com", "pw", "Name", types.RoleAdmin); err != nil {
		t.Fatalf("Register admin: %v", err)
	}
	if _, err := auth.Register(context.Background(), "A@B.com", "pw2", "Other", ""); !apierr.IsValidation(err) {
		t.Fatalf("duplicate email: want validation error, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	auth := newAuthEnv(t)

	if _, _, err := auth.Login(context.Background(), "nobody@example.com", "pw"); !apierr.IsForbidden(err) {
		t.Fatalf("unknown user: want forbidden, got %v", err)
	}

	if _, err := auth.Register(context.Background(), "op@example.com", "correct", "Opal", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := auth.Login(context.Background(), "op@example.com", "wrong"); !apierr.IsForbidden(err) {
		t.Fatalf("wrong password: want forbidden, got %v", err)
	}
}

func TestSetContextFromTokenRejectsGarbage(t *testing.T) {
	auth := newAuthEnv(t)

	if _, err := auth.SetContextFromToken(context.Background(), "not-a-token"); err == nil {
		t.Fatalf("want error for malformed token")
	}

	if _, err := auth.Register(context.Background(), "x@y.com", "pw", "X", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, _, err := auth.Login(context.Background(), "x@y.com", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	// A tampered signature fails verification.
	if _, err := auth.SetContextFromToken(context.Background(), token+"x"); err == nil {
		t.Fatalf("want error for tampered token")
	}
}
