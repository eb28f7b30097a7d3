package services

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/psillyops/psillyops-backend/internal/apierr"
)

func TestTrackingTokenIssueAndResolve(t *testing.T) {
	env := newTestEnv(t)
	runID := uuid.New()

	issued, err := env.tokens.Issue(context.Background(), nil, runID)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !strings.HasPrefix(issued.Code, "po-") {
		t.Fatalf("code %q missing po- prefix", issued.Code)
	}
	if len(issued.Code) != len("po-")+32 {
		t.Fatalf("code length: want=%d got=%d", len("po-")+32, len(issued.Code))
	}

	resolved, err := env.tokens.Resolve(context.Background(), issued.Code)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.RunID != runID {
		t.Fatalf("run id: want=%s got=%s", runID, resolved.RunID)
	}
}

func TestTrackingTokenResolveUnknownCode(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.tokens.Resolve(context.Background(), "po-ffffffffffffffffffffffffffffffff"); !apierr.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestTrackingTokenIssueRequiresRunID(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.tokens.Issue(context.Background(), nil, uuid.Nil); err == nil {
		t.Fatalf("want error for nil run id")
	}
}

func TestTrackingCodesAreUnique(t *testing.T) {
	env := newTestEnv(t)
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		issued, err := env.tokens.Issue(context.Background(), nil, uuid.New())
		if err != nil {
			t.Fatalf("Issue %d: %v", i, err)
		}
		if seen[issued.Code] {
			t.Fatalf("duplicate code %q", issued.Code)
		}
		seen[issued.Code] = true
	}
}
