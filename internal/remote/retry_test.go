package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/dafiiit/hivecad-sync/internal/document"
)

func TestRetryConflictSucceedsFirstTry(t *testing.T) {
	calls := 0
	err := RetryConflict(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("RetryConflict() failed: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryConflictRetriesConflicts(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps for real")
	}

	calls := 0
	err := RetryConflict(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return fmt.Errorf("token moved: %w", document.ErrConflict)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryConflict() failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryConflictExhaustsAttempts(t *testing.T) {
	if testing.Short() {
		t.Skip("retry backoff sleeps for real")
	}

	calls := 0
	err := RetryConflict(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("token moved: %w", document.ErrConflict)
	})
	if !errors.Is(err, document.ErrConflict) {
		t.Fatalf("RetryConflict() = %v, want the last conflict error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3 total attempts", calls)
	}
}

func TestRetryConflictDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	err := RetryConflict(context.Background(), func(context.Context) error {
		calls++
		return fmt.Errorf("no access: %w", document.ErrPermissionDenied)
	})
	if !errors.Is(err, document.ErrPermissionDenied) {
		t.Fatalf("RetryConflict() = %v, want permission error", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", calls)
	}
}
