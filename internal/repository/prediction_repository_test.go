package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/scan-classifier/internal/logging"
	"github.com/example/scan-classifier/internal/retry"
)

func TestExecuteWithRetryReturnsOperationError(t *testing.T) {
	repo := &PostgresRepository{
		logger: zap.NewNop(),
		retry:  retry.Policy{Attempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
	}

	attempts := 0
	err := repo.executeWithRetry(context.Background(), "repository.save_log", "req-2", func() error {
		attempts++
		return errors.New("duplicate key value violates unique constraint")
	})

	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if opErr.Operation != "repository.save_log" || opErr.RequestID != "req-2" {
		t.Fatalf("unexpected operation metadata: %+v", opErr)
	}
}

func TestMemoryRepositoryRecentOrderAndCapacity(t *testing.T) {
	repo := NewMemoryRepository(3)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d"} {
		if err := repo.SaveLog(ctx, &PredictionLog{RequestID: id}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	logs, err := repo.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(logs) != 3 {
		t.Fatalf("expected capacity-bounded 3 entries, got %d", len(logs))
	}
	if logs[0].RequestID != "d" || logs[2].RequestID != "b" {
		t.Fatalf("expected most recent first, got %s..%s", logs[0].RequestID, logs[2].RequestID)
	}

	limited, err := repo.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(limited) != 1 || limited[0].RequestID != "d" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}

	logs[0].Label = "mutated"
	again, _ := repo.Recent(ctx, 1)
	if again[0].Label == "mutated" {
		t.Fatal("Recent must return copies")
	}
}
