package captcha

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestSolver(t *testing.T, timeout time.Duration) (*RedisSolver, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisSolver(client, timeout), mr
}

func TestSolveReturnsSubmittedToken(t *testing.T) {
	solver, mr := newTestSolver(t, 5*time.Second)
	ctx := context.Background()

	if err := solver.Submit(ctx, "ash", "token-123"); err != nil {
		t.Fatalf("Failed to submit token: %v", err)
	}

	token, err := solver.Solve(ctx, Challenge{Username: "ash", URL: "https://captcha.example/1"})
	if err != nil {
		t.Fatalf("Failed to solve: %v", err)
	}
	if token != "token-123" {
		t.Errorf("Expected token-123, got %s", token)
	}

	pending, err := mr.List(PendingKey)
	if err != nil {
		t.Fatalf("Failed to read pending list: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("Expected 1 queued challenge, got %d", len(pending))
	}
}

func TestSolveWaitsForToken(t *testing.T) {
	solver, _ := newTestSolver(t, 5*time.Second)
	ctx := context.Background()

	go func() {
		time.Sleep(100 * time.Millisecond)
		solver.Submit(ctx, "misty", "late-token")
	}()

	token, err := solver.Solve(ctx, Challenge{Username: "misty", URL: "https://captcha.example/2"})
	if err != nil {
		t.Fatalf("Failed to solve: %v", err)
	}
	if token != "late-token" {
		t.Errorf("Expected late-token, got %s", token)
	}
}

func TestSolveTimeout(t *testing.T) {
	solver, _ := newTestSolver(t, time.Second)

	_, err := solver.Solve(context.Background(), Challenge{Username: "brock", URL: "https://captcha.example/3"})
	if !errors.Is(err, ErrCaptchaTimeout) {
		t.Errorf("Expected ErrCaptchaTimeout, got %v", err)
	}
}

func TestPending(t *testing.T) {
	solver, mr := newTestSolver(t, time.Second)
	ctx := context.Background()

	mr.RPush(PendingKey, `{"username":"ash","url":"https://captcha.example/1"}`, "not json")

	challenges, err := solver.Pending(ctx)
	if err != nil {
		t.Fatalf("Failed to list pending: %v", err)
	}
	if len(challenges) != 1 || challenges[0].Username != "ash" {
		t.Errorf("Expected one challenge for ash, got %+v", challenges)
	}
}
