package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"jordanella.com/pogo-fleet/internal/logging"
)

const (
	// PendingKey is the list external solvers pop challenges from
	PendingKey = "captcha:pending"

	solvedKeyPrefix = "captcha:solved:"
)

var (
	// ErrCaptchaTimeout is returned when no token arrived in time
	ErrCaptchaTimeout = errors.New("captcha not solved in time")

	// ErrEmptyToken is returned when a solver answered with nothing
	ErrEmptyToken = errors.New("captcha solver returned an empty token")
)

// Challenge is one captcha handed to an external solver
type Challenge struct {
	Username  string    `json:"username"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Solver resolves a captcha challenge to a verification token. Solve blocks
// until a token is available, the solver gives up, or ctx is done.
type Solver interface {
	Solve(ctx context.Context, challenge Challenge) (string, error)
}

// SolverFunc adapts a function to Solver
type SolverFunc func(ctx context.Context, challenge Challenge) (string, error)

// Solve implements Solver
func (f SolverFunc) Solve(ctx context.Context, challenge Challenge) (string, error) {
	return f(ctx, challenge)
}

// SolvedKey is the list a token for username is pushed to
func SolvedKey(username string) string {
	return solvedKeyPrefix + username
}

// RedisSolver hands challenges to out-of-process solvers through Redis
// lists: challenges are pushed to PendingKey, tokens come back on
// SolvedKey(username).
type RedisSolver struct {
	client  *redis.Client
	timeout time.Duration
	logger  *logging.Logger
}

// NewRedisSolver creates a solver. timeout bounds each Solve call.
func NewRedisSolver(client *redis.Client, timeout time.Duration) *RedisSolver {
	return &RedisSolver{
		client:  client,
		timeout: timeout,
		logger:  logging.NewLogger("Captcha"),
	}
}

// Solve queues the challenge and blocks until a token is submitted
func (s *RedisSolver) Solve(ctx context.Context, challenge Challenge) (string, error) {
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now()
	}

	data, err := json.Marshal(challenge)
	if err != nil {
		return "", fmt.Errorf("failed to encode challenge: %w", err)
	}

	if err := s.client.RPush(ctx, PendingKey, data).Err(); err != nil {
		return "", fmt.Errorf("failed to queue challenge: %w", err)
	}

	s.logger.InfoWithContext("Captcha queued", map[string]interface{}{
		"account": challenge.Username,
	})

	result, err := s.client.BLPop(ctx, s.timeout, SolvedKey(challenge.Username)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("%w: %s", ErrCaptchaTimeout, challenge.Username)
	}
	if err != nil {
		return "", fmt.Errorf("failed to wait for captcha token: %w", err)
	}

	// BLPOP answers [key, value]
	token := result[1]
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// Submit publishes a token for username
func (s *RedisSolver) Submit(ctx context.Context, username, token string) error {
	if err := s.client.RPush(ctx, SolvedKey(username), token).Err(); err != nil {
		return fmt.Errorf("failed to submit token: %w", err)
	}
	return nil
}

// Pending lists the challenges nobody has taken yet
func (s *RedisSolver) Pending(ctx context.Context) ([]Challenge, error) {
	values, err := s.client.LRange(ctx, PendingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}

	challenges := make([]Challenge, 0, len(values))
	for _, v := range values {
		var c Challenge
		if err := json.Unmarshal([]byte(v), &c); err != nil {
			s.logger.Warn("Skipping malformed challenge")
			continue
		}
		challenges = append(challenges, c)
	}
	return challenges, nil
}
