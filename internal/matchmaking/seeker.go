// Package matchmaking finds an opponent through the gateway's queue: join,
// then poll check once a second until paired or the ceiling expires.
package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/indichess/indichess/internal/api"
)

// ErrNoOpponent is returned when the search ceiling expires without a
// pairing. The search is not retried automatically.
var ErrNoOpponent = errors.New("no opponent found within the search window")

// Game types the backend queues on.
const (
	TypeStandard = "STANDARD"
	TypeBlitz    = "BLITZ"
	TypeRapid    = "RAPID"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultMaxAttempts  = 90
)

// Seeker runs matchmaking searches against the gateway.
type Seeker struct {
	rest         *api.Client
	clk          clockwork.Clock
	logger       zerolog.Logger
	pollInterval time.Duration
	maxAttempts  int

	// onTick reports elapsed whole seconds of searching, for progress UI.
	onTick func(seconds int)
}

// Option configures a seeker.
type Option func(*Seeker)

// WithLogger sets a custom logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Seeker) { s.logger = logger }
}

// WithClock injects the time source, for tests.
func WithClock(clk clockwork.Clock) Option {
	return func(s *Seeker) { s.clk = clk }
}

// WithPollInterval overrides the check interval.
func WithPollInterval(d time.Duration) Option {
	return func(s *Seeker) { s.pollInterval = d }
}

// WithMaxAttempts overrides the poll-tick ceiling.
func WithMaxAttempts(n int) Option {
	return func(s *Seeker) { s.maxAttempts = n }
}

// WithProgress registers a per-tick progress callback.
func WithProgress(fn func(seconds int)) Option {
	return func(s *Seeker) { s.onTick = fn }
}

// NewSeeker builds a seeker over the REST client.
func NewSeeker(rest *api.Client, opts ...Option) *Seeker {
	s := &Seeker{
		rest:         rest,
		clk:          clockwork.NewRealClock(),
		logger:       zerolog.Nop(),
		pollInterval: defaultPollInterval,
		maxAttempts:  defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Find joins the queue for gameType and polls until a match id comes back.
// The ceiling is measured in poll ticks (90 ticks at one per second). On
// expiry or cancellation the queue entry is vacated before returning.
func (s *Seeker) Find(ctx context.Context, gameType string) (int64, error) {
	matchID, err := s.rest.JoinQueue(ctx, gameType)
	if err != nil {
		return 0, fmt.Errorf("join queue: %w", err)
	}

	switch {
	case matchID > 0:
		// Someone was already waiting.
		return matchID, nil
	case matchID == api.MatchError:
		return 0, fmt.Errorf("matchmaking rejected the join request")
	}

	s.logger.Info().Str("game_type", gameType).Msg("Waiting for an opponent")

	ticker := s.clk.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			s.vacate(gameType)
			return 0, ctx.Err()
		case <-ticker.Chan():
		}

		if s.onTick != nil {
			s.onTick(attempt)
		}
		if attempt >= s.maxAttempts {
			s.vacate(gameType)
			return 0, ErrNoOpponent
		}

		matchID, err := s.rest.CheckMatch(ctx, gameType)
		if err != nil {
			// Tolerated: the next tick retries.
			s.logger.Warn().Err(err).Msg("Matchmaking check failed")
			continue
		}

		switch {
		case matchID > 0:
			s.logger.Info().Int64("game_id", matchID).Msg("Match found")
			return matchID, nil
		case matchID == api.MatchError:
			s.vacate(gameType)
			return 0, fmt.Errorf("matchmaking reported an error")
		}
		// MatchWaiting: keep polling.
	}
}

// vacate tells the backend to drop the queue entry. Failure is logged only;
// the entry expires server-side anyway.
func (s *Seeker) vacate(gameType string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.rest.CancelQueue(ctx, gameType); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to vacate matchmaking queue")
	}
}
