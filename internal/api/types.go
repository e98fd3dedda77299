package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/indichess/indichess/internal/game"
)

// GameResponse is the wire shape of GET /games/{id} and POST /games.
// Optional fields are pointers; a missing optional field is simply absent
// from the derived snapshot.
type GameResponse struct {
	GameID        int64             `json:"gameId"`
	Player1ID     game.PlayerID     `json:"player1Id"`
	Player2ID     game.PlayerID     `json:"player2Id"`
	Status        game.Status       `json:"status"`
	GameType      string            `json:"gameType"`
	CurrentPly    *int              `json:"currentPly"`
	FEN           string            `json:"fen"`
	WhiteTime     *int              `json:"whiteTime"`
	BlackTime     *int              `json:"blackTime"`
	LastMoveAt    *time.Time        `json:"lastMoveTimestamp"`
	DrawOfferedBy *game.PlayerID    `json:"drawOfferedBy"`
	Moves         []MoveHistoryItem `json:"moves"`
}

// MoveHistoryItem is one half-move in the response history.
type MoveHistoryItem struct {
	Ply   int        `json:"ply"`
	UCI   string     `json:"uci"`
	SAN   string     `json:"san"`
	Color game.Color `json:"color"`
}

// Validate enforces the required field contract. A payload failing here is
// malformed and must be dropped whole, never partially applied.
func (r *GameResponse) Validate() error {
	if r.GameID <= 0 {
		return fmt.Errorf("game response missing gameId")
	}
	if r.Player1ID == "" || r.Player2ID == "" {
		return fmt.Errorf("game response missing player ids")
	}
	if r.Status == "" {
		return fmt.Errorf("game response missing status")
	}
	if r.CurrentPly == nil || *r.CurrentPly < 0 {
		return fmt.Errorf("game response has invalid ply")
	}
	if err := game.ValidateFEN(r.FEN); err != nil {
		return fmt.Errorf("game response FEN: %w", err)
	}
	return nil
}

// MoveEvent is the wire shape of a move broadcast, used both for the REST
// move response and for push messages on the game topic. Push messages may
// omit currentPly, in which case the store treats the event as advancing one
// half-move.
type MoveEvent struct {
	GameID        int64          `json:"gameId"`
	UCI           string         `json:"uci"`
	SAN           string         `json:"san"`
	FEN           string         `json:"fen"`
	CurrentPly    *int           `json:"currentPly"`
	WhiteTime     *int           `json:"whiteTime"`
	BlackTime     *int           `json:"blackTime"`
	NextTurn      game.Color     `json:"nextTurn"`
	Status        game.Status    `json:"status"`
	DrawOfferedBy *game.PlayerID `json:"drawOfferedBy"`
}

func (e *MoveEvent) Validate() error {
	if e.Status == "" {
		return fmt.Errorf("move event missing status")
	}
	if e.FEN != "" {
		if err := game.ValidateFEN(e.FEN); err != nil {
			return fmt.Errorf("move event FEN: %w", err)
		}
	}
	if e.CurrentPly != nil && *e.CurrentPly < 0 {
		return fmt.Errorf("move event has negative ply")
	}
	return nil
}

// DecodeMoveEvent parses and validates a raw push body.
func DecodeMoveEvent(raw []byte) (*MoveEvent, error) {
	var ev MoveEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode move event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	return &ev, nil
}

// MatchResponse carries a matchmaking result. MatchID doubles as the created
// game id once positive.
type MatchResponse struct {
	MatchID int64 `json:"matchId"`
}

// Matchmaking sentinels.
const (
	MatchWaiting int64 = -1
	MatchError   int64 = -2
)

// MoveRequest is the body of POST /games/{id}/move and of channel-published
// moves.
type MoveRequest struct {
	UCI string `json:"uci"`
}

// StatusError is a non-2xx response carrying the backend's textual reason
// (illegal move, wrong turn, game over).
type StatusError struct {
	Code   int
	Reason string
}

func (e *StatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("backend returned status %d", e.Code)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.Code, e.Reason)
}
