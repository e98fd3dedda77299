package game

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is the backend's game status string. IN_PROGRESS is the only
// non-terminal value; anything else ends the session.
type Status string

const (
	StatusInProgress Status = "IN_PROGRESS"
	StatusPlayer1Won Status = "PLAYER1_WON"
	StatusPlayer2Won Status = "PLAYER2_WON"
	StatusDraw       Status = "DRAW"
	StatusTimeout    Status = "TIMEOUT"
)

// Terminal reports whether the status ends the game.
func (s Status) Terminal() bool {
	return s != "" && s != StatusInProgress
}

// PlayerID is an opaque player identifier. The backend serializes ids as
// JSON numbers; older gateway builds sent strings. Both are accepted.
type PlayerID string

func (p *PlayerID) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("empty player id")
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PlayerID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid player id: %w", err)
	}
	*p = PlayerID(n.String())
	return nil
}

// DrawRejected is the sentinel the backend stores in drawOfferedBy after a
// declined offer.
const DrawRejected PlayerID = "REJECTED"

// Color of one side.
type Color string

const (
	White Color = "WHITE"
	Black Color = "BLACK"
)

// ColorToMove returns the side to move at the given ply (ply 0 = white's
// first move).
func ColorToMove(ply int) Color {
	if ply%2 == 0 {
		return White
	}
	return Black
}

// MoveRecord is one half-move of the game history.
type MoveRecord struct {
	Notation string `json:"notation"`
	Color    Color  `json:"color"`
}

// Snapshot is the client's authoritative view of one game. Player1 always
// plays white. WhiteTime/BlackTime are nil for untimed games.
type Snapshot struct {
	GameID        int64        `json:"gameId"`
	FEN           string       `json:"fen"`
	Status        Status       `json:"status"`
	CurrentPly    int          `json:"currentPly"`
	Player1ID     PlayerID     `json:"player1Id"`
	Player2ID     PlayerID     `json:"player2Id"`
	WhiteTime     *int         `json:"whiteTime"`
	BlackTime     *int         `json:"blackTime"`
	LastMoveAt    *time.Time   `json:"lastMoveTimestamp"`
	DrawOfferedBy *PlayerID    `json:"drawOfferedBy"`
	Moves         []MoveRecord `json:"moves"`
}

// ShowDrawOffer reports whether a pending draw offer should be surfaced to
// the viewer. The viewer's own offer and the REJECTED sentinel are not
// actionable.
func ShowDrawOffer(snap Snapshot, viewer PlayerID) bool {
	if snap.DrawOfferedBy == nil {
		return false
	}
	offerer := *snap.DrawOfferedBy
	return offerer != viewer && offerer != DrawRejected
}
