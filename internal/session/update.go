package session

import (
	"time"

	"github.com/indichess/indichess/internal/api"
	"github.com/indichess/indichess/internal/game"
)

// Source identifies which inbound channel produced an update. Both feed the
// same store; ordering between them is not guaranteed.
type Source string

const (
	SourcePoll Source = "poll"
	SourcePush Source = "push"
	SourceMove Source = "move"
)

// Update is a partial game update. Zero-valued / nil fields are absent and
// leave the stored field unchanged; the store never regresses a field to
// unknown.
type Update struct {
	Source Source

	// Force bypasses the staleness check and clears pending moves. Used by
	// the post-rejection re-fetch, where the authoritative snapshot may
	// legitimately sit below the optimistic ply.
	Force bool

	Status game.Status // "" = absent
	FEN    string      // "" = absent

	// HasPly false means the update does not carry a ply. Pushed updates
	// without one are treated as advancing exactly one half-move.
	HasPly bool
	Ply    int

	Player1ID game.PlayerID // "" = absent
	Player2ID game.PlayerID

	WhiteTime  *int
	BlackTime  *int
	LastMoveAt *time.Time

	DrawOfferSet  bool
	DrawOfferedBy *game.PlayerID

	// Moves replaces the whole history; AppendMove appends one half-move.
	Moves      []game.MoveRecord
	AppendMove *game.MoveRecord
}

// SnapshotUpdate converts a full poll response into an update.
func SnapshotUpdate(resp *api.GameResponse, force bool) Update {
	u := Update{
		Source:    SourcePoll,
		Force:     force,
		Status:    resp.Status,
		FEN:       resp.FEN,
		Player1ID: resp.Player1ID,
		Player2ID: resp.Player2ID,
		WhiteTime: resp.WhiteTime,
		BlackTime: resp.BlackTime,
	}
	if resp.CurrentPly != nil {
		u.HasPly = true
		u.Ply = *resp.CurrentPly
	}
	if resp.LastMoveAt != nil {
		u.LastMoveAt = resp.LastMoveAt
	}
	if resp.DrawOfferedBy != nil {
		u.DrawOfferSet = true
		u.DrawOfferedBy = resp.DrawOfferedBy
	}
	if resp.Moves != nil {
		moves := make([]game.MoveRecord, 0, len(resp.Moves))
		for _, m := range resp.Moves {
			notation := m.SAN
			if notation == "" {
				notation = m.UCI
			}
			moves = append(moves, game.MoveRecord{Notation: notation, Color: m.Color})
		}
		u.Moves = moves
	}
	return u
}

// MoveEventUpdate converts a move broadcast into an update. When the event
// carries a move, receivedAt re-anchors the clocks: the broadcast is sent at
// move time, so receipt time approximates the server event closely enough
// for display. Status-only broadcasts leave the anchor alone so a running
// clock is not reset mid-think.
func MoveEventUpdate(ev *api.MoveEvent, receivedAt time.Time) Update {
	u := Update{
		Source:    SourcePush,
		Status:    ev.Status,
		FEN:       ev.FEN,
		WhiteTime: ev.WhiteTime,
		BlackTime: ev.BlackTime,
	}
	if ev.CurrentPly != nil {
		u.HasPly = true
		u.Ply = *ev.CurrentPly
	}
	if ev.UCI != "" {
		t := receivedAt
		u.LastMoveAt = &t
	}
	if ev.DrawOfferedBy != nil {
		u.DrawOfferSet = true
		u.DrawOfferedBy = ev.DrawOfferedBy
	} else if ev.UCI != "" {
		// A played move voids any pending offer.
		u.DrawOfferSet = true
	}
	if ev.UCI != "" || ev.SAN != "" {
		notation := ev.SAN
		if notation == "" {
			notation = ev.UCI
		}
		// The broadcast reports the side to move next, so the move it
		// carries was played by the other side.
		moved := game.White
		if ev.NextTurn == game.White {
			moved = game.Black
		}
		u.AppendMove = &game.MoveRecord{Notation: notation, Color: moved}
	}
	return u
}
