package clock

import (
	"github.com/jonboulle/clockwork"

	"github.com/indichess/indichess/internal/game"
)

// Pair holds both sides' clocks and re-anchors them from each accepted
// snapshot. Only the side to move runs, and nothing runs once the game is
// over.
type Pair struct {
	White *Clock
	Black *Clock
}

func NewPair(clk clockwork.Clock) *Pair {
	return &Pair{White: New(clk), Black: New(clk)}
}

// Sync re-anchors both clocks from an authoritative snapshot.
func (p *Pair) Sync(snap game.Snapshot) {
	inProgress := !snap.Status.Terminal()
	toMove := game.ColorToMove(snap.CurrentPly)

	p.White.Sync(snap.WhiteTime, inProgress && toMove == game.White, snap.LastMoveAt)
	p.Black.Sync(snap.BlackTime, inProgress && toMove == game.Black, snap.LastMoveAt)
}
