package session

import (
	"sync"

	"github.com/indichess/indichess/internal/game"
)

// ApplyResult says what the store did with an update.
type ApplyResult int

const (
	// Accepted means the update mutated the snapshot.
	Accepted ApplyResult = iota
	// Stale means the update sits behind the held ply and was discarded
	// without touching any field. Stale is not an error: it is the ordering
	// mechanism between the two inbound channels.
	Stale
)

// Store is the authoritative in-memory view of one game session. All writes
// happen on the controller's event loop; the mutex exists so render-side
// readers can take consistent copies.
type Store struct {
	mu          sync.RWMutex
	snap        game.Snapshot
	pending     []PendingMove
	initialized bool
	onChange    func(game.Snapshot)
}

// NewStore builds an empty store for one game.
func NewStore(gameID int64) *Store {
	return &Store{snap: game.Snapshot{GameID: gameID}}
}

// OnChange registers the single change subscriber. Must be set before the
// controller starts delivering updates.
func (s *Store) OnChange(fn func(game.Snapshot)) {
	s.onChange = fn
}

// Snapshot returns a copy of the current state.
func (s *Store) Snapshot() game.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.copySnapshot()
}

// Pending returns a copy of the outstanding optimistic moves.
func (s *Store) Pending() []PendingMove {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PendingMove, len(s.pending))
	copy(out, s.pending)
	return out
}

// Initialized reports whether a first snapshot has landed.
func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Apply merges a partial update. The ply ordering rule is the sole
// correctness mechanism against out-of-order delivery between poll and push:
// anything strictly behind the held ply is discarded, except the very first
// snapshot of the session. Updates at the held ply are refreshes and are
// applied.
func (s *Store) Apply(u Update) ApplyResult {
	s.mu.Lock()

	ply := s.snap.CurrentPly
	switch {
	case u.HasPly:
		ply = u.Ply
	case s.initialized && u.Source == SourcePush:
		// A push without a ply advances exactly one half-move.
		ply = s.snap.CurrentPly + 1
	}

	if s.initialized && !u.Force && ply < s.snap.CurrentPly {
		s.mu.Unlock()
		return Stale
	}

	prevPly := s.snap.CurrentPly
	s.applyFields(u, ply, prevPly)
	if u.Force {
		s.pending = nil
	} else {
		s.pending = retirePending(s.pending, ply)
	}
	s.initialized = true

	snap := s.copySnapshot()
	s.mu.Unlock()

	s.notify(snap)
	return Accepted
}

// ApplyOptimistic records a local move before the backend confirms it: the
// history grows by one half-move and the turn flips. The next authoritative
// update at or past this ply retires the pending record.
func (s *Store) ApplyOptimistic(pm PendingMove) {
	s.mu.Lock()
	moved := game.ColorToMove(s.snap.CurrentPly)
	s.snap.CurrentPly++
	s.snap.Moves = append(s.snap.Moves, game.MoveRecord{Notation: pm.Notation, Color: moved})
	s.pending = append(s.pending, pm)
	snap := s.copySnapshot()
	s.mu.Unlock()

	s.notify(snap)
}

// ClearDrawOffer wipes any locally held draw offer. Called optimistically
// when the viewer responds, so the offer does not resurface while the
// request is in flight.
func (s *Store) ClearDrawOffer() {
	s.mu.Lock()
	if s.snap.DrawOfferedBy == nil {
		s.mu.Unlock()
		return
	}
	s.snap.DrawOfferedBy = nil
	snap := s.copySnapshot()
	s.mu.Unlock()

	s.notify(snap)
}

func (s *Store) applyFields(u Update, ply, prevPly int) {
	s.snap.CurrentPly = ply
	if u.Status != "" {
		s.snap.Status = u.Status
	}
	if u.FEN != "" {
		s.snap.FEN = u.FEN
	}
	if u.Player1ID != "" {
		s.snap.Player1ID = u.Player1ID
	}
	if u.Player2ID != "" {
		s.snap.Player2ID = u.Player2ID
	}
	if u.WhiteTime != nil {
		s.snap.WhiteTime = u.WhiteTime
	}
	if u.BlackTime != nil {
		s.snap.BlackTime = u.BlackTime
	}
	if u.LastMoveAt != nil {
		s.snap.LastMoveAt = u.LastMoveAt
	}
	if u.DrawOfferSet {
		s.snap.DrawOfferedBy = u.DrawOfferedBy
	}
	if u.Moves != nil {
		s.snap.Moves = u.Moves
	} else if u.AppendMove != nil && (!s.initialized || ply > prevPly) {
		// Equal-ply refreshes carry a move the history already has, either
		// from an optimistic write or an earlier delivery of the same event.
		s.snap.Moves = append(s.snap.Moves, *u.AppendMove)
	}
}

func (s *Store) copySnapshot() game.Snapshot {
	snap := s.snap
	snap.Moves = make([]game.MoveRecord, len(s.snap.Moves))
	copy(snap.Moves, s.snap.Moves)
	return snap
}

func (s *Store) notify(snap game.Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
