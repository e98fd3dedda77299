package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indichess/indichess/internal/game"
)

func ply(n int) Update {
	return Update{Source: SourcePoll, HasPly: true, Ply: n, Status: game.StatusInProgress}
}

func TestStoreFirstSnapshotAlwaysAccepted(t *testing.T) {
	s := NewStore(1)

	u := Update{
		Source:    SourcePoll,
		HasPly:    true,
		Ply:       12,
		Status:    game.StatusInProgress,
		FEN:       game.StartingFEN,
		Player1ID: "5",
		Player2ID: "7",
	}
	require.Equal(t, Accepted, s.Apply(u))

	snap := s.Snapshot()
	assert.Equal(t, 12, snap.CurrentPly)
	assert.Equal(t, game.PlayerID("5"), snap.Player1ID)
}

func TestStoreRejectsStalePly(t *testing.T) {
	s := NewStore(1)
	require.Equal(t, Accepted, s.Apply(Update{
		Source: SourcePoll, HasPly: true, Ply: 5,
		Status: game.StatusInProgress, FEN: game.StartingFEN,
		Player1ID: "5", Player2ID: "7",
	}))

	stale := Update{
		Source: SourcePush, HasPly: true, Ply: 3,
		Status:    "PLAYER1_WON",
		FEN:       "8/8/8/4k3/8/3K4/8/8 w - - 0 1",
		Player1ID: "99", Player2ID: "98",
	}
	require.Equal(t, Stale, s.Apply(stale))

	// Nothing from the stale update leaked in.
	snap := s.Snapshot()
	assert.Equal(t, 5, snap.CurrentPly)
	assert.Equal(t, game.StatusInProgress, snap.Status)
	assert.Equal(t, game.StartingFEN, snap.FEN)
	assert.Equal(t, game.PlayerID("5"), snap.Player1ID)
}

func TestStoreEqualPlyIsRefresh(t *testing.T) {
	s := NewStore(1)
	require.Equal(t, Accepted, s.Apply(ply(4)))
	require.Equal(t, Accepted, s.Apply(ply(4)))
	assert.Equal(t, 4, s.Snapshot().CurrentPly)
}

func TestStoreFinalPlyIsMaxAcrossInterleavings(t *testing.T) {
	// Non-decreasing generation order, delivered in arbitrary interleavings
	// of the two channels: the held ply must end at the maximum seen.
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		plies := make([]int, 20)
		p := 0
		for i := range plies {
			p += rng.Intn(3)
			plies[i] = p
		}
		maxPly := plies[len(plies)-1]

		// Shuffle delivery order to simulate poll/push racing.
		delivery := make([]int, len(plies))
		copy(delivery, plies)
		rng.Shuffle(len(delivery), func(i, j int) {
			delivery[i], delivery[j] = delivery[j], delivery[i]
		})

		s := NewStore(1)
		for i, n := range delivery {
			u := ply(n)
			if i%2 == 1 {
				u.Source = SourcePush
			}
			s.Apply(u)
		}
		require.Equal(t, maxPly, s.Snapshot().CurrentPly, "trial %d delivery %v", trial, delivery)
	}
}

func TestStorePushWithoutPlyAdvancesOne(t *testing.T) {
	s := NewStore(1)
	require.Equal(t, Accepted, s.Apply(ply(6)))

	move := game.MoveRecord{Notation: "e4", Color: game.White}
	u := Update{Source: SourcePush, Status: game.StatusInProgress, AppendMove: &move}
	require.Equal(t, Accepted, s.Apply(u))

	snap := s.Snapshot()
	assert.Equal(t, 7, snap.CurrentPly)
	require.Len(t, snap.Moves, 1)
	assert.Equal(t, "e4", snap.Moves[0].Notation)
}

func TestStoreAbsentFieldsAreUntouched(t *testing.T) {
	s := NewStore(1)
	wt := 300
	lastMove := time.Now()
	require.Equal(t, Accepted, s.Apply(Update{
		Source: SourcePoll, HasPly: true, Ply: 2,
		Status: game.StatusInProgress, FEN: game.StartingFEN,
		Player1ID: "5", Player2ID: "7",
		WhiteTime: &wt, LastMoveAt: &lastMove,
	}))

	// A lean push update with only a ply.
	require.Equal(t, Accepted, s.Apply(Update{Source: SourcePush, HasPly: true, Ply: 3}))

	snap := s.Snapshot()
	assert.Equal(t, game.StartingFEN, snap.FEN)
	assert.Equal(t, game.PlayerID("7"), snap.Player2ID)
	require.NotNil(t, snap.WhiteTime)
	assert.Equal(t, 300, *snap.WhiteTime)
	require.NotNil(t, snap.LastMoveAt)
}

func TestStoreEqualPlyRefreshDoesNotDuplicateHistory(t *testing.T) {
	s := NewStore(1)
	require.Equal(t, Accepted, s.Apply(ply(0)))

	move := game.MoveRecord{Notation: "e4", Color: game.White}
	first := Update{Source: SourcePush, HasPly: true, Ply: 1, AppendMove: &move, Status: game.StatusInProgress}
	require.Equal(t, Accepted, s.Apply(first))
	// Same event redelivered (poll raced push).
	require.Equal(t, Accepted, s.Apply(first))

	assert.Len(t, s.Snapshot().Moves, 1)
}

func TestStoreOptimisticMoveAndRetirement(t *testing.T) {
	s := NewStore(1)
	require.Equal(t, Accepted, s.Apply(Update{
		Source: SourcePoll, HasPly: true, Ply: 0,
		Status: game.StatusInProgress, FEN: game.StartingFEN,
		Player1ID: "5", Player2ID: "7",
	}))

	s.ApplyOptimistic(PendingMove{UCI: "e2e4", Notation: "e4", Ply: 1})

	snap := s.Snapshot()
	assert.Equal(t, 1, snap.CurrentPly)
	require.Len(t, snap.Moves, 1)
	assert.Equal(t, game.White, snap.Moves[0].Color)
	require.Len(t, s.Pending(), 1)

	// Authoritative update at the optimistic ply retires the record.
	require.Equal(t, Accepted, s.Apply(ply(1)))
	assert.Empty(t, s.Pending())
}

func TestStoreForcedRefetchDiscardsOptimisticState(t *testing.T) {
	s := NewStore(1)
	require.Equal(t, Accepted, s.Apply(Update{
		Source: SourcePoll, HasPly: true, Ply: 2,
		Status: game.StatusInProgress, FEN: game.StartingFEN,
		Player1ID: "5", Player2ID: "7",
		Moves: []game.MoveRecord{
			{Notation: "e4", Color: game.White},
			{Notation: "e5", Color: game.Black},
		},
	}))

	// Rejected move was applied optimistically.
	s.ApplyOptimistic(PendingMove{UCI: "a1a8", Notation: "a1a8", Ply: 3})
	require.Equal(t, 3, s.Snapshot().CurrentPly)

	// The authoritative truth still says ply 2. A plain update would be
	// stale; the forced refetch wins and wipes the pending record.
	ground := Update{
		Source: SourcePoll, Force: true, HasPly: true, Ply: 2,
		Status: game.StatusInProgress, FEN: game.StartingFEN,
		Moves: []game.MoveRecord{
			{Notation: "e4", Color: game.White},
			{Notation: "e5", Color: game.Black},
		},
	}
	require.Equal(t, Accepted, s.Apply(ground))

	snap := s.Snapshot()
	assert.Equal(t, 2, snap.CurrentPly)
	assert.Len(t, snap.Moves, 2)
	assert.Empty(t, s.Pending())
}

func TestStoreClearDrawOffer(t *testing.T) {
	s := NewStore(1)
	offerer := game.PlayerID("7")
	require.Equal(t, Accepted, s.Apply(Update{
		Source: SourcePoll, HasPly: true, Ply: 2,
		Status: game.StatusInProgress, FEN: game.StartingFEN,
		Player1ID: "5", Player2ID: "7",
		DrawOfferSet: true, DrawOfferedBy: &offerer,
	}))

	var notified int
	s.OnChange(func(game.Snapshot) { notified++ })

	s.ClearDrawOffer()
	assert.Nil(t, s.Snapshot().DrawOfferedBy)
	assert.Equal(t, 1, notified)

	// Already clear: no second notification.
	s.ClearDrawOffer()
	assert.Equal(t, 1, notified)
}

func TestStoreChangeNotification(t *testing.T) {
	s := NewStore(1)
	var seen []int
	s.OnChange(func(snap game.Snapshot) { seen = append(seen, snap.CurrentPly) })

	s.Apply(ply(1))
	s.Apply(ply(0)) // stale, no notification
	s.Apply(ply(2))

	assert.Equal(t, []int{1, 2}, seen)
}
