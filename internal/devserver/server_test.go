package devserver

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indichess/indichess/internal/api"
	"github.com/indichess/indichess/internal/game"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	s := New()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Close()
		ts.Close()
	})
	return s, ts
}

func TestCreateAndFetchGame(t *testing.T) {
	_, ts := newTestServer(t)
	client := api.NewClient(ts.URL, "a")

	created, err := client.CreateGame(context.Background(), "STANDARD", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, game.PlayerID("a"), created.Player1ID)
	assert.Nil(t, created.WhiteTime, "standard games are untimed")

	fetched, err := client.GetGame(context.Background(), created.GameID)
	require.NoError(t, err)
	assert.Equal(t, game.StartingFEN, fetched.FEN)
	require.NotNil(t, fetched.CurrentPly)
	assert.Equal(t, 0, *fetched.CurrentPly)
}

func TestTimedGameTypesGetBudgets(t *testing.T) {
	_, ts := newTestServer(t)
	client := api.NewClient(ts.URL, "a")

	blitz, err := client.CreateGame(context.Background(), "BLITZ", "a", "b")
	require.NoError(t, err)
	require.NotNil(t, blitz.WhiteTime)
	assert.Equal(t, 180, *blitz.WhiteTime)

	rapid, err := client.CreateGame(context.Background(), "RAPID", "a", "b")
	require.NoError(t, err)
	require.NotNil(t, rapid.BlackTime)
	assert.Equal(t, 600, *rapid.BlackTime)
}

func TestMoveFlowAndTurnEnforcement(t *testing.T) {
	_, ts := newTestServer(t)
	white := api.NewClient(ts.URL, "a")
	black := api.NewClient(ts.URL, "b")

	created, err := white.CreateGame(context.Background(), "STANDARD", "a", "b")
	require.NoError(t, err)
	id := created.GameID

	// Black may not open.
	_, err = black.SubmitMove(context.Background(), id, "e7e5")
	require.Error(t, err)

	ev, err := white.SubmitMove(context.Background(), id, "e2e4")
	require.NoError(t, err)
	assert.Equal(t, "e4", ev.SAN)
	assert.Equal(t, game.Black, ev.NextTurn)
	require.NotNil(t, ev.CurrentPly)
	assert.Equal(t, 1, *ev.CurrentPly)

	// Illegal move rejected with a textual reason.
	_, err = black.SubmitMove(context.Background(), id, "a8a1")
	require.Error(t, err)
	var statusErr *api.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.NotEmpty(t, statusErr.Reason)

	_, err = black.SubmitMove(context.Background(), id, "e7e5")
	require.NoError(t, err)

	fetched, err := white.GetGame(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, *fetched.CurrentPly)
	assert.Len(t, fetched.Moves, 2)
}

func TestResignEndsGame(t *testing.T) {
	_, ts := newTestServer(t)
	white := api.NewClient(ts.URL, "a")

	created, err := white.CreateGame(context.Background(), "STANDARD", "a", "b")
	require.NoError(t, err)

	require.NoError(t, white.Resign(context.Background(), created.GameID))

	fetched, err := white.GetGame(context.Background(), created.GameID)
	require.NoError(t, err)
	assert.Equal(t, game.StatusPlayer2Won, fetched.Status)

	// No moves accepted after the end.
	_, err = white.SubmitMove(context.Background(), created.GameID, "e2e4")
	assert.Error(t, err)
}

func TestDrawOfferLifecycle(t *testing.T) {
	_, ts := newTestServer(t)
	white := api.NewClient(ts.URL, "a")
	black := api.NewClient(ts.URL, "b")

	created, err := white.CreateGame(context.Background(), "STANDARD", "a", "b")
	require.NoError(t, err)
	id := created.GameID

	require.NoError(t, white.OfferDraw(context.Background(), id))

	fetched, err := black.GetGame(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, fetched.DrawOfferedBy)
	assert.Equal(t, game.PlayerID("a"), *fetched.DrawOfferedBy)

	// Decline leaves the rejected sentinel.
	require.NoError(t, black.RespondDraw(context.Background(), id, false))
	fetched, err = black.GetGame(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, fetched.DrawOfferedBy)
	assert.Equal(t, game.DrawRejected, *fetched.DrawOfferedBy)

	// A second offer accepted ends the game in a draw.
	require.NoError(t, white.OfferDraw(context.Background(), id))
	require.NoError(t, black.RespondDraw(context.Background(), id, true))
	fetched, err = black.GetGame(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, game.StatusDraw, fetched.Status)
	assert.Nil(t, fetched.DrawOfferedBy)
}

func TestMatchmakingPairsTwoWaiters(t *testing.T) {
	_, ts := newTestServer(t)
	first := api.NewClient(ts.URL, "a")
	second := api.NewClient(ts.URL, "b")

	id, err := first.JoinQueue(context.Background(), "STANDARD")
	require.NoError(t, err)
	assert.Equal(t, api.MatchWaiting, id)

	// Second joiner is paired immediately.
	id, err = second.JoinQueue(context.Background(), "STANDARD")
	require.NoError(t, err)
	assert.Positive(t, id)

	// First learns via check; the waiter takes white.
	checked, err := first.CheckMatch(context.Background(), "STANDARD")
	require.NoError(t, err)
	assert.Equal(t, id, checked)

	g, err := first.GetGame(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, game.PlayerID("a"), g.Player1ID)
	assert.Equal(t, game.PlayerID("b"), g.Player2ID)
}

func TestMatchmakingCancel(t *testing.T) {
	_, ts := newTestServer(t)
	client := api.NewClient(ts.URL, "a")

	id, err := client.JoinQueue(context.Background(), "BLITZ")
	require.NoError(t, err)
	require.Equal(t, api.MatchWaiting, id)

	require.NoError(t, client.CancelQueue(context.Background(), "BLITZ"))

	// Queue types are independent: the blitz entry is gone, so a second
	// joiner on the same type waits instead of pairing.
	other := api.NewClient(ts.URL, "b")
	id, err = other.JoinQueue(context.Background(), "BLITZ")
	require.NoError(t, err)
	assert.Equal(t, api.MatchWaiting, id)
}

func TestResponsesCopyClockBudgets(t *testing.T) {
	s, ts := newTestServer(t)
	client := api.NewClient(ts.URL, "a")

	created, err := client.CreateGame(context.Background(), "BLITZ", "a", "b")
	require.NoError(t, err)

	// Snapshots are marshaled after the lock is released; they must not
	// alias the live budget ints applyMove keeps charging.
	s.mu.Lock()
	g := s.games[created.GameID]
	resp := g.response()
	ev := g.statusEvent()
	*g.whiteTime -= 37
	s.mu.Unlock()

	require.NotNil(t, resp.WhiteTime)
	assert.Equal(t, 180, *resp.WhiteTime)
	require.NotNil(t, ev.WhiteTime)
	assert.Equal(t, 180, *ev.WhiteTime)
}
