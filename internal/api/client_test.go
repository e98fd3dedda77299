package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indichess/indichess/internal/game"
)

func TestGetGameSendsIdentityHeader(t *testing.T) {
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-USER-ID")
		json.NewEncoder(w).Encode(map[string]any{
			"gameId":     7,
			"player1Id":  5,
			"player2Id":  7,
			"status":     "IN_PROGRESS",
			"currentPly": 0,
			"fen":        game.StartingFEN,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "viewer-1")
	resp, err := client.GetGame(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, "viewer-1", gotHeader)
	assert.Equal(t, int64(7), resp.GameID)
	// Numeric ids come through as opaque strings.
	assert.Equal(t, game.PlayerID("5"), resp.Player1ID)
	assert.Equal(t, game.PlayerID("7"), resp.Player2ID)
}

func TestGetGameRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing gameId", map[string]any{
			"player1Id": 1, "player2Id": 2, "status": "IN_PROGRESS", "currentPly": 0, "fen": game.StartingFEN,
		}},
		{"missing status", map[string]any{
			"gameId": 1, "player1Id": 1, "player2Id": 2, "currentPly": 0, "fen": game.StartingFEN,
		}},
		{"negative ply", map[string]any{
			"gameId": 1, "player1Id": 1, "player2Id": 2, "status": "IN_PROGRESS", "currentPly": -4, "fen": game.StartingFEN,
		}},
		{"unparsable fen", map[string]any{
			"gameId": 1, "player1Id": 1, "player2Id": 2, "status": "IN_PROGRESS", "currentPly": 0, "fen": "nonsense",
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.body)
			}))
			defer server.Close()

			client := NewClient(server.URL, "1")
			_, err := client.GetGame(context.Background(), 1)
			assert.Error(t, err)
		})
	}
}

func TestSubmitMoveRejectionCarriesReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Not your turn", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, "1")
	_, err := client.SubmitMove(context.Background(), 1, "e2e4")
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadRequest, statusErr.Code)
	assert.Equal(t, "Not your turn", statusErr.Reason)
}

func TestMatchmakingCallsUseQueryAndHeader(t *testing.T) {
	var gotPath, gotQuery, gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("gameType")
		gotHeader = r.Header.Get("X-USER-ID")
		json.NewEncoder(w).Encode(MatchResponse{MatchID: MatchWaiting})
	}))
	defer server.Close()

	client := NewClient(server.URL, "9")
	id, err := client.JoinQueue(context.Background(), "BLITZ")
	require.NoError(t, err)

	assert.Equal(t, MatchWaiting, id)
	assert.Equal(t, "/matchmaking/join", gotPath)
	assert.Equal(t, "BLITZ", gotQuery)
	assert.Equal(t, "9", gotHeader)
}

func TestCreateGameSendsPlayerHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "a", r.Header.Get("X-PLAYER1-ID"))
		assert.Equal(t, "b", r.Header.Get("X-PLAYER2-ID"))
		json.NewEncoder(w).Encode(map[string]any{
			"gameId": 3, "player1Id": "a", "player2Id": "b",
			"status": "IN_PROGRESS", "currentPly": 0, "fen": game.StartingFEN,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "a")
	resp, err := client.CreateGame(context.Background(), "STANDARD", "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int64(3), resp.GameID)
}

func TestDecodeMoveEvent(t *testing.T) {
	raw := []byte(`{"gameId":1,"uci":"e2e4","san":"e4","fen":"` + game.StartingFEN + `","currentPly":1,"nextTurn":"BLACK","status":"IN_PROGRESS"}`)
	ev, err := DecodeMoveEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, "e4", ev.SAN)
	require.NotNil(t, ev.CurrentPly)
	assert.Equal(t, 1, *ev.CurrentPly)

	_, err = DecodeMoveEvent([]byte(`{"status":""}`))
	assert.Error(t, err)

	_, err = DecodeMoveEvent([]byte(`not json`))
	assert.Error(t, err)
}
