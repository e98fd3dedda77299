// Package devserver is an in-memory stand-in for the IndiChess backend: the
// full REST surface, the websocket channel, matchmaking, and real rules via
// the engine. It exists for local development and end-to-end tests; nothing
// survives a restart.
package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/indichess/indichess/internal/api"
	"github.com/indichess/indichess/internal/game"
	"github.com/indichess/indichess/internal/push"
)

// initial clock budgets per game type, seconds. STANDARD is untimed.
var timeControls = map[string]struct {
	initial   int
	increment int
}{
	"BLITZ": {initial: 180, increment: 2},
	"RAPID": {initial: 600, increment: 0},
}

type liveGame struct {
	id       int64
	gameType string
	engine   *game.Engine

	player1 game.PlayerID
	player2 game.PlayerID

	status        game.Status
	currentPly    int
	whiteTime     *int
	blackTime     *int
	lastMoveAt    *time.Time
	drawOfferedBy *game.PlayerID
	moves         []api.MoveHistoryItem
}

// Server implements the backend surface in memory.
type Server struct {
	logger zerolog.Logger
	clk    clockwork.Clock
	hub    *Hub

	mu      sync.Mutex
	games   map[int64]*liveGame
	nextID  int64
	waiting map[string]game.PlayerID // gameType -> queued user
	matched map[game.PlayerID]int64  // paired user -> game id, consumed by check
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithClock injects the time source, for tests.
func WithClock(clk clockwork.Clock) Option {
	return func(s *Server) { s.clk = clk }
}

// New builds a server with no games.
func New(opts ...Option) *Server {
	s := &Server{
		logger:  zerolog.Nop(),
		clk:     clockwork.NewRealClock(),
		games:   make(map[int64]*liveGame),
		waiting: make(map[string]game.PlayerID),
		matched: make(map[game.PlayerID]int64),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)
	s.hub.onPublish = s.handlePublish
	return s
}

// Handler returns the routed HTTP handler, websocket endpoint included.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/games", s.handleCreateGame).Methods(http.MethodPost)
	r.HandleFunc("/games/{id:[0-9]+}", s.handleGetGame).Methods(http.MethodGet)
	r.HandleFunc("/games/{id:[0-9]+}/move", s.handleMove).Methods(http.MethodPost)
	r.HandleFunc("/games/{id:[0-9]+}/resign", s.handleResign).Methods(http.MethodPost)
	r.HandleFunc("/games/{id:[0-9]+}/draw-offer", s.handleDrawOffer).Methods(http.MethodPost)
	r.HandleFunc("/games/{id:[0-9]+}/draw-response", s.handleDrawResponse).Methods(http.MethodPost)
	r.HandleFunc("/matchmaking/join", s.handleJoin).Methods(http.MethodPost)
	r.HandleFunc("/matchmaking/check", s.handleCheck).Methods(http.MethodGet)
	r.HandleFunc("/matchmaking/cancel", s.handleCancel).Methods(http.MethodPost)
	r.HandleFunc("/ws", s.hub.ServeWS)
	return r
}

// Close drops all channel connections.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) createGame(p1, p2 game.PlayerID, gameType string) *liveGame {
	s.nextID++
	g := &liveGame{
		id:       s.nextID,
		gameType: gameType,
		engine:   game.NewEngine(),
		player1:  p1,
		player2:  p2,
		status:   game.StatusInProgress,
	}
	if tc, ok := timeControls[gameType]; ok {
		w, b := tc.initial, tc.initial
		g.whiteTime, g.blackTime = &w, &b
	}
	s.games[g.id] = g
	s.logger.Info().Int64("game_id", g.id).Str("type", gameType).Msg("Game created")
	return g
}

func (s *Server) handleCreateGame(w http.ResponseWriter, r *http.Request) {
	p1 := game.PlayerID(r.Header.Get("X-PLAYER1-ID"))
	p2 := game.PlayerID(r.Header.Get("X-PLAYER2-ID"))
	if p1 == "" || p2 == "" {
		http.Error(w, "missing player headers", http.StatusBadRequest)
		return
	}
	gameType := gameTypeParam(r)

	s.mu.Lock()
	g := s.createGame(p1, p2, gameType)
	resp := g.response()
	s.mu.Unlock()

	writeJSON(w, resp)
}

func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	g, err := s.lookup(r)
	if err != nil {
		s.mu.Unlock()
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	resp := g.response()
	s.mu.Unlock()

	writeJSON(w, resp)
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	userID := game.PlayerID(r.Header.Get("X-USER-ID"))
	var req api.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed move request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	g, err := s.lookup(r)
	if err != nil {
		s.mu.Unlock()
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	ev, err := s.applyMove(g, userID, req.UCI)
	s.mu.Unlock()

	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.hub.Broadcast(push.GameTopic(g.id), ev)
	writeJSON(w, ev)
}

// applyMove validates turn order and legality, applies the move, charges the
// mover's clock, and builds the broadcast event. Caller holds s.mu.
func (s *Server) applyMove(g *liveGame, userID game.PlayerID, uci string) (*api.MoveEvent, error) {
	if g.status.Terminal() {
		return nil, fmt.Errorf("game already finished")
	}

	mover := game.ColorToMove(g.currentPly)
	expected := g.player1
	if mover == game.Black {
		expected = g.player2
	}
	if userID != expected {
		return nil, fmt.Errorf("not your turn")
	}

	out, err := g.engine.ApplyUCI(uci)
	if err != nil {
		return nil, err
	}

	now := s.clk.Now()
	s.chargeClock(g, mover, now)
	g.lastMoveAt = &now
	g.currentPly++
	g.status = out.Status
	g.drawOfferedBy = nil
	g.moves = append(g.moves, api.MoveHistoryItem{
		Ply:   g.currentPly,
		UCI:   out.UCI,
		SAN:   out.SAN,
		Color: mover,
	})

	ply := g.currentPly
	ev := &api.MoveEvent{
		GameID:     g.id,
		UCI:        out.UCI,
		SAN:        out.SAN,
		FEN:        out.FEN,
		CurrentPly: &ply,
		WhiteTime:  copySeconds(g.whiteTime),
		BlackTime:  copySeconds(g.blackTime),
		NextTurn:   game.ColorToMove(ply),
		Status:     g.status,
	}
	return ev, nil
}

func (s *Server) chargeClock(g *liveGame, mover game.Color, now time.Time) {
	budget := g.whiteTime
	if mover == game.Black {
		budget = g.blackTime
	}
	if budget == nil {
		return
	}
	if g.lastMoveAt != nil {
		elapsed := int(now.Sub(*g.lastMoveAt) / time.Second)
		*budget -= elapsed
	}
	if tc, ok := timeControls[g.gameType]; ok {
		*budget += tc.increment
	}
	if *budget <= 0 {
		*budget = 0
		if mover == game.White {
			g.status = game.StatusPlayer2Won
		} else {
			g.status = game.StatusPlayer1Won
		}
	}
}

func (s *Server) handleResign(w http.ResponseWriter, r *http.Request) {
	userID := game.PlayerID(r.Header.Get("X-USER-ID"))

	s.mu.Lock()
	g, err := s.lookup(r)
	if err != nil {
		s.mu.Unlock()
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if g.status.Terminal() {
		s.mu.Unlock()
		http.Error(w, "game already finished", http.StatusBadRequest)
		return
	}
	switch userID {
	case g.player1:
		g.status = game.StatusPlayer2Won
	case g.player2:
		g.status = game.StatusPlayer1Won
	default:
		s.mu.Unlock()
		http.Error(w, "not your game", http.StatusForbidden)
		return
	}
	ev := g.statusEvent()
	s.mu.Unlock()

	s.hub.Broadcast(push.GameTopic(gameIDFrom(r)), ev)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDrawOffer(w http.ResponseWriter, r *http.Request) {
	userID := game.PlayerID(r.Header.Get("X-USER-ID"))

	s.mu.Lock()
	g, err := s.lookup(r)
	if err != nil {
		s.mu.Unlock()
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if g.status.Terminal() {
		s.mu.Unlock()
		http.Error(w, "game already finished", http.StatusBadRequest)
		return
	}
	if userID != g.player1 && userID != g.player2 {
		s.mu.Unlock()
		http.Error(w, "not your game", http.StatusForbidden)
		return
	}
	g.drawOfferedBy = &userID
	ev := g.statusEvent()
	s.mu.Unlock()

	s.hub.Broadcast(push.GameTopic(gameIDFrom(r)), ev)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDrawResponse(w http.ResponseWriter, r *http.Request) {
	accept := r.URL.Query().Get("accept") == "true"

	s.mu.Lock()
	g, err := s.lookup(r)
	if err != nil {
		s.mu.Unlock()
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if g.drawOfferedBy == nil || *g.drawOfferedBy == game.DrawRejected {
		s.mu.Unlock()
		http.Error(w, "no draw offer pending", http.StatusBadRequest)
		return
	}
	if accept {
		g.status = game.StatusDraw
		g.drawOfferedBy = nil
	} else {
		rejected := game.DrawRejected
		g.drawOfferedBy = &rejected
	}
	ev := g.statusEvent()
	s.mu.Unlock()

	s.hub.Broadcast(push.GameTopic(gameIDFrom(r)), ev)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	userID := game.PlayerID(r.Header.Get("X-USER-ID"))
	gameType := gameTypeParam(r)
	if userID == "" {
		writeJSON(w, api.MatchResponse{MatchID: api.MatchError})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	waiter, ok := s.waiting[gameType]
	if !ok || waiter == userID {
		s.waiting[gameType] = userID
		writeJSON(w, api.MatchResponse{MatchID: api.MatchWaiting})
		return
	}

	// Pair them up: the earlier waiter takes white.
	delete(s.waiting, gameType)
	g := s.createGame(waiter, userID, gameType)
	s.matched[waiter] = g.id
	writeJSON(w, api.MatchResponse{MatchID: g.id})
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	userID := game.PlayerID(r.Header.Get("X-USER-ID"))

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.matched[userID]; ok {
		delete(s.matched, userID)
		writeJSON(w, api.MatchResponse{MatchID: id})
		return
	}
	writeJSON(w, api.MatchResponse{MatchID: api.MatchWaiting})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	userID := game.PlayerID(r.Header.Get("X-USER-ID"))
	gameType := gameTypeParam(r)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.waiting[gameType] == userID {
		delete(s.waiting, gameType)
		writeJSON(w, api.MatchResponse{MatchID: 1})
		return
	}
	writeJSON(w, api.MatchResponse{MatchID: 0})
}

// handlePublish processes a channel-published move: the alternate transport
// for the same semantic action as POST /games/{id}/move.
func (s *Server) handlePublish(userID, destination string, body json.RawMessage) {
	var gameID int64
	if _, err := fmt.Sscanf(destination, "game/%d/move", &gameID); err != nil {
		s.logger.Warn().Str("destination", destination).Msg("Ignoring publish to unknown destination")
		return
	}

	var req api.MoveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.Warn().Err(err).Msg("Malformed published move")
		return
	}

	s.mu.Lock()
	g, ok := s.games[gameID]
	var ev *api.MoveEvent
	var err error
	if ok {
		ev, err = s.applyMove(g, game.PlayerID(userID), req.UCI)
	}
	s.mu.Unlock()

	if !ok || err != nil {
		// Channel moves have no reply path; the client learns the truth
		// from its next poll.
		s.logger.Warn().Err(err).Int64("game_id", gameID).Msg("Published move not applied")
		return
	}
	s.hub.Broadcast(push.GameTopic(gameID), ev)
}

func (s *Server) lookup(r *http.Request) (*liveGame, error) {
	id := gameIDFrom(r)
	g, ok := s.games[id]
	if !ok {
		return nil, fmt.Errorf("game %d not found", id)
	}
	return g, nil
}

// response builds a snapshot copy. Clock budgets are copied out because the
// caller marshals after releasing s.mu while applyMove keeps mutating them.
func (g *liveGame) response() *api.GameResponse {
	ply := g.currentPly
	moves := make([]api.MoveHistoryItem, len(g.moves))
	copy(moves, g.moves)
	return &api.GameResponse{
		GameID:        g.id,
		Player1ID:     g.player1,
		Player2ID:     g.player2,
		Status:        g.status,
		GameType:      g.gameType,
		CurrentPly:    &ply,
		FEN:           g.engine.FEN(),
		WhiteTime:     copySeconds(g.whiteTime),
		BlackTime:     copySeconds(g.blackTime),
		LastMoveAt:    g.lastMoveAt,
		DrawOfferedBy: g.drawOfferedBy,
		Moves:         moves,
	}
}

// statusEvent is a broadcast for non-move changes: resignations, draw state,
// terminal statuses. It carries the current ply so receivers treat it as a
// refresh, not an advance.
func (g *liveGame) statusEvent() *api.MoveEvent {
	ply := g.currentPly
	return &api.MoveEvent{
		GameID:        g.id,
		FEN:           g.engine.FEN(),
		CurrentPly:    &ply,
		WhiteTime:     copySeconds(g.whiteTime),
		BlackTime:     copySeconds(g.blackTime),
		NextTurn:      game.ColorToMove(ply),
		Status:        g.status,
		DrawOfferedBy: g.drawOfferedBy,
	}
}

func copySeconds(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func gameIDFrom(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	return id
}

func gameTypeParam(r *http.Request) string {
	gameType := r.URL.Query().Get("gameType")
	if gameType == "" {
		gameType = "STANDARD"
	}
	return gameType
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
