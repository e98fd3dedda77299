package game

import (
	"fmt"

	"github.com/notnil/chess"
)

// Engine wraps a notnil/chess game positioned at an arbitrary FEN. The
// client uses it to validate inbound positions and to render SAN for
// optimistic move records; the dev server uses it as the authoritative rules
// engine.
type Engine struct {
	game *chess.Game
}

// StartingFEN is the standard initial position.
const StartingFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func NewEngine() *Engine {
	return &Engine{game: chess.NewGame()}
}

func NewEngineFromFEN(fen string) (*Engine, error) {
	fenFunc, err := chess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("invalid FEN: %w", err)
	}
	return &Engine{game: chess.NewGame(fenFunc)}, nil
}

// ValidateFEN reports whether the position string parses. Snapshots carrying
// a FEN that fails here are malformed and must be dropped whole.
func ValidateFEN(fen string) error {
	if fen == "" {
		return fmt.Errorf("empty FEN")
	}
	_, err := chess.FEN(fen)
	return err
}

// MoveOutcome is the result of applying one UCI move.
type MoveOutcome struct {
	UCI      string
	SAN      string
	FEN      string
	GameOver bool
	Status   Status
}

// ApplyUCI validates and plays a UCI move against the current position.
func (e *Engine) ApplyUCI(uci string) (*MoveOutcome, error) {
	if len(uci) < 4 || len(uci) > 5 {
		return nil, fmt.Errorf("malformed uci %q", uci)
	}
	from := parseSquare(uci[0:2])
	to := parseSquare(uci[2:4])
	if from == chess.NoSquare || to == chess.NoSquare {
		return nil, fmt.Errorf("malformed uci %q", uci)
	}
	promo := chess.NoPieceType
	if len(uci) == 5 {
		promo = parsePromotion(uci[4:5])
		if promo == chess.NoPieceType {
			return nil, fmt.Errorf("malformed promotion in %q", uci)
		}
	}

	var match *chess.Move
	for _, vm := range e.game.ValidMoves() {
		if vm.S1() == from && vm.S2() == to && vm.Promo() == promo {
			match = vm
			break
		}
	}
	if match == nil {
		return nil, fmt.Errorf("illegal move %s", uci)
	}

	position := e.game.Position()
	san := chess.AlgebraicNotation{}.Encode(position, match)
	if err := e.game.Move(match); err != nil {
		return nil, fmt.Errorf("move failed: %w", err)
	}

	out := &MoveOutcome{
		UCI:      uci,
		SAN:      san,
		FEN:      e.game.Position().String(),
		GameOver: e.game.Outcome() != chess.NoOutcome,
		Status:   StatusInProgress,
	}
	switch e.game.Outcome() {
	case chess.WhiteWon:
		out.Status = StatusPlayer1Won
	case chess.BlackWon:
		out.Status = StatusPlayer2Won
	case chess.Draw:
		out.Status = StatusDraw
	}
	return out, nil
}

func (e *Engine) FEN() string {
	return e.game.Position().String()
}

// NotationForUCI renders the SAN a move would have from the given position,
// without mutating anything. Used for the locally rendered notation of a
// pending move; falls back to the raw UCI if the position or move cannot be
// interpreted.
func NotationForUCI(fen, uci string) string {
	engine, err := NewEngineFromFEN(fen)
	if err != nil {
		return uci
	}
	out, err := engine.ApplyUCI(uci)
	if err != nil {
		return uci
	}
	return out.SAN
}

func parseSquare(sq string) chess.Square {
	if len(sq) != 2 {
		return chess.NoSquare
	}
	file := int(sq[0] - 'a')
	rank := int(sq[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return chess.NoSquare
	}
	return chess.Square(rank*8 + file)
}

func parsePromotion(p string) chess.PieceType {
	switch p {
	case "q":
		return chess.Queen
	case "r":
		return chess.Rook
	case "b":
		return chess.Bishop
	case "n":
		return chess.Knight
	default:
		return chess.NoPieceType
	}
}
