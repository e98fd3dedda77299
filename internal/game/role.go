package game

// Role is the viewer's relationship to a game.
type Role string

const (
	RoleWhite     Role = "white"
	RoleBlack     Role = "black"
	RoleSpectator Role = "spectator"
	// RoleSelfPlayDual means the viewer is registered as both players and
	// controls whichever side is to move.
	RoleSelfPlayDual Role = "self_play"
)

// ResolveRole derives the viewer's role and whether it is the viewer's turn
// from the raw snapshot fields. It is a pure function and must be
// recomputed on every snapshot change: in self-play the controlled side
// flips every ply, so a cached result goes stale immediately.
func ResolveRole(player1, player2, viewer PlayerID, currentPly int) (Role, bool) {
	if player1 == player2 && player1 == viewer {
		return RoleSelfPlayDual, true
	}
	whiteToMove := currentPly%2 == 0
	switch viewer {
	case player1:
		return RoleWhite, whiteToMove
	case player2:
		return RoleBlack, !whiteToMove
	default:
		return RoleSpectator, false
	}
}

// ControlledColor returns the side the viewer acts as for the given role and
// ply. Spectators control nothing and get an empty color.
func ControlledColor(role Role, currentPly int) Color {
	switch role {
	case RoleWhite:
		return White
	case RoleBlack:
		return Black
	case RoleSelfPlayDual:
		return ColorToMove(currentPly)
	default:
		return ""
	}
}
