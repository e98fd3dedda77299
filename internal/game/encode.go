package game

import "strings"

// EncodeMove builds UCI notation from a board gesture: the origin square in
// algebraic form plus a destination given as screen coordinates, where row 0
// is rank 8 and column 0 is file a. Promotion, if any, is appended as a
// lowercase piece letter.
//
// Inputs are a caller contract: row and col must be in [0,7].
func EncodeMove(origin string, destRow, destCol int, promotion string) string {
	destFile := byte('a' + destCol)
	destRank := byte('0' + (8 - destRow))

	uci := origin + string(destFile) + string(destRank)
	if promotion != "" {
		uci += strings.ToLower(promotion)
	}
	return uci
}
