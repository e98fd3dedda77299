// Package clock derives display countdown values for one side of a timed
// game. It is display-only: it never decides a time forfeit, that arrives
// from the backend as a terminal status.
package clock

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock tracks remaining time for one side from a server-anchored pair: the
// seconds remaining at the moment of the last move, plus that move's
// timestamp. The derivation corrects for delivery delay between the server
// event and the client seeing it.
type Clock struct {
	clock clockwork.Clock

	remaining  *int
	active     bool
	lastMoveAt *time.Time
}

// New builds a clock reading wall time from clk. Pass
// clockwork.NewRealClock() outside tests.
func New(clk clockwork.Clock) *Clock {
	return &Clock{clock: clk}
}

// Sync anchors the clock on a fresh snapshot. remaining is the seconds the
// side had at the last move, nil for untimed games. active marks whether
// this side's clock is running (it is the side to move in an in-progress
// game).
func (c *Clock) Sync(remaining *int, active bool, lastMoveAt *time.Time) {
	c.remaining = remaining
	c.active = active
	c.lastMoveAt = lastMoveAt
}

// Timed reports whether the game has a time control at all.
func (c *Clock) Timed() bool {
	return c.remaining != nil
}

// Running reports whether the displayed value is currently counting down.
func (c *Clock) Running() bool {
	return c.Timed() && c.active && c.Remaining() > 0
}

// Remaining derives the seconds to display right now. While the side is
// active the elapsed whole seconds since the last move are subtracted from
// the anchored value; while inactive the anchored value holds steady. The
// result never goes below zero. Untimed clocks return 0; check Timed.
func (c *Clock) Remaining() int {
	if c.remaining == nil {
		return 0
	}
	if !c.active || c.lastMoveAt == nil {
		return max(0, *c.remaining)
	}
	elapsed := int(c.clock.Since(*c.lastMoveAt) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return max(0, *c.remaining-elapsed)
}

// Display formats the clock for rendering: m:ss, or a placeholder for
// untimed games.
func (c *Clock) Display() string {
	if !c.Timed() {
		return "--:--"
	}
	secs := c.Remaining()
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
