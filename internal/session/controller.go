// Package session keeps one client's view of one in-progress game
// consistent across two unordered inbound channels (a periodic REST poll and
// the push topic) and one outbound action path.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/indichess/indichess/internal/api"
	"github.com/indichess/indichess/internal/clock"
	"github.com/indichess/indichess/internal/game"
	"github.com/indichess/indichess/internal/push"
)

// ErrSessionEnded is returned by outbound actions once the session is
// terminal or closed.
var ErrSessionEnded = errors.New("session ended")

// State is the controller's lifecycle state.
type State string

const (
	// StateConnecting covers the window before the first snapshot lands.
	StateConnecting State = "connecting"
	// StateLive means both channels merge into the store. It is entered on
	// the first accepted snapshot regardless of push health: the poll alone
	// sustains a session.
	StateLive State = "live"
	// StateTerminal means an accepted snapshot reported a finished game.
	StateTerminal State = "terminal"
	// StateClosed means the session was torn down.
	StateClosed State = "closed"
)

// Transport selects how moves reach the backend. REST is canonical and
// authoritative; the channel publish is an explicit alternate whose outcome
// arrives only via the next broadcast or poll.
type Transport string

const (
	TransportREST    Transport = "rest"
	TransportChannel Transport = "channel"
)

const defaultPollInterval = 2 * time.Second

// View is what the rendering layer consumes: the snapshot plus every
// derivation, recomputed fresh on each change. Role is never cached across
// snapshots; in self-play it flips every ply.
type View struct {
	Snapshot     game.Snapshot
	State        State
	Role         game.Role
	IsViewerTurn bool
	WhiteClock   string
	BlackClock   string
	DrawOffered  bool
}

// Controller owns the session: it is the only writer to its store, the
// owner of the poll timer, and the owner of the push subscription it opened.
// All reconciliation runs on one goroutine; network calls run in helpers
// that deliver results back into that loop, so no two mutations interleave.
type Controller struct {
	gameID int64
	viewer game.PlayerID

	rest   *api.Client
	pushC  *push.Client
	store  *Store
	clocks *clock.Pair
	clk    clockwork.Clock
	logger zerolog.Logger

	pollInterval  time.Duration
	moveTransport Transport
	onChange      func(View)

	mu      sync.RWMutex
	state   State
	polling bool

	actions chan func()
	updates chan Update
	done    chan struct{}
	once    sync.Once
}

// ControllerOption configures a controller.
type ControllerOption func(*Controller)

// WithLogger sets a custom logger.
func WithLogger(logger zerolog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = logger }
}

// WithPollInterval overrides the redundancy poll interval.
func WithPollInterval(d time.Duration) ControllerOption {
	return func(c *Controller) { c.pollInterval = d }
}

// WithMoveTransport selects the move submission transport.
func WithMoveTransport(t Transport) ControllerOption {
	return func(c *Controller) { c.moveTransport = t }
}

// WithClock injects the time source, for tests.
func WithClock(clk clockwork.Clock) ControllerOption {
	return func(c *Controller) {
		c.clk = clk
		c.clocks = clock.NewPair(clk)
	}
}

// WithOnChange registers the render callback, invoked after every accepted
// mutation and once per second while a clock runs.
func WithOnChange(fn func(View)) ControllerOption {
	return func(c *Controller) { c.onChange = fn }
}

// NewController builds a controller for one game. It takes ownership of the
// push client: Close tears it down along with the poll timer.
func NewController(gameID int64, viewer game.PlayerID, rest *api.Client, pushClient *push.Client, opts ...ControllerOption) *Controller {
	c := &Controller{
		gameID:        gameID,
		viewer:        viewer,
		rest:          rest,
		pushC:         pushClient,
		store:         NewStore(gameID),
		clk:           clockwork.NewRealClock(),
		logger:        zerolog.Nop(),
		pollInterval:  defaultPollInterval,
		moveTransport: TransportREST,
		state:         StateConnecting,
		polling:       true,
		actions:       make(chan func(), 8),
		updates:       make(chan Update, 8),
		done:          make(chan struct{}),
	}
	c.clocks = clock.NewPair(c.clk)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start issues the first poll, opens the push subscription, and runs the
// event loop until Close.
func (c *Controller) Start() {
	go c.run()
}

// Close tears the session down: the poll timer stops, the push subscription
// and connection close, and any still-in-flight response is dropped instead
// of mutating the store. Safe to call from any state, any number of times.
func (c *Controller) Close() {
	c.once.Do(func() {
		c.setState(StateClosed)
		close(c.done)
		c.pushC.Unsubscribe(push.GameTopic(c.gameID))
		if err := c.pushC.Stop(); err != nil {
			c.logger.Debug().Err(err).Msg("Push channel close")
		}
	})
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Store exposes the session store for read-side consumers.
func (c *Controller) Store() *Store {
	return c.store
}

// View recomputes the full render view from the latest snapshot.
func (c *Controller) View() View {
	return c.buildView(c.store.Snapshot())
}

func (c *Controller) buildView(snap game.Snapshot) View {
	role, viewerTurn := game.ResolveRole(snap.Player1ID, snap.Player2ID, c.viewer, snap.CurrentPly)
	// Clock values are derived fresh from the snapshot so a caller on the
	// render side never shares mutable clock state with the loop.
	clocks := clock.NewPair(c.clk)
	clocks.Sync(snap)
	return View{
		Snapshot:     snap,
		State:        c.State(),
		Role:         role,
		IsViewerTurn: viewerTurn,
		WhiteClock:   clocks.White.Display(),
		BlackClock:   clocks.Black.Display(),
		DrawOffered:  game.ShowDrawOffer(snap, c.viewer),
	}
}

func (c *Controller) run() {
	poll := c.clk.NewTicker(c.pollInterval)
	defer poll.Stop()
	tick := c.clk.NewTicker(time.Second)
	defer tick.Stop()

	msgs := c.pushC.Subscribe(push.GameTopic(c.gameID))
	if err := c.pushC.Start(); err != nil {
		c.logger.Error().Err(err).Msg("Push channel start failed")
	}

	c.fetch(false)

	for {
		select {
		case <-c.done:
			return

		case <-poll.Chan():
			if c.pollingEnabled() {
				c.fetch(false)
			}

		case m, ok := <-msgs:
			if !ok {
				// Channel torn down; the poll carries the session.
				msgs = nil
				continue
			}
			c.handlePush(m)

		case u := <-c.updates:
			c.applyUpdate(u)

		case <-tick.Chan():
			if c.State() == StateLive && (c.clocks.White.Running() || c.clocks.Black.Running()) {
				c.notifyChange()
			}

		case fn := <-c.actions:
			fn()
		}
	}
}

// fetch issues one authoritative GET in a helper goroutine. The result
// re-enters the loop through c.updates; if the session closed meanwhile the
// response is dropped, never applied.
func (c *Controller) fetch(force bool) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		resp, err := c.rest.GetGame(ctx, c.gameID)
		if err != nil {
			// Transport failure: the push channel may still deliver, and the
			// next poll tick retries.
			c.logger.Warn().Err(err).Int64("game_id", c.gameID).Msg("Poll failed")
			return
		}
		select {
		case c.updates <- SnapshotUpdate(resp, force):
		case <-c.done:
		}
	}()
}

func (c *Controller) handlePush(m push.Message) {
	ev, err := api.DecodeMoveEvent(m.Body)
	if err != nil {
		// Malformed payloads are dropped whole, never partially applied.
		c.logger.Warn().Err(err).Str("topic", m.Topic).Msg("Dropping malformed push message")
		return
	}
	c.applyUpdate(MoveEventUpdate(ev, c.clk.Now()))
}

func (c *Controller) applyUpdate(u Update) {
	state := c.State()
	if state == StateTerminal || state == StateClosed {
		return
	}

	if c.store.Apply(u) == Stale {
		c.logger.Debug().Str("source", string(u.Source)).Msg("Discarded stale update")
		return
	}

	snap := c.store.Snapshot()
	c.clocks.Sync(snap)

	if state == StateConnecting {
		c.setState(StateLive)
		c.logger.Info().Int64("game_id", c.gameID).Msg("Session live")
	}

	if snap.Status.Terminal() {
		c.enterTerminal(snap.Status)
	}

	c.notifyChange()
}

func (c *Controller) enterTerminal(status game.Status) {
	c.setState(StateTerminal)
	c.mu.Lock()
	c.polling = false
	c.mu.Unlock()
	c.pushC.Unsubscribe(push.GameTopic(c.gameID))
	c.logger.Info().Int64("game_id", c.gameID).Str("status", string(status)).Msg("Game over")
}

func (c *Controller) pollingEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.polling
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) notifyChange() {
	if c.onChange != nil {
		c.onChange(c.buildView(c.store.Snapshot()))
	}
}

// enqueue runs fn on the event loop, failing once the session is closed.
// The buffered send could otherwise win a race against a closed done channel,
// leaving fn queued behind a loop that already returned.
func (c *Controller) enqueue(fn func()) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.actions <- fn:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) actionable() error {
	switch c.State() {
	case StateTerminal, StateClosed:
		return ErrSessionEnded
	default:
		return nil
	}
}

// SubmitMove encodes and submits a move. The store is updated optimistically
// before the network round trip; on rejection the error is surfaced and a
// forced re-fetch restores ground truth, discarding the optimistic write.
func (c *Controller) SubmitMove(ctx context.Context, origin string, destRow, destCol int, promotion string) error {
	errc := make(chan error, 1)
	ok := c.enqueue(func() {
		if err := c.actionable(); err != nil {
			errc <- err
			return
		}

		uci := game.EncodeMove(origin, destRow, destCol, promotion)
		snap := c.store.Snapshot()
		pm := PendingMove{
			Origin:    origin,
			Dest:      uci[2:4],
			Promotion: promotion,
			UCI:       uci,
			Notation:  game.NotationForUCI(snap.FEN, uci),
			Ply:       snap.CurrentPly + 1,
		}
		c.store.ApplyOptimistic(pm)
		c.notifyChange()

		go c.submit(ctx, pm, errc)
	})
	if !ok {
		return ErrSessionEnded
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrSessionEnded
	}
}

func (c *Controller) submit(ctx context.Context, pm PendingMove, errc chan<- error) {
	if c.moveTransport == TransportChannel {
		err := c.pushC.Publish(push.MoveDestination(c.gameID), api.MoveRequest{UCI: pm.UCI})
		if err == nil {
			// A published move has no rejection reply, and a rejected one
			// leaves the server behind the optimistic ply, where ordinary
			// polls are discarded as stale. Arm a deadline: if no
			// authoritative update confirms the move in time, force a
			// re-fetch to restore ground truth.
			c.confirmPending(pm.Ply)
			errc <- nil
			return
		}
		c.logger.Warn().Err(err).Msg("Channel publish failed, falling back to REST")
	}

	ev, err := c.rest.SubmitMove(ctx, c.gameID, pm.UCI)
	if err != nil {
		c.logger.Warn().Err(err).Str("uci", pm.UCI).Msg("Move rejected")
		// The fresh authoritative snapshot is the only correction path.
		c.requestFetch(true)
		errc <- err
		return
	}

	// Accepted: fold the authoritative response in and confirm with a
	// re-fetch rather than trusting the optimistic write.
	select {
	case c.updates <- MoveEventUpdate(ev, c.clk.Now()):
	case <-c.done:
	}
	c.requestFetch(false)
	errc <- nil
}

// confirmPending waits two poll intervals for an authoritative update to
// reach the given ply. A pending move still outstanding after that was
// rejected or lost in transit; the forced re-fetch discards it.
func (c *Controller) confirmPending(ply int) {
	go func() {
		select {
		case <-c.clk.After(2 * c.pollInterval):
		case <-c.done:
			return
		}
		c.enqueue(func() {
			if c.State() != StateLive {
				return
			}
			for _, pm := range c.store.Pending() {
				if pm.Ply == ply {
					c.logger.Warn().Int("ply", ply).Msg("Channel move unconfirmed, re-fetching")
					c.fetch(true)
					return
				}
			}
		})
	}()
}

func (c *Controller) requestFetch(force bool) {
	c.enqueue(func() {
		if c.State() == StateLive || c.State() == StateConnecting {
			c.fetch(force)
		}
	})
}

// Resign forfeits the game.
func (c *Controller) Resign(ctx context.Context) error {
	return c.simpleAction(ctx, func(ctx context.Context) error {
		return c.rest.Resign(ctx, c.gameID)
	})
}

// OfferDraw offers the opponent a draw.
func (c *Controller) OfferDraw(ctx context.Context) error {
	return c.simpleAction(ctx, func(ctx context.Context) error {
		return c.rest.OfferDraw(ctx, c.gameID)
	})
}

// RespondDraw answers a pending draw offer. The local offer is cleared
// immediately, independent of the network result, so it cannot resurface
// while the request is in flight.
func (c *Controller) RespondDraw(ctx context.Context, accept bool) error {
	errc := make(chan error, 1)
	ok := c.enqueue(func() {
		if err := c.actionable(); err != nil {
			errc <- err
			return
		}
		c.store.ClearDrawOffer()
		c.notifyChange()
		go func() {
			err := c.rest.RespondDraw(ctx, c.gameID, accept)
			if err == nil && accept {
				c.requestFetch(false)
			}
			errc <- err
		}()
	})
	if !ok {
		return ErrSessionEnded
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrSessionEnded
	}
}

func (c *Controller) simpleAction(ctx context.Context, call func(context.Context) error) error {
	errc := make(chan error, 1)
	ok := c.enqueue(func() {
		if err := c.actionable(); err != nil {
			errc <- err
			return
		}
		go func() {
			err := call(ctx)
			if err == nil {
				c.requestFetch(false)
			}
			errc <- err
		}()
	})
	if !ok {
		return ErrSessionEnded
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrSessionEnded
	}
}
