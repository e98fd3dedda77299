// Package api is the REST client for the IndiChess gateway. Viewer identity
// travels as the X-USER-ID header on every request, never as a query
// parameter.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/indichess/indichess/internal/game"
)

const identityHeader = "X-USER-ID"

// Client talks to the gateway's REST surface.
type Client struct {
	baseURL    string
	viewer     game.PlayerID
	httpClient *http.Client
	logger     zerolog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets a custom logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient builds a client for the gateway at baseURL acting as viewer.
func NewClient(baseURL string, viewer game.PlayerID, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		viewer:     viewer,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Viewer returns the identity the client acts as.
func (c *Client) Viewer() game.PlayerID {
	return c.viewer
}

// GetGame fetches the authoritative snapshot for one game.
func (c *Client) GetGame(ctx context.Context, gameID int64) (*GameResponse, error) {
	var resp GameResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/games/%d", gameID), nil, nil, &resp)
	if err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitMove posts a UCI move. A *StatusError return means the backend
// rejected the move and carries its reason.
func (c *Client) SubmitMove(ctx context.Context, gameID int64, uci string) (*MoveEvent, error) {
	var resp MoveEvent
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/games/%d/move", gameID), nil, MoveRequest{UCI: uci}, &resp)
	if err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resign forfeits the game for the viewer.
func (c *Client) Resign(ctx context.Context, gameID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/games/%d/resign", gameID), nil, nil, nil)
}

// OfferDraw offers a draw to the opponent.
func (c *Client) OfferDraw(ctx context.Context, gameID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/games/%d/draw-offer", gameID), nil, nil, nil)
}

// RespondDraw accepts or declines a pending draw offer.
func (c *Client) RespondDraw(ctx context.Context, gameID int64, accept bool) error {
	q := url.Values{"accept": {fmt.Sprintf("%t", accept)}}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/games/%d/draw-response", gameID), q, nil, nil)
}

// JoinQueue enters the matchmaking queue for a game type. The result is a
// match id, MatchWaiting, or MatchError.
func (c *Client) JoinQueue(ctx context.Context, gameType string) (int64, error) {
	return c.matchCall(ctx, http.MethodPost, "/matchmaking/join", gameType)
}

// CheckMatch polls the queue for a pairing.
func (c *Client) CheckMatch(ctx context.Context, gameType string) (int64, error) {
	return c.matchCall(ctx, http.MethodGet, "/matchmaking/check", gameType)
}

// CancelQueue vacates the queue for a game type.
func (c *Client) CancelQueue(ctx context.Context, gameType string) error {
	_, err := c.matchCall(ctx, http.MethodPost, "/matchmaking/cancel", gameType)
	return err
}

// CreateGame creates a two-sided game directly, bypassing matchmaking. This
// is the dev/test path; both player ids are supplied by the caller.
func (c *Client) CreateGame(ctx context.Context, gameType string, player1, player2 game.PlayerID) (*GameResponse, error) {
	q := url.Values{"gameType": {gameType}}
	req, err := c.newRequest(ctx, http.MethodPost, "/games", q, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-PLAYER1-ID", string(player1))
	req.Header.Set("X-PLAYER2-ID", string(player2))

	var resp GameResponse
	if err := c.send(req, &resp); err != nil {
		return nil, err
	}
	if err := resp.Validate(); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) matchCall(ctx context.Context, method, path, gameType string) (int64, error) {
	q := url.Values{"gameType": {gameType}}
	var resp MatchResponse
	if err := c.do(ctx, method, path, q, nil, &resp); err != nil {
		return 0, err
	}
	return resp.MatchID, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(identityHeader, string(c.viewer))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	return c.send(req, out)
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Debug().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Msg("Request rejected")
		return &StatusError{Code: resp.StatusCode, Reason: strings.TrimSpace(string(reason))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}
