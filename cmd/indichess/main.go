package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/indichess/indichess/internal/api"
	"github.com/indichess/indichess/internal/config"
	"github.com/indichess/indichess/internal/identity"
	"github.com/indichess/indichess/internal/matchmaking"
	"github.com/indichess/indichess/internal/push"
	"github.com/indichess/indichess/internal/session"
)

func main() {
	gameID := flag.Int64("game", 0, "join an existing game instead of matchmaking")
	gameType := flag.String("type", matchmaking.TypeStandard, "game type: STANDARD, BLITZ or RAPID")
	viaChannel := flag.Bool("channel-moves", false, "submit moves over the push channel instead of REST")
	logout := flag.Bool("logout", false, "clear the persisted viewer identity and exit")
	flag.Parse()

	// Setup logging
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Development.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else if level, err := zerolog.ParseLevel(cfg.Development.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	viewer, err := identity.Load(cfg.Identity.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load identity")
	}
	if *logout {
		if err := viewer.Clear(); err != nil {
			log.Fatal().Err(err).Msg("Logout failed")
		}
		fmt.Println("identity cleared")
		return
	}

	rest := api.NewClient(cfg.Backend.BaseURL, viewer.ViewerID, api.WithLogger(log.Logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := *gameID
	if id == 0 {
		seeker := matchmaking.NewSeeker(rest,
			matchmaking.WithLogger(log.Logger),
			matchmaking.WithPollInterval(cfg.Matchmaking.PollInterval),
			matchmaking.WithMaxAttempts(cfg.Matchmaking.MaxAttempts),
			matchmaking.WithProgress(func(s int) {
				fmt.Printf("\rsearching for a %s opponent... %ds", *gameType, s)
			}),
		)
		id, err = seeker.Find(ctx, *gameType)
		fmt.Println()
		if err != nil {
			log.Fatal().Err(err).Msg("Matchmaking failed")
		}
	}

	pushClient := push.NewClient(cfg.Backend.WSURL, viewer.ViewerID, push.WithLogger(log.Logger))

	transport := session.TransportREST
	if *viaChannel {
		transport = session.TransportChannel
	}

	ctrl := session.NewController(id, viewer.ViewerID, rest, pushClient,
		session.WithLogger(log.Logger),
		session.WithPollInterval(cfg.Session.PollInterval),
		session.WithMoveTransport(transport),
		session.WithOnChange(printView),
	)
	ctrl.Start()
	defer ctrl.Close()

	fmt.Printf("joined game %d as %s\n", id, viewer.ViewerID)
	fmt.Println("commands: move <uci> | resign | draw | accept | decline | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		var err error
		switch fields[0] {
		case "move":
			if len(fields) < 2 || len(fields[1]) < 4 {
				fmt.Println("usage: move e2e4[q]")
				continue
			}
			err = submitUCI(ctx, ctrl, fields[1])
		case "resign":
			err = ctrl.Resign(ctx)
		case "draw":
			err = ctrl.OfferDraw(ctx)
		case "accept":
			err = ctrl.RespondDraw(ctx, true)
		case "decline":
			err = ctrl.RespondDraw(ctx, false)
		case "quit":
			return
		default:
			fmt.Println("unknown command")
			continue
		}
		if err != nil {
			fmt.Printf("error: %v\n", err)
		}
		if ctrl.State() == session.StateTerminal {
			fmt.Printf("game over: %s\n", ctrl.View().Snapshot.Status)
			return
		}
	}
}

// submitUCI translates a typed UCI string into the board-gesture form the
// controller expects.
func submitUCI(ctx context.Context, ctrl *session.Controller, uci string) error {
	origin := uci[0:2]
	destCol := int(uci[2] - 'a')
	destRow := 8 - int(uci[3]-'0')
	promotion := ""
	if len(uci) > 4 {
		promotion = uci[4:5]
	}
	if destCol < 0 || destCol > 7 || destRow < 0 || destRow > 7 {
		return fmt.Errorf("malformed destination square")
	}
	return ctrl.SubmitMove(ctx, origin, destRow, destCol, promotion)
}

func printView(v session.View) {
	turn := "opponent to move"
	if v.IsViewerTurn {
		turn = "your move"
	}
	line := fmt.Sprintf("[%s] ply %d | %s | W %s  B %s | %s",
		v.Role, v.Snapshot.CurrentPly, turn, v.WhiteClock, v.BlackClock, v.Snapshot.Status)
	if v.DrawOffered {
		line += " | draw offered (accept/decline)"
	}
	fmt.Println(line)
}
