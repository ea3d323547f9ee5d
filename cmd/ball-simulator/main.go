// Command ball-simulator plays random matches against a running scoring
// API. It signs its own development token, so the API must share
// JWT_SECRET with it.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/nats-io/nuid"
	"golang.org/x/sync/errgroup"

	"github.com/cketlive/scoring/internal/app/roster"
	"github.com/cketlive/scoring/internal/match"
	platformauth "github.com/cketlive/scoring/internal/platform/auth"
	"github.com/cketlive/scoring/internal/platform/metrics"
)

type config struct {
	APIBase     string        `env:"SIM_API_BASE" envDefault:"http://localhost:8080"`
	Matches     int           `env:"SIM_MATCHES" envDefault:"4"`
	Overs       int           `env:"SIM_OVERS" envDefault:"5"`
	BallDelay   time.Duration `env:"SIM_BALL_DELAY" envDefault:"200ms"`
	StartupWait time.Duration `env:"SIM_STARTUP_WAIT" envDefault:"1m"`
	Timeout     time.Duration `env:"SIM_REQUEST_TIMEOUT" envDefault:"10s"`
	MetricsAddr string        `env:"SIM_METRICS_ADDR" envDefault:":9099"`
	JWTSecret   string        `env:"JWT_SECRET" envDefault:"dev-secret-change-me"`
	UserID      string        `env:"SIM_USER_ID" envDefault:"simulator"`
}

var (
	requestsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "scoring_sim_requests_total",
		Help: "HTTP requests sent by the ball simulator.",
	}, []string{"endpoint", "status"})

	ballsTotal = metrics.NewCounterVec(metrics.Opts{
		Name: "scoring_sim_balls_total",
		Help: "Deliveries bowled by the ball simulator.",
	}, []string{"outcome"})

	activeMatches = metrics.NewGauge(metrics.Opts{
		Name: "scoring_sim_active_matches",
		Help: "Matches currently being played.",
	})
)

func init() {
	metrics.Default.MustRegister(requestsTotal, ballsTotal, activeMatches)
}

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, nil))
	cfg, err := env.ParseAs[config]()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(2)
	}
	if cfg.Matches <= 0 || cfg.Overs <= 0 {
		log.Error("SIM_MATCHES and SIM_OVERS must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.DefaultHandler())
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics server stopped", "error", err)
		}
	}()

	token, err := platformauth.NewManager(cfg.JWTSecret, 24*time.Hour).Sign(cfg.UserID, "ball-simulator")
	if err != nil {
		log.Error("sign token", "error", err)
		os.Exit(1)
	}
	c := &client{base: strings.TrimRight(cfg.APIBase, "/"), token: token, http: &http.Client{Timeout: cfg.Timeout}}

	if err := c.waitReady(ctx, cfg.StartupWait); err != nil {
		log.Error("scoring api not ready", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range cfg.Matches {
		g.Go(func() error {
			activeMatches.Inc()
			defer activeMatches.Dec()
			sim := &simulation{client: c, cfg: cfg, log: log.With("sim", i), rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(i)))}
			return sim.play(gctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("simulation failed", "error", err)
		os.Exit(1)
	}
	log.Info("simulation complete", "matches", cfg.Matches)
}

type client struct {
	base  string
	token string
	http  *http.Client
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string { return fmt.Sprintf("status %d: %s", e.Status, e.Message) }

func (c *client) call(ctx context.Context, method, path string, body, out any, authed bool) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	endpoint := path
	if strings.Count(path, "/") > 2 {
		endpoint = path[:strings.LastIndex(path, "/")]
	}
	resp, err := c.http.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(endpoint, "error").Inc()
		return err
	}
	defer resp.Body.Close()
	requestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *client) waitReady(ctx context.Context, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		if lastErr = c.call(ctx, http.MethodGet, "/readyz", nil, nil, false); lastErr == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return lastErr
}

type simulation struct {
	client *client
	cfg    config
	log    *slog.Logger
	rng    *rand.Rand
}

// play creates two teams and a match, then drives it to completion.
func (s *simulation) play(ctx context.Context) error {
	var teamIDs []string
	for _, name := range []string{"Home", "Away"} {
		var ref roster.TeamRef
		req := roster.CreateTeamRequest{TeamName: name + " " + nuid.Next()[:6], Players: s.squad(name)}
		if err := s.client.call(ctx, http.MethodPost, "/api/create-team", req, &ref, true); err != nil {
			return fmt.Errorf("create team: %w", err)
		}
		teamIDs = append(teamIDs, ref.TeamID)
	}

	var summary roster.MatchSummary
	err := s.client.call(ctx, http.MethodPost, "/api/create-match", roster.CreateMatchRequest{
		Teams:       []roster.TeamPick{{TeamID: teamIDs[0]}, {TeamID: teamIDs[1]}},
		ShortNames:  []string{"HOM", "AWY"},
		Description: "simulated match",
		Properties:  match.Properties{Overs: s.cfg.Overs},
	}, &summary, true)
	if err != nil {
		return fmt.Errorf("create match: %w", err)
	}
	matchID := summary.MatchID
	s.log = s.log.With("match_id", matchID)
	s.log.Info("match created", "name", summary.Name)

	state, err := s.read(ctx, matchID)
	if err != nil {
		return err
	}
	toss := s.rng.IntN(2)
	state, err = s.startInnings(ctx, state, teamIDs[toss], teamIDs[1-toss])
	if err != nil {
		return err
	}

	for state.Lifecycle != match.StateCompleted {
		if err := ctx.Err(); err != nil {
			return err
		}
		state, err = s.next(ctx, state)
		if err != nil {
			return err
		}
	}
	s.log.Info("match completed", "result", state.Result.Description)
	return nil
}

// next performs whichever action the match is waiting for.
func (s *simulation) next(ctx context.Context, state *match.State) (*match.State, error) {
	if state.Lifecycle == match.StateInningsBreak {
		return s.startInnings(ctx, state, state.BattingTeamID, state.BowlingTeamID)
	}
	bat, bowl := state.Batting(), state.Bowling()

	if len(bat.CurrentBatterIDs) < 2 {
		for _, id := range bat.BatLineup {
			if !bat.OutBatters[id] && !slices.Contains(bat.CurrentBatterIDs, id) {
				return s.action(ctx, "/api/select-new-batter", map[string]any{
					"matchId":    state.MatchID,
					"batterInfo": match.PickBatter{BatterID: id},
				})
			}
		}
		return nil, fmt.Errorf("match %s: no batter left to pick", state.MatchID)
	}

	if bowl.CurrentBowlerID == "" {
		candidates := slices.DeleteFunc(slices.Clone(bowl.BatLineup), func(id string) bool { return id == bowl.LastBowlerID })
		pick := candidates[s.rng.IntN(min(len(candidates), 5))]
		return s.action(ctx, "/api/select-bowler", map[string]any{
			"matchId":    state.MatchID,
			"bowlerInfo": match.PickBowler{BowlerID: pick},
		})
	}

	time.Sleep(s.cfg.BallDelay)
	ball, outcome := s.delivery()
	next, err := s.action(ctx, "/api/ball", map[string]any{"matchId": state.MatchID, "ball": ball})
	if err != nil {
		ballsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	ballsTotal.WithLabelValues(outcome).Inc()
	return next, nil
}

func (s *simulation) startInnings(ctx context.Context, state *match.State, battingID, bowlingID string) (*match.State, error) {
	bat, bowl := state.Teams[battingID], state.Teams[bowlingID]
	if bat == nil || bowl == nil || len(bat.BatLineup) < 2 || len(bowl.BatLineup) == 0 {
		return nil, fmt.Errorf("match %s: teams are not ready to start an innings", state.MatchID)
	}
	s.log.Info("starting innings", "innings", max(state.Innings, 1), "batting", bat.TeamName)
	return s.action(ctx, "/api/start-innings", map[string]any{
		"_id":              state.MatchID,
		"battingTeamID":    battingID,
		"bowlingTeamID":    bowlingID,
		"currentBatterIDs": bat.BatLineup[:2],
		"currentBowlerID":  bowl.BatLineup[len(bowl.BatLineup)-1],
	})
}

func (s *simulation) action(ctx context.Context, path string, body any) (*match.State, error) {
	var state match.State
	if err := s.client.call(ctx, http.MethodPost, path, body, &state, false); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &state, nil
}

func (s *simulation) read(ctx context.Context, matchID string) (*match.State, error) {
	var state match.State
	if err := s.client.call(ctx, http.MethodGet, "/api/match/"+matchID, nil, &state, false); err != nil {
		return nil, fmt.Errorf("read match: %w", err)
	}
	return &state, nil
}

// delivery draws a ball with a rough club-cricket distribution.
func (s *simulation) delivery() (match.Ball, string) {
	roll := s.rng.IntN(100)
	switch {
	case roll < 5:
		return match.Ball{Wicket: &match.Dismissal{Kind: match.DismissalBowled}}, "wicket"
	case roll < 8:
		return match.Ball{Wicket: &match.Dismissal{Kind: match.DismissalCaught}}, "wicket"
	case roll < 12:
		return match.Ball{Extra: match.ExtraWide}, "extra"
	case roll < 14:
		return match.Ball{Extra: match.ExtraNoBall, Runs: s.rng.IntN(2)}, "extra"
	case roll < 16:
		return match.Ball{Extra: match.ExtraLegBye, Runs: 1}, "extra"
	case roll < 50:
		return match.Ball{}, "dot"
	case roll < 75:
		return match.Ball{Runs: 1}, "runs"
	case roll < 85:
		return match.Ball{Runs: 2}, "runs"
	case roll < 95:
		return match.Ball{Runs: 4}, "boundary"
	default:
		return match.Ball{Runs: 6}, "boundary"
	}
}

func (s *simulation) squad(side string) []match.Player {
	roles := []string{"batter", "batter", "batter", "batter", "allrounder", "allrounder", "keeper", "bowler", "bowler", "bowler", "bowler"}
	players := make([]match.Player, len(roles))
	for i, role := range roles {
		players[i] = match.Player{FirstName: side, LastName: strconv.Itoa(i + 1), Role: role}
	}
	return players
}
