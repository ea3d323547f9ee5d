// Package pipeline applies one client action to a match: read the current
// state, log the action to the update queue, reduce, broadcast the score
// and persist. Steps always run in that order and a failed step stops the
// ones after it. Nothing is retried.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cketlive/scoring/internal/app/matches"
	"github.com/cketlive/scoring/internal/contracts"
	"github.com/cketlive/scoring/internal/match"
	"github.com/cketlive/scoring/internal/messaging"
	"github.com/cketlive/scoring/internal/platform/docstore"
	"github.com/cketlive/scoring/internal/scoring"
)

var (
	ErrMatchNotFound    = matches.ErrMatchNotFound
	ErrAlreadyExists    = matches.ErrAlreadyExists
	ErrStoreFailure     = docstore.ErrStoreFailure
	ErrPublishFailure   = errors.New("queue publish failed")
	ErrReducerRejection = errors.New("action rejected by reducer")
	ErrMatchIDRequired  = errors.New("matchId is required")
)

const DefaultTimeout = 10 * time.Second

const tracerName = "github.com/cketlive/scoring/internal/app/pipeline"

// PublishFunc publishes payload and returns once the queue acknowledged it.
type PublishFunc func(ctx context.Context, subject string, payload []byte) error

type ReduceFunc func(prev *match.State, a match.Action) (*match.State, error)

// Repository is the slice of matches.Repository the pipeline needs.
type Repository interface {
	Read(ctx context.Context, id string) (*match.State, error)
	Update(ctx context.Context, id string, fields docstore.Fields) error
	Replace(ctx context.Context, id string, state *match.State) error
	Create(ctx context.Context, id string, state *match.State) error
}

type Pipeline struct {
	Repo     Repository
	Publish  PublishFunc
	Reduce   ReduceFunc
	Subjects messaging.Subjects
	// Timeout bounds one action end to end. Zero disables it.
	Timeout time.Duration
	Log     *slog.Logger
	Tracer  trace.Tracer
}

func New(repo Repository, publish PublishFunc) *Pipeline {
	return &Pipeline{
		Repo:    repo,
		Publish: publish,
		Reduce:  scoring.Reduce,
		Subjects: messaging.Subjects{
			Updates: messaging.DefaultUpdatesSubject,
			Score:   messaging.DefaultScoreSubject,
		},
		Timeout: DefaultTimeout,
		Log:     slog.Default(),
		Tracer:  otel.Tracer(tracerName),
	}
}

type persistMode int

const (
	persistReplace persistMode = iota
	persistFields
)

// plan describes how one kind of action moves through the pipeline.
type plan struct {
	op           string
	publishScore bool
	persist      persistMode
	// fields lists the top-level state fields written by persistFields.
	fields []string
}

var (
	ballPlan         = plan{op: "ball", publishScore: true, persist: persistReplace}
	actionPlan       = plan{op: "action", persist: persistReplace}
	pickBatterPlan   = plan{op: "pick_batter", persist: persistReplace}
	pickBowlerPlan   = plan{op: "pick_bowler", persist: persistReplace}
	selectPlayerPlan = plan{op: "select_players", persist: persistReplace}
	startInningsPlan = plan{
		op:      "start_innings",
		persist: persistFields,
		fields:  []string{"state", "innings", "battingTeamID", "bowlingTeamID", "teams", "updates"},
	}
	scoreStreamPlan = plan{
		op:           "score_stream",
		publishScore: true,
		persist:      persistFields,
		fields:       []string{"scoreStreamState", "updates"},
	}
)

func (p *Pipeline) SubmitBall(ctx context.Context, matchID string, ball match.Ball) (*match.State, error) {
	return p.run(ctx, ballPlan, matchID, ball)
}

// SubmitAction runs an arbitrary decoded action. Score broadcast and
// persistence follow the action's type, so a BALL sent here behaves like
// SubmitBall.
func (p *Pipeline) SubmitAction(ctx context.Context, matchID string, action match.Action) (*match.State, error) {
	if action == nil {
		return nil, fmt.Errorf("%w: action is required", match.ErrInvalidAction)
	}
	return p.run(ctx, planFor(action), matchID, action)
}

func (p *Pipeline) SelectBatter(ctx context.Context, matchID string, pick match.PickBatter) (*match.State, error) {
	return p.run(ctx, pickBatterPlan, matchID, pick)
}

func (p *Pipeline) SelectBowler(ctx context.Context, matchID string, pick match.PickBowler) (*match.State, error) {
	return p.run(ctx, pickBowlerPlan, matchID, pick)
}

func (p *Pipeline) StartInnings(ctx context.Context, matchID string, start match.StartInnings) (*match.State, error) {
	return p.run(ctx, startInningsPlan, matchID, start)
}

func (p *Pipeline) SelectPlayers(ctx context.Context, matchID string, sel match.SelectPlayers) (*match.State, error) {
	return p.run(ctx, selectPlayerPlan, matchID, sel)
}

func (p *Pipeline) RequestScoreStream(ctx context.Context, matchID string) (*match.State, error) {
	return p.run(ctx, scoreStreamPlan, matchID, match.RequestScoreStream{})
}

func planFor(a match.Action) plan {
	switch a.(type) {
	case match.Ball:
		return ballPlan
	case match.PickBatter:
		return pickBatterPlan
	case match.PickBowler:
		return pickBowlerPlan
	case match.StartInnings:
		return startInningsPlan
	case match.SelectPlayers:
		return selectPlayerPlan
	case match.RequestScoreStream:
		return scoreStreamPlan
	default:
		return actionPlan
	}
}

func (p *Pipeline) run(ctx context.Context, pl plan, matchID string, action match.Action) (state *match.State, err error) {
	if matchID == "" {
		return nil, ErrMatchIDRequired
	}
	if _, ok := action.(match.CreateMatch); ok {
		return nil, fmt.Errorf("%w: CREATE_MATCH goes through CreateMatch", ErrReducerRejection)
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	ctx, span := p.tracer().Start(ctx, "pipeline."+pl.op, trace.WithAttributes(
		attribute.String("match.id", matchID),
		attribute.String("action.type", string(action.Type())),
	))
	start := time.Now()
	defer func() {
		outcome := outcomeOf(err)
		runsTotal.WithLabelValues(pl.op, outcome).Inc()
		runDuration.ObserveSince(start, pl.op)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcome)
			p.logger().WarnContext(ctx, "match update failed", "op", pl.op, "match_id", matchID, "outcome", outcome, "err", err)
		}
		span.End()
	}()

	var prev *match.State
	if err := p.step(ctx, "read", func(ctx context.Context) error {
		var err error
		prev, err = p.Repo.Read(ctx, matchID)
		return err
	}); err != nil {
		return nil, err
	}

	envelope := match.Envelope{MatchID: matchID, Action: action}
	if err := p.step(ctx, "publish.update", func(ctx context.Context) error {
		return p.publish(ctx, p.Subjects.Updates, contracts.UpdateMessage{Update: envelope, MatchID: matchID})
	}); err != nil {
		return nil, err
	}

	var next *match.State
	if err := p.step(ctx, "reduce", func(context.Context) error {
		var err error
		next, err = p.Reduce(prev, envelope.Action)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrReducerRejection, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	if pl.publishScore {
		msg := contracts.ScoreMessage{MatchID: matchID, Score: next}
		if _, ok := action.(match.RequestScoreStream); ok {
			msg.StreamState = match.StreamRequested
		}
		if err := p.step(ctx, "publish.score", func(ctx context.Context) error {
			return p.publish(ctx, p.Subjects.Score, msg)
		}); err != nil {
			return nil, err
		}
	}

	if err := p.step(ctx, "persist", func(ctx context.Context) error {
		return p.persist(ctx, pl, matchID, next)
	}); err != nil {
		return nil, err
	}
	p.logger().DebugContext(ctx, "match updated", "op", pl.op, "match_id", matchID, "state", next.Lifecycle)
	return next, nil
}

func (p *Pipeline) persist(ctx context.Context, pl plan, matchID string, next *match.State) error {
	if pl.persist == persistFields {
		fields, err := docstore.FieldsOf(next, pl.fields...)
		if err != nil {
			return err
		}
		return p.Repo.Update(ctx, matchID, fields)
	}
	return p.Repo.Replace(ctx, matchID, next)
}

func (p *Pipeline) publish(ctx context.Context, subject string, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode for %s: %w", ErrPublishFailure, subject, err)
	}
	if err := p.Publish(ctx, subject, payload); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailure, subject, err)
	}
	return nil
}

func (p *Pipeline) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer().Start(ctx, name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name)
		return err
	}
	return nil
}

func (p *Pipeline) tracer() trace.Tracer {
	if p.Tracer == nil {
		return otel.Tracer(tracerName)
	}
	return p.Tracer
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Log == nil {
		return slog.Default()
	}
	return p.Log
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrMatchNotFound):
		return "not_found"
	case errors.Is(err, ErrPublishFailure):
		return "publish_failure"
	case errors.Is(err, ErrReducerRejection):
		return "rejected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrStoreFailure):
		return "store_failure"
	default:
		return "error"
	}
}
