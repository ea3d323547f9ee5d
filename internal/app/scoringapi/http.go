package scoringapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cketlive/scoring/internal/app/pipeline"
	"github.com/cketlive/scoring/internal/app/roster"
	"github.com/cketlive/scoring/internal/match"
	platformauth "github.com/cketlive/scoring/internal/platform/auth"
	"github.com/cketlive/scoring/internal/platform/docstore"
	"github.com/cketlive/scoring/internal/platform/metrics"
)

// maxUploadBytes bounds a bulk players upload.
const maxUploadBytes = 8 << 20

var requestsTotal = metrics.NewCounterVec(metrics.Opts{
	Name: "http_requests_total",
	Help: "HTTP requests by route and status code.",
}, []string{"method", "route", "code"})

func init() {
	metrics.Default.MustRegister(requestsTotal)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	Service  *Service
	Auth     platformauth.Manager
	Log      *slog.Logger
	Ready    map[string]Pinger
	ReadyTTL time.Duration
}

func NewHandler(service *Service, auth platformauth.Manager, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Service:  service,
		Auth:     auth,
		Log:      log,
		Ready:    map[string]Pinger{},
		ReadyTTL: 2 * time.Second,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.countRequests)

	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	r.Method(http.MethodGet, "/metrics", metrics.DefaultHandler())

	r.Post("/api/ball", h.handleBall)
	r.Post("/api/action", h.handleAction)
	r.Post("/api/select-new-batter", h.handleSelectBatter)
	r.Post("/api/select-bowler", h.handleSelectBowler)
	r.Post("/api/start-innings", h.handleStartInnings)
	r.Post("/api/start-match", h.handleStartMatch)
	r.Post("/api/scorestream/{id}", h.handleScoreStream)
	r.Get("/api/match/{id}", h.handleGetMatch)
	r.Get("/api/team/{id}", h.handleGetTeam)
	r.Post("/api/edit-team/{id}", h.handleEditTeam)

	r.Group(func(authR chi.Router) {
		authR.Use(h.authMiddleware)
		authR.Post("/api/create-match", h.handleCreateMatch)
		authR.Post("/api/select-players/{id}", h.handleSelectPlayers)
		authR.Post("/api/create-team", h.handleCreateTeam)
		authR.Post("/api/bulk/players", h.handleBulkPlayers)
		authR.Get("/api/user", h.handleUser)
		authR.Delete("/api/match/{id}", h.handleRemoveMatch)
		authR.Delete("/api/team/{id}", h.handleRemoveTeam)
	})

	return r
}

type ballRequest struct {
	MatchID string     `json:"matchId"`
	Ball    match.Ball `json:"ball"`
}

type actionRequest struct {
	MatchID string          `json:"matchId"`
	Action  json.RawMessage `json:"action"`
}

type selectBatterRequest struct {
	MatchID    string           `json:"matchId"`
	BatterInfo match.PickBatter `json:"batterInfo"`
}

type selectBowlerRequest struct {
	MatchID    string           `json:"matchId"`
	BowlerInfo match.PickBowler `json:"bowlerInfo"`
}

type startInningsRequest struct {
	ID string `json:"_id"`
	match.StartInnings
}

type startMatchRequest struct {
	ID string `json:"_id"`
	pipeline.StartMatchRequest
}

type selectPlayersRequest struct {
	Players map[string][]string `json:"players"`
}

type editTeamRequest struct {
	NewPlayers []match.Player `json:"newPlayers"`
}

func (h *Handler) handleBall(w http.ResponseWriter, r *http.Request) {
	var req ballRequest
	if !h.decode(w, r, &req) {
		return
	}
	state, err := h.Service.Pipeline.SubmitBall(r.Context(), req.MatchID, req.Ball)
	h.respond(w, r, state, err)
}

func (h *Handler) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if len(req.Action) == 0 {
		h.writeError(w, http.StatusBadRequest, "action is required")
		return
	}
	action, err := match.DecodeAction(req.Action)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state, err := h.Service.Pipeline.SubmitAction(r.Context(), req.MatchID, action)
	h.respond(w, r, state, err)
}

func (h *Handler) handleSelectBatter(w http.ResponseWriter, r *http.Request) {
	var req selectBatterRequest
	if !h.decode(w, r, &req) {
		return
	}
	state, err := h.Service.Pipeline.SelectBatter(r.Context(), req.MatchID, req.BatterInfo)
	h.respond(w, r, state, err)
}

func (h *Handler) handleSelectBowler(w http.ResponseWriter, r *http.Request) {
	var req selectBowlerRequest
	if !h.decode(w, r, &req) {
		return
	}
	state, err := h.Service.Pipeline.SelectBowler(r.Context(), req.MatchID, req.BowlerInfo)
	h.respond(w, r, state, err)
}

func (h *Handler) handleStartInnings(w http.ResponseWriter, r *http.Request) {
	var req startInningsRequest
	if !h.decode(w, r, &req) {
		return
	}
	state, err := h.Service.Pipeline.StartInnings(r.Context(), req.ID, req.StartInnings)
	h.respond(w, r, state, err)
}

func (h *Handler) handleStartMatch(w http.ResponseWriter, r *http.Request) {
	var req startMatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Service.Pipeline.StartMatch(r.Context(), req.ID, req.StartMatchRequest); err != nil {
		h.fail(w, r, err)
		return
	}
	state, err := h.Service.Pipeline.ReadMatch(r.Context(), req.ID)
	h.respond(w, r, state, err)
}

func (h *Handler) handleScoreStream(w http.ResponseWriter, r *http.Request) {
	state, err := h.Service.Pipeline.RequestScoreStream(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, state, err)
}

func (h *Handler) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	state, err := h.Service.Pipeline.ReadMatch(r.Context(), chi.URLParam(r, "id"))
	h.respond(w, r, state, err)
}

func (h *Handler) handleGetTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.Service.Roster.GetTeam(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, team)
}

func (h *Handler) handleEditTeam(w http.ResponseWriter, r *http.Request) {
	var req editTeamRequest
	if !h.decode(w, r, &req) {
		return
	}
	ids, err := h.Service.Roster.EditTeam(r.Context(), chi.URLParam(r, "id"), req.NewPlayers)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string][]string{"playerIDs": ids})
}

func (h *Handler) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req roster.CreateMatchRequest
	if !h.decode(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	summary, err := h.Service.CreateMatch(r.Context(), claims.Subject, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, summary)
}

func (h *Handler) handleSelectPlayers(w http.ResponseWriter, r *http.Request) {
	var req selectPlayersRequest
	if !h.decode(w, r, &req) {
		return
	}
	state, err := h.Service.SelectPlayers(r.Context(), chi.URLParam(r, "id"), req.Players)
	h.respond(w, r, state, err)
}

func (h *Handler) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	var req roster.CreateTeamRequest
	if !h.decode(w, r, &req) {
		return
	}
	claims := claimsFromContext(r.Context())
	ref, err := h.Service.Roster.CreateTeam(r.Context(), claims.Subject, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, ref)
}

func (h *Handler) handleBulkPlayers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, _, err := r.FormFile("File")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	claims := claimsFromContext(r.Context())
	n, err := h.Service.BulkImport(r.Context(), claims.Subject, file)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"numberOfTeams": n})
}

func (h *Handler) handleUser(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	user, err := h.Service.Roster.Dashboard(r.Context(), claims.Subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, user)
}

func (h *Handler) handleRemoveMatch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := h.Service.Roster.RemoveMatch(r.Context(), claims.Subject, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleRemoveTeam(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if err := h.Service.Roster.RemoveTeam(r.Context(), claims.Subject, chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady pings every registered dependency and reports each one.
func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.ReadyTTL)
	defer cancel()

	status := http.StatusOK
	report := make(map[string]string, len(h.Ready))
	for name, p := range h.Ready {
		if err := p.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			report[name] = err.Error()
			continue
		}
		report[name] = "ok"
	}
	h.writeJSON(w, status, report)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, state *match.State, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, state)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.Log.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	h.writeError(w, status, err.Error())
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrMatchNotFound),
		errors.Is(err, roster.ErrTeamNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrAlreadyExists),
		errors.Is(err, roster.ErrTeamExists),
		errors.Is(err, docstore.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrReducerRejection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrPublishFailure):
		return http.StatusBadGateway
	case errors.Is(err, pipeline.ErrStoreFailure):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, pipeline.ErrMatchIDRequired),
		errors.Is(err, pipeline.ErrTeamsRequired),
		errors.Is(err, match.ErrInvalidAction),
		errors.Is(err, match.ErrActionTypeRequired),
		errors.Is(err, roster.ErrInvalidCSV),
		errors.Is(err, roster.ErrUserRequired),
		errors.Is(err, roster.ErrTeamNameRequired),
		errors.Is(err, roster.ErrTeamIDRequired),
		errors.Is(err, roster.ErrTwoTeamsRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// countRequests labels by route pattern so path ids do not explode the
// series.
func (h *Handler) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
	})
}

type claimsContextKey struct{}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := platformauth.BearerToken(r.Header.Get("Authorization"))
		if token == "" {
			h.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		claims, err := h.Auth.Parse(token)
		if err != nil {
			h.writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(contextWithClaims(r.Context(), claims)))
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": strings.TrimSpace(msg)})
}

func contextWithClaims(ctx context.Context, claims platformauth.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

func claimsFromContext(ctx context.Context) platformauth.Claims {
	claims, _ := ctx.Value(claimsContextKey{}).(platformauth.Claims)
	return claims
}
