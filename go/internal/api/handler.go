package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/turingchat/go/internal/archive"
	"github.com/mcdev12/turingchat/go/internal/matchmaking"
)

const requestTimeout = 5 * time.Second

// PoolService is the matchmaking surface exposed over HTTP.
type PoolService interface {
	Join(ctx context.Context, token string) (matchmaking.Ticket, error)
	Leave(ctx context.Context, ticketID uuid.UUID) error
	Status(ctx context.Context, ticketID uuid.UUID) (matchmaking.Ticket, error)
	Count(ctx context.Context) (int, error)
}

// Archive reads closed matches back for verification and scoring.
type Archive interface {
	GetMatch(ctx context.Context, id uuid.UUID) (archive.Record, error)
	TotalScore(ctx context.Context, token string) (int64, error)
}

type Handler struct {
	pool    PoolService
	archive Archive
	clock   clockwork.Clock
	window  time.Duration
	wsPath  string
}

func NewHandler(pool PoolService, store Archive, clock clockwork.Clock, window time.Duration) *Handler {
	return &Handler{pool: pool, archive: store, clock: clock, window: window, wsPath: "/ws/match"}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /match/request", h.handleRequest)
	mux.HandleFunc("GET /match/status", h.handleStatus)
	mux.HandleFunc("POST /match/cancel", h.handleCancel)
	mux.HandleFunc("GET /pool/count", h.handleCount)
	mux.HandleFunc("GET /match/{id}", h.handleMatch)
	mux.HandleFunc("GET /score", h.handleScore)
}

type matchRequest struct {
	Token string `json:"token"`
}

type matchRequestResponse struct {
	Ticket     string    `json:"ticket"`
	ExpiresAt  time.Time `json:"expires_at"`
	WindowSecs int       `json:"window_secs"`
}

type matchStatusResponse struct {
	Status     string  `json:"status"`
	SessionID  string  `json:"session_id,omitempty"`
	CommitHash string  `json:"commit_hash,omitempty"`
	WSURL      string  `json:"ws_url,omitempty"`
	TimeLeft   float64 `json:"time_left"`
}

type cancelRequest struct {
	Ticket string `json:"ticket"`
}

type scoreResponse struct {
	Token string `json:"token"`
	Total int64  `json:"total"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func (h *Handler) handleRequest(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "body must be {\"token\": string}")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ticket, err := h.pool.Join(ctx, req.Token)
	if err != nil {
		h.writePoolError(w, err)
		return
	}

	log.Info().
		Str("ticket_id", ticket.ID.String()).
		Str("status", string(ticket.Status)).
		Msg("match requested")

	writeJSON(w, http.StatusOK, matchRequestResponse{
		Ticket:     ticket.ID.String(),
		ExpiresAt:  ticket.ExpiresAt.UTC(),
		WindowSecs: int(h.window.Seconds()),
	})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("ticket"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidTicket", "ticket is missing or malformed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	ticket, err := h.pool.Status(ctx, id)
	if err != nil {
		h.writePoolError(w, err)
		return
	}

	resp := matchStatusResponse{Status: string(ticket.Status)}
	switch ticket.Status {
	case matchmaking.StatusWaiting:
		resp.TimeLeft = max(0, ticket.ExpiresAt.Sub(h.clock.Now()).Seconds())
	case matchmaking.StatusPaired:
		resp.SessionID = ticket.SessionID.String()
		resp.CommitHash = ticket.CommitHash
		resp.WSURL = h.wsPath + "?" + url.Values{"ticket": {ticket.ID.String()}}.Encode()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "body must be {\"ticket\": string}")
		return
	}
	id, err := uuid.Parse(req.Ticket)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidTicket", "ticket is malformed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	if err := h.pool.Leave(ctx, id); err != nil {
		h.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleCount(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	n, err := h.pool.Count(ctx)
	if err != nil {
		h.writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// handleMatch returns an archived match including its reveal, so clients
// can check the commit hash after the fact.
func (h *Handler) handleMatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "match id is malformed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	rec, err := h.archive.GetMatch(ctx, id)
	if errors.Is(err, archive.ErrMatchNotFound) {
		writeError(w, http.StatusNotFound, "MatchNotFound", "no archived match with that id")
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("failed to load archived match")
		writeError(w, http.StatusInternalServerError, "Internal", "request failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, http.StatusBadRequest, "InvalidRequest", "token is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	total, err := h.archive.TotalScore(ctx, token)
	if err != nil {
		log.Error().Err(err).Msg("failed to sum scores")
		writeError(w, http.StatusInternalServerError, "Internal", "request failed")
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{Token: token, Total: total})
}

func (h *Handler) writePoolError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, matchmaking.ErrEmptyToken):
		writeError(w, http.StatusBadRequest, "InvalidRequest", err.Error())
	case errors.Is(err, matchmaking.ErrInvalidTicket):
		writeError(w, http.StatusNotFound, "InvalidTicket", "ticket not found")
	case errors.Is(err, matchmaking.ErrPoolClosed):
		writeError(w, http.StatusServiceUnavailable, "Unavailable", "matchmaking is shutting down")
	default:
		log.Error().Err(err).Msg("matchmaking request failed")
		writeError(w, http.StatusInternalServerError, "Internal", "request failed")
	}
}

func writeError(w http.ResponseWriter, status int, kind, detail string) {
	writeJSON(w, status, errorResponse{Error: kind, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
