package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	app "github.com/R3E-Network/progression_engine/internal/app"
	"github.com/R3E-Network/progression_engine/internal/app/auth"
	"github.com/R3E-Network/progression_engine/internal/app/domain/levels"
	"github.com/R3E-Network/progression_engine/internal/app/domain/progression"
	"github.com/R3E-Network/progression_engine/internal/app/metrics"
	levelsvc "github.com/R3E-Network/progression_engine/internal/app/services/levels"
)

// handler bundles HTTP endpoints for the progression services.
type handler struct {
	app   *app.Application
	auth  *auth.Manager
	audit *AuditLog
	ready func(context.Context) error
}

// ServerConfig bundles everything the wrapped API surface needs.
type ServerConfig struct {
	Tokens    []string
	Auth      *auth.Manager
	Audit     *AuditLog
	Ready     func(context.Context) error
	RateRPS   float64
	RateBurst int
}

// NewServerHandler builds the fully wrapped API surface: CORS, audit, rate
// limiting, then auth around the route handler.
func NewServerHandler(application *app.Application, cfg ServerConfig) http.Handler {
	wrapped := NewHandler(application, cfg.Auth, cfg.Audit, cfg.Ready)
	wrapped = wrapWithAuth(wrapped, cfg.Tokens, nil, cfg.Auth)
	wrapped = wrapWithRateLimit(wrapped, cfg.RateRPS, cfg.RateBurst)
	wrapped = wrapWithAudit(wrapped, cfg.Audit)
	wrapped = wrapWithCORS(wrapped)
	return wrapped
}

// NewHandler returns a mux exposing the progression REST API. ready probes
// the backing store for /readyz; nil means always ready.
func NewHandler(application *app.Application, manager *auth.Manager, audit *AuditLog, ready func(context.Context) error) http.Handler {
	h := &handler{app: application, auth: manager, audit: audit, ready: ready}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/profiles", h.profiles)
	mux.HandleFunc("/v1/profiles/", h.profileResources)
	mux.HandleFunc("/v1/leaderboard", h.leaderboard)
	mux.HandleFunc("/v1/levels", h.levelSnapshot)
	mux.HandleFunc("/v1/levels/reload", h.levelReload)
	mux.HandleFunc("/v1/events", h.journalEvents)
	mux.HandleFunc("/v1/audit", h.auditEntries)
	mux.HandleFunc("/auth/login", h.login)
	mux.HandleFunc("/healthz", h.healthz)
	mux.HandleFunc("/readyz", h.readyz)
	mux.Handle("/metrics", metrics.Handler())
	return metrics.InstrumentHandler(mux)
}

func (h *handler) profiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		UserID string `json:"userId"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	profile, err := h.app.Progression.CreateProfile(r.Context(), payload.UserID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (h *handler) profileResources(w http.ResponseWriter, r *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/profiles"), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) == 0 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	userID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		profile, err := h.app.Progression.GetProfile(r.Context(), userID)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
		return
	}

	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch parts[1] {
	case "xp":
		h.applyXp(w, r, userID)
	case "progress":
		h.progress(w, r, userID)
	case "ledger":
		h.ledger(w, r, userID)
	case "balances":
		h.balances(w, r, userID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *handler) applyXp(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload struct {
		Amount json.Number `json:"amount"`
		Reason string      `json:"reason"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := payload.Amount.Int64()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("amount must be an integer"))
		return
	}

	result, err := h.app.Progression.ApplyXp(r.Context(), userID, amount, payload.Reason)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) progress(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	progress, err := h.app.Progression.GetProgress(r.Context(), userID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (h *handler) ledger(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries, err := h.app.Progression.ListLedger(r.Context(), userID, queryLimit(r))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *handler) balances(w http.ResponseWriter, r *http.Request, userID string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if kind := strings.TrimSpace(r.URL.Query().Get("kind")); kind != "" {
		balance, err := h.app.Progression.Balance(r.Context(), userID, kind)
		if err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		writeJSON(w, http.StatusOK, balance)
		return
	}

	balances, err := h.app.Progression.Balances(r.Context(), userID)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

func (h *handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	profiles, err := h.app.Progression.Leaderboard(r.Context(), queryLimit(r))
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

// levelsView is the wire shape of the active settings snapshot.
type levelsView struct {
	Version    int64                       `json:"version"`
	Source     string                      `json:"source"`
	LoadedAt   string                      `json:"loaded_at"`
	MaxLevel   int                         `json:"max_level"`
	Thresholds []thresholdView             `json:"thresholds"`
	Rewards    map[int]levels.RewardBundle `json:"rewards"`
}

type thresholdView struct {
	Level int   `json:"level"`
	MinXP int64 `json:"min_xp"`
}

func (h *handler) levelSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(h.app.Levels.Current()))
}

func (h *handler) levelReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	snap, err := h.app.Levels.Reload(r.Context())
	metrics.RecordSettingsReload(err == nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotView(snap))
}

func (h *handler) journalEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}

	limit := queryLimit(r)
	if limit <= 0 {
		limit = 100
	}
	writeJSON(w, http.StatusOK, h.app.Journal.Recent(limit))
}

func (h *handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.requireAdmin(w, r) {
		return
	}
	if h.audit == nil {
		writeJSON(w, http.StatusOK, []AuditEntry{})
		return
	}
	writeJSON(w, http.StatusOK, h.audit.listLimit(queryLimit(r)))
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.auth == nil {
		writeError(w, http.StatusNotImplemented, fmt.Errorf("login not configured"))
		return
	}

	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user, err := h.auth.Authenticate(payload.Username, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	token, err := h.auth.IssueToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":    token,
		"username": user.Username,
		"role":     user.Role,
	})
}

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if callerRole(r.Context()) != "admin" {
		writeError(w, http.StatusForbidden, fmt.Errorf("admin role required"))
		return false
	}
	return true
}

func snapshotView(snap *levelsvc.Snapshot) levelsView {
	view := levelsView{
		Version:  snap.Version,
		Source:   snap.Source,
		LoadedAt: snap.LoadedAt.UTC().Format(time.RFC3339),
		MaxLevel: snap.Curve.MaxLevel(),
		Rewards:  snap.Rewards.Bundles,
	}
	for _, threshold := range snap.Curve.Thresholds {
		view.Thresholds = append(view.Thresholds, thresholdView{Level: threshold.Level, MinXP: threshold.MinXP})
	}
	return view
}

func queryLimit(r *http.Request) int {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

// statusForError maps the domain error taxonomy onto HTTP statuses. Unknown
// errors are treated as store failures and marked retryable.
func statusForError(err error) int {
	switch {
	case progression.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, progression.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, progression.ErrExists):
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
