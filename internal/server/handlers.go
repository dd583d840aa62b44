package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"jordanella.com/pogo-fleet/internal/accountpool"
	"jordanella.com/pogo-fleet/internal/geo"
)

type handlers struct {
	deps Deps
}

// AccountView is an account without its credentials
type AccountView struct {
	Username     string        `json:"username"`
	AuthProvider string        `json:"auth_provider"`
	Owner        string        `json:"owner"`
	Behaviour    string        `json:"behaviour,omitempty"`
	Level        int           `json:"level"`
	Position     *geo.Position `json:"position,omitempty"`
	Allocated    bool          `json:"allocated"`
	AllocatedAt  *time.Time    `json:"allocated_at,omitempty"`
	LastLoginAt  *time.Time    `json:"last_login_at,omitempty"`
	TempBannedAt *time.Time    `json:"temp_banned_at,omitempty"`
	PermBanned   bool          `json:"perm_banned"`
	BlindedAt    *time.Time    `json:"blinded_at,omitempty"`
	WarnedAt     *time.Time    `json:"warned_at,omitempty"`
	RestUntil    *time.Time    `json:"rest_until,omitempty"`
}

func newAccountView(acc *accountpool.Account) AccountView {
	return AccountView{
		Username:     acc.Username,
		AuthProvider: acc.AuthProvider,
		Owner:        acc.Owner,
		Behaviour:    acc.Behaviour,
		Level:        acc.Level,
		Position:     acc.Position,
		Allocated:    acc.Allocated,
		AllocatedAt:  acc.AllocatedAt,
		LastLoginAt:  acc.LastLoginAt,
		TempBannedAt: acc.TempBannedAt,
		PermBanned:   acc.PermBanned,
		BlindedAt:    acc.BlindedAt,
		WarnedAt:     acc.WarnedAt,
		RestUntil:    acc.RestUntil,
	}
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"ok": true}
	if h.deps.DB != nil {
		if err := h.deps.DB.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "down"})
			return
		}
		body["db"] = "up"
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *handlers) poolStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Pool.Stats())
}

func (h *handlers) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.deps.Pool.ListAccounts()
	items := make([]AccountView, 0, len(accounts))
	for _, acc := range accounts {
		items = append(items, newAccountView(acc))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handlers) getAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.deps.Pool.Get(chi.URLParam(r, "username"))
	if err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newAccountView(acc))
}

func (h *handlers) unrest(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if err := h.deps.Pool.Unrest(r.Context(), username); err != nil {
		writePoolError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "username": username})
}

func (h *handlers) activity(w http.ResponseWriter, r *http.Request) {
	if h.deps.Activity == nil {
		writeHTTPError(w, http.StatusNotImplemented, "activity_disabled")
		return
	}
	items, err := h.deps.Activity.GetRecentActivityForAccount(r.Context(), chi.URLParam(r, "username"), parseLimit(r, 50))
	if err != nil {
		writeHTTPError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *handlers) workers(w http.ResponseWriter, r *http.Request) {
	if h.deps.Workers == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h.deps.Workers.Statuses()})
}

func (h *handlers) forceUpdate(w http.ResponseWriter, r *http.Request) {
	if h.deps.Workers == nil {
		writeHTTPError(w, http.StatusNotImplemented, "workers_disabled")
		return
	}
	h.deps.Workers.ForceUpdate()
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (h *handlers) recentErrors(w http.ResponseWriter, r *http.Request) {
	if h.deps.Errors == nil {
		writeJSON(w, http.StatusOK, map[string]any{"items": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": h.deps.Errors.GetRecentErrors(parseLimit(r, 100)),
		"stats": h.deps.Errors.GetErrorStats(),
	})
}

func (h *handlers) pendingCaptchas(w http.ResponseWriter, r *http.Request) {
	if h.deps.Captcha == nil {
		writeHTTPError(w, http.StatusNotImplemented, "captcha_disabled")
		return
	}
	items, err := h.deps.Captcha.Pending(r.Context())
	if err != nil {
		writeHTTPError(w, http.StatusBadGateway, "captcha_queue_unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func parseLimit(r *http.Request, fallback int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			return n
		}
	}
	return fallback
}

func writePoolError(w http.ResponseWriter, err error) {
	if errors.Is(err, accountpool.ErrAccountNotFound) {
		writeHTTPError(w, http.StatusNotFound, "account_not_found")
		return
	}
	writeHTTPError(w, http.StatusInternalServerError, "internal_error")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeHTTPError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": code})
}
