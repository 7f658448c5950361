package httpapi

import (
	"database/sql"
	"log/slog"
	"net/http"
	"path/filepath"

	"windmon/internal/utils"
)

// ActiveFileSource reports the file the tail engine is following, or "".
type ActiveFileSource interface {
	ActiveFile() string
}

type healthchecker interface {
	handleHealthz(w http.ResponseWriter, r *http.Request)
}

type healthcheckerImpl struct {
	db     *sql.DB
	active ActiveFileSource
}

func NewHealthchecker(db *sql.DB, active ActiveFileSource) healthchecker {
	return &healthcheckerImpl{db: db, active: active}
}

type healthResponse struct {
	Status     string  `json:"status"`
	ActiveFile *string `json:"active_file"`
}

func (h *healthcheckerImpl) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			slog.Error("failed to check database connectivity", "error", err)
			utils.WriteError(w, http.StatusInternalServerError, "failed to check database connectivity")
			return
		}
	}

	resp := healthResponse{Status: "ok"}
	if h.active != nil {
		if p := h.active.ActiveFile(); p != "" {
			base := filepath.Base(p)
			resp.ActiveFile = &base
		}
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func registerHealthcheck(mux *http.ServeMux, db *sql.DB, active ActiveFileSource) {
	healthchecker := NewHealthchecker(db, active)
	mux.HandleFunc("GET /healthz", healthchecker.handleHealthz)
}
