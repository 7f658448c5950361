package httpapi

import (
	"database/sql"
	"net/http"
)

// NewMux returns a mux with /healthz registered. db may be nil when the
// ledger is disabled.
func NewMux(db *sql.DB, active ActiveFileSource) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db, active)
	return mux
}
