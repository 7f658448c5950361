package controller

import (
	"net/http"

	"windmon/internal/mqtt"
	"windmon/internal/wind/repository"
	"windmon/internal/wind/snapshot"
	"windmon/internal/wind/tail"
)

// IngestSource is the read side of the tail engine.
type IngestSource interface {
	Cursor() tail.CursorState
	Stats() tail.Stats
}

// FanoutSource reports MQTT delivery counters.
type FanoutSource interface {
	Stats() mqtt.Stats
}

type WindController interface {
	RegisterRoutes(mux *http.ServeMux)
}

// Deps wires the controller. Ledger and Fanout are optional.
type Deps struct {
	Publisher *snapshot.Publisher
	Ingest    IngestSource
	Ledger    repository.IngestRepository
	Fanout    FanoutSource
	RawLogDir string
}

type windControllerImpl struct {
	publisher *snapshot.Publisher
	ingest    IngestSource
	ledger    repository.IngestRepository
	fanout    FanoutSource
	rawLogDir string
}

func NewWindController(d Deps) WindController {
	return &windControllerImpl{
		publisher: d.Publisher,
		ingest:    d.Ingest,
		ledger:    d.Ledger,
		fanout:    d.Fanout,
		rawLogDir: d.RawLogDir,
	}
}

func (c *windControllerImpl) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /", c.handleDashboard)
	mux.HandleFunc("GET /api/wind_data", c.handleWindData)
	mux.HandleFunc("GET /api/ingest_stats", c.handleIngestStats)
	mux.HandleFunc("GET /logs/{filename}", c.handleRawLog)
}
