// Package snapshot turns the latest-value store into the /api/wind_data
// response shape.
package snapshot

import (
	"time"

	"windmon/internal/utils"
	"windmon/internal/wind/store"
	"windmon/internal/wind/types"
)

const (
	// TimestampLayout is used for both reading and publication times.
	// Formatting truncates to milliseconds.
	TimestampLayout = "2006-01-02 15:04:05.000"

	NoDataMessage = "No data available"
)

type WindData struct {
	AnemometerID string  `json:"anemometer_id"`
	Speed        float64 `json:"speed"`
	Direction    float64 `json:"direction"`
	U            float64 `json:"u"`
	V            float64 `json:"v"`
	W            float64 `json:"w"`
	Temperature  int     `json:"temperature"`
	Timestamp    string  `json:"timestamp"`
}

type Response struct {
	Success          bool                `json:"success"`
	Data             map[string]WindData `json:"data"`
	ConnectionActive bool                `json:"connection_active"`
	Timestamp        string              `json:"timestamp,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// Build formats snap as of now. An empty snapshot is a valid state and
// yields success=false with an empty data object.
func Build(snap map[types.SensorKey]types.Reading, now time.Time) Response {
	if len(snap) == 0 {
		return Response{
			Success: false,
			Data:    map[string]WindData{},
			Error:   NoDataMessage,
		}
	}

	data := make(map[string]WindData, len(snap))
	for key, r := range snap {
		data[key.String()] = format(r)
	}
	return Response{
		Success:          true,
		Data:             data,
		ConnectionActive: true,
		Timestamp:        now.Format(TimestampLayout),
	}
}

func format(r types.Reading) WindData {
	dir := utils.Round(r.Direction, 1)
	if dir >= 360 {
		// 359.95 and up would otherwise round onto 360.
		dir -= 360
	}
	return WindData{
		AnemometerID: r.SensorID,
		Speed:        utils.Round(r.Speed, 2),
		Direction:    dir,
		U:            utils.Round(r.U, 2),
		V:            utils.Round(r.V, 2),
		W:            utils.Round(r.W, 2),
		Temperature:  r.TemperatureRaw,
		Timestamp:    r.Timestamp.Format(TimestampLayout),
	}
}

// Publisher builds responses on demand from a live store.
type Publisher struct {
	store *store.Store
	now   func() time.Time
}

func NewPublisher(st *store.Store) *Publisher {
	return &Publisher{store: st, now: time.Now}
}

// Current snapshots the store and formats it. It holds the store lock only
// for the copy.
func (p *Publisher) Current() Response {
	return Build(p.store.Snapshot(), p.now())
}
