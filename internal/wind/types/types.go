package types

import "time"

// SensorKey identifies one anemometer on one serial port.
type SensorKey struct {
	SensorID string
	Port     string
}

// String returns the canonical "<sensor_id>_<port>" form, e.g. "A_COM3".
func (k SensorKey) String() string {
	return k.SensorID + "_" + k.Port
}

// Reading is one parsed sample from a serial log line.
type Reading struct {
	Timestamp time.Time
	Port      string
	SensorID  string
	U         float64
	V         float64
	W         float64
	Channel   int
	// TemperatureRaw is the decoded two-hex-digit field. Its meaning is fixed
	// by the device protocol; it is not converted to a unit here.
	TemperatureRaw int

	Speed     float64
	Direction float64
}

// Key returns the store key for r.
func (r Reading) Key() SensorKey {
	return SensorKey{SensorID: r.SensorID, Port: r.Port}
}

// IngestCounts is a set of line/byte counters for one tick or one file.
type IngestCounts struct {
	BytesRead      int64 `json:"bytes_read"`
	LinesParsed    int64 `json:"lines_parsed"`
	LinesMalformed int64 `json:"lines_malformed"`
	LinesIgnored   int64 `json:"lines_ignored"`
}

// Add accumulates other into c.
func (c *IngestCounts) Add(other IngestCounts) {
	c.BytesRead += other.BytesRead
	c.LinesParsed += other.LinesParsed
	c.LinesMalformed += other.LinesMalformed
	c.LinesIgnored += other.LinesIgnored
}

// IsZero reports whether nothing was counted.
func (c IngestCounts) IsZero() bool {
	return c == IngestCounts{}
}

// IngestFile is the ledger row for one tailed log file.
type IngestFile struct {
	Path      string    `json:"path"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	IngestCounts
}
