// Package parser turns serial log lines into wind readings.
//
// Line format (fixed by the anemometer firmware):
//
//	[2024-01-01 10:00:00.123456] [PORT:COM3] A,+1.000,-0.250,+0.010,M,01,1A
package parser

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"windmon/internal/wind/types"
)

const (
	timestampLayout   = "2006-01-02 15:04:05"
	maxFractionDigits = 6
)

var (
	// ErrNotData marks a line that is not a sensor record (status chatter,
	// banners, blank lines).
	ErrNotData = errors.New("not a sensor record")
	// ErrMalformed marks a line that looks like a sensor record but could
	// not be parsed.
	ErrMalformed = errors.New("malformed sensor record")
)

var linePattern = regexp.MustCompile(
	`\[(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\.\d+)\] \[PORT:COM(\d+)\] ([A-Z]),([+-]?\d+\.\d+),([+-]?\d+\.\d+),([+-]?\d+\.\d+),M,(\d{2}),([A-Fa-f0-9]{2})`,
)

// dataMarkers are substrings only sensor records carry.
var dataMarkers = []string{",+", ",-", ",M,"}

// ParseLine parses one raw line. It returns an error wrapping ErrNotData or
// ErrMalformed when no reading can be produced; the returned Reading is only
// meaningful when err is nil.
func ParseLine(raw string) (types.Reading, error) {
	line := Clean(raw)
	m := linePattern.FindStringSubmatch(line)
	if m == nil {
		if looksLikeData(line) {
			return types.Reading{}, fmt.Errorf("%w: no structural match", ErrMalformed)
		}
		return types.Reading{}, ErrNotData
	}

	ts, err := parseTimestamp(m[1])
	if err != nil {
		return types.Reading{}, fmt.Errorf("%w: timestamp %q: %v", ErrMalformed, m[1], err)
	}
	var vel [3]float64
	for i, s := range m[4:7] {
		vel[i], err = strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Reading{}, fmt.Errorf("%w: velocity %q: %v", ErrMalformed, s, err)
		}
	}
	channel, err := strconv.Atoi(m[7])
	if err != nil {
		return types.Reading{}, fmt.Errorf("%w: channel %q: %v", ErrMalformed, m[7], err)
	}
	temp, err := strconv.ParseUint(m[8], 16, 8)
	if err != nil {
		return types.Reading{}, fmt.Errorf("%w: temperature %q: %v", ErrMalformed, m[8], err)
	}

	u, v, w := vel[0], vel[1], vel[2]
	return types.Reading{
		Timestamp:      ts,
		Port:           "COM" + m[2],
		SensorID:       m[3],
		U:              u,
		V:              v,
		W:              w,
		Channel:        channel,
		TemperatureRaw: int(temp),
		Speed:          Speed(u, v, w),
		Direction:      Direction(u, v),
	}, nil
}

// Clean drops control characters (C0, DEL and C1) and undecodable bytes,
// then trims surrounding whitespace.
func Clean(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == utf8.RuneError:
			return -1
		case r <= 0x1f, r >= 0x7f && r <= 0x9f:
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

// Speed is the magnitude of the velocity vector.
func Speed(u, v, w float64) float64 {
	return math.Sqrt(u*u + v*v + w*w)
}

// Direction is the horizontal bearing of (u, v) in degrees, in [0, 360).
func Direction(u, v float64) float64 {
	deg := math.Atan2(v, u) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

func looksLikeData(line string) bool {
	for _, marker := range dataMarkers {
		if strings.Contains(line, marker) {
			return true
		}
	}
	return false
}

// parseTimestamp accepts 1-6 fractional digits, interpreted in local time.
func parseTimestamp(s string) (time.Time, error) {
	dot := strings.LastIndexByte(s, '.')
	if dot < 0 {
		return time.Time{}, errors.New("missing fractional seconds")
	}
	if n := len(s) - dot - 1; n < 1 || n > maxFractionDigits {
		return time.Time{}, fmt.Errorf("%d fractional digits (want 1-%d)", n, maxFractionDigits)
	}
	return time.ParseInLocation(timestampLayout, s, time.Local)
}
