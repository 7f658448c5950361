package snapshot

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"windmon/internal/wind/store"
	"windmon/internal/wind/types"
)

var fixedNow = time.Date(2024, 1, 1, 10, 0, 5, 987654321, time.Local)

func TestBuild_empty(t *testing.T) {
	resp := Build(map[types.SensorKey]types.Reading{}, fixedNow)

	if resp.Success || resp.ConnectionActive {
		t.Errorf("Success=%v ConnectionActive=%v; want both false", resp.Success, resp.ConnectionActive)
	}
	if resp.Error != NoDataMessage {
		t.Errorf("Error = %q; want %q", resp.Error, NoDataMessage)
	}

	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"success":false,"data":{},"connection_active":false,"error":"No data available"}`
	if string(b) != want {
		t.Errorf("json = %s; want %s", b, want)
	}
}

func TestBuild_formatsReadings(t *testing.T) {
	snap := map[types.SensorKey]types.Reading{
		{SensorID: "A", Port: "COM3"}: {
			Timestamp:      time.Date(2024, 1, 1, 10, 0, 0, 123456000, time.Local),
			SensorID:       "A",
			Port:           "COM3",
			U:              1.23456,
			V:              -0.006,
			W:              0.1049,
			TemperatureRaw: 26,
			Channel:        1,
			Speed:          1.23957,
			Direction:      359.96,
		},
	}
	resp := Build(snap, fixedNow)

	if !resp.Success || !resp.ConnectionActive {
		t.Fatalf("Success=%v ConnectionActive=%v; want both true", resp.Success, resp.ConnectionActive)
	}
	if resp.Error != "" {
		t.Errorf("Error = %q; want empty", resp.Error)
	}
	if resp.Timestamp != "2024-01-01 10:00:05.987" {
		t.Errorf("Timestamp = %q; want truncated to ms", resp.Timestamp)
	}

	got, ok := resp.Data["A_COM3"]
	if !ok {
		t.Fatalf("Data keys = %v; want A_COM3", resp.Data)
	}
	want := WindData{
		AnemometerID: "A",
		Speed:        1.24,
		Direction:    0,
		U:            1.23,
		V:            -0.01,
		W:            0.1,
		Temperature:  26,
		Timestamp:    "2024-01-01 10:00:00.123",
	}
	if got != want {
		t.Errorf("Data[A_COM3] = %+v; want %+v", got, want)
	}
}

func TestBuild_jsonFieldNames(t *testing.T) {
	snap := map[types.SensorKey]types.Reading{
		{SensorID: "B", Port: "COM4"}: {SensorID: "B", Port: "COM4", Timestamp: fixedNow},
	}
	b, err := json.Marshal(Build(snap, fixedNow))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, field := range []string{
		`"success":true`, `"connection_active":true`, `"B_COM4":{`,
		`"anemometer_id":"B"`, `"speed":`, `"direction":`, `"u":`, `"v":`, `"w":`,
		`"temperature":`, `"timestamp":"2024-01-01 10:00:05.987"`,
	} {
		if !strings.Contains(string(b), field) {
			t.Errorf("json %s missing %s", b, field)
		}
	}
	if strings.Contains(string(b), `"error"`) {
		t.Errorf("json %s has error field on success", b)
	}
}

func TestPublisher_Current(t *testing.T) {
	st := store.New()
	p := NewPublisher(st)
	p.now = func() time.Time { return fixedNow }

	if resp := p.Current(); resp.Success {
		t.Fatalf("Current() on empty store Success = true")
	}

	r := types.Reading{SensorID: "A", Port: "COM3", Speed: 1, Timestamp: fixedNow}
	st.Upsert(r.Key(), r)
	resp := p.Current()
	if !resp.Success || len(resp.Data) != 1 {
		t.Errorf("Current() = %+v; want one entry", resp)
	}
}
