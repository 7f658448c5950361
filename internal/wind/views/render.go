package views

import (
	"errors"
	"html/template"
	"io"
	"io/fs"
	"sort"

	"windmon/internal/wind/snapshot"
)

var dashboardTmpl *template.Template

// loadTemplatesFromFS parses the page and its partials from dir in fsys.
// Tests use it to simulate missing or broken templates.
func loadTemplatesFromFS(fsys fs.FS, dir string) error {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		return err
	}
	dashboardTmpl, err = template.ParseFS(sub, "*.html", "partials/*.html")
	return err
}

// LoadTemplates parses the embedded templates. Call it during startup; if it
// fails, do not start the server.
func LoadTemplates() error {
	return loadTemplatesFromFS(viewsFS, "templates")
}

// SensorRow is one table row on the dashboard.
type SensorRow struct {
	Key string
	snapshot.WindData
}

type DashboardData struct {
	Sensors          []SensorRow
	ConnectionActive bool
	ActiveFile       string
	GeneratedAt      string
}

// NewDashboardData orders the response's sensors by key for display.
func NewDashboardData(resp snapshot.Response, activeFile string) *DashboardData {
	rows := make([]SensorRow, 0, len(resp.Data))
	for k, d := range resp.Data {
		rows = append(rows, SensorRow{Key: k, WindData: d})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	return &DashboardData{
		Sensors:          rows,
		ConnectionActive: resp.ConnectionActive,
		ActiveFile:       activeFile,
		GeneratedAt:      resp.Timestamp,
	}
}

func RenderDashboard(w io.Writer, data *DashboardData) error {
	if dashboardTmpl == nil {
		return errors.New("dashboard template not loaded: call views.LoadTemplates during startup")
	}
	return dashboardTmpl.ExecuteTemplate(w, "dashboard.html", data)
}
