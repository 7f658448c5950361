package controller

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"windmon/internal/mqtt"
	"windmon/internal/utils"
	"windmon/internal/wind/tail"
	"windmon/internal/wind/types"
	"windmon/internal/wind/views"
)

func (c *windControllerImpl) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	var activeFile string
	if c.ingest != nil {
		activeFile = filepath.Base(c.ingest.Cursor().Path)
		if activeFile == "." {
			activeFile = ""
		}
	}
	data := views.NewDashboardData(c.publisher.Current(), activeFile)

	var buf bytes.Buffer
	if err := views.RenderDashboard(&buf, data); err != nil {
		slog.Error("dashboard template render failed", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(buf.Bytes()); err != nil {
		slog.Error("dashboard: write response failed", "error", err)
	}
}

// handleWindData always answers 200; an empty store is a valid state that
// the body reports with success=false.
func (c *windControllerImpl) handleWindData(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, c.publisher.Current())
}

type ingestStatsResponse struct {
	Cursor tail.CursorState   `json:"cursor"`
	Engine tail.Stats         `json:"engine"`
	Files  []types.IngestFile `json:"files,omitempty"`
	MQTT   *mqtt.Stats        `json:"mqtt,omitempty"`
}

func (c *windControllerImpl) handleIngestStats(w http.ResponseWriter, r *http.Request) {
	limit, err := parseFilesLimit(r)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp ingestStatsResponse
	if c.ingest != nil {
		resp.Cursor = c.ingest.Cursor()
		resp.Engine = c.ingest.Stats()
	}
	if c.ledger != nil {
		files, err := c.ledger.ListFiles(r.Context(), limit)
		if err != nil {
			slog.Error("ingest stats: list files failed", "error", err)
			utils.WriteError(w, http.StatusInternalServerError, "failed to load ingest ledger")
			return
		}
		resp.Files = files
	}
	if c.fanout != nil {
		s := c.fanout.Stats()
		resp.MQTT = &s
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (c *windControllerImpl) handleRawLog(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("filename")
	if err := validateLogFilename(name); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	fsys := os.DirFS(c.rawLogDir)
	info, err := fs.Stat(fsys, name)
	switch {
	case errors.Is(err, fs.ErrNotExist) || (err == nil && !info.Mode().IsRegular()):
		utils.WriteError(w, http.StatusNotFound, "log file not found")
		return
	case err != nil:
		slog.Error("raw log: stat failed", "file", name, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to open log file")
		return
	}
	http.ServeFileFS(w, r, fsys, name)
}
