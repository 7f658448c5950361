package controller

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"windmon/internal/wind/repository"
)

const (
	defaultFilesLimit = repository.DefaultListLimit
	maxFilesLimit     = 500
)

// validateLogFilename accepts a single, local path element.
func validateLogFilename(name string) error {
	if name == "" {
		return errors.New("missing filename")
	}
	if strings.ContainsAny(name, `/\`) || !filepath.IsLocal(name) || name == "." {
		return errors.New("invalid filename")
	}
	return nil
}

func parseFilesLimit(r *http.Request) (int, error) {
	s := r.URL.Query().Get("files")
	if s == "" {
		return defaultFilesLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("invalid 'files' (expected integer)")
	}
	if n <= 0 {
		return 0, errors.New("'files' must be > 0")
	}
	if n > maxFilesLimit {
		return 0, errors.New("'files' must be <= 500")
	}
	return n, nil
}
