package locator

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name string, mod time.Time) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("x\n"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := os.Chtimes(path, mod, mod); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestLatest_picksNewestMatch(t *testing.T) {
	dir := t.TempDir()
	base := time.Now().Add(-time.Hour)
	writeFile(t, dir, "serial_20240101_combined.log", base)
	newest := writeFile(t, dir, "serial_20240102_combined.log", base.Add(10*time.Minute))
	writeFile(t, dir, "serial_20240103_other.log", base.Add(20*time.Minute))
	writeFile(t, dir, "notes.txt", base.Add(30*time.Minute))

	got, ok := Latest(dir, DefaultPattern)
	if !ok {
		t.Fatal("Latest() ok = false; want true")
	}
	if got != newest {
		t.Errorf("Latest() = %q; want %q", got, newest)
	}
}

func TestLatest_tieBreaksOnName(t *testing.T) {
	dir := t.TempDir()
	mod := time.Now().Add(-time.Minute).Truncate(time.Second)
	writeFile(t, dir, "serial_a_combined.log", mod)
	b := writeFile(t, dir, "serial_b_combined.log", mod)

	got, ok := Latest(dir, DefaultPattern)
	if !ok || got != b {
		t.Errorf("Latest() = %q, %v; want %q, true", got, ok, b)
	}
}

func TestLatest_none(t *testing.T) {
	t.Run("empty directory", func(t *testing.T) {
		if got, ok := Latest(t.TempDir(), DefaultPattern); ok {
			t.Errorf("Latest() = %q; want none", got)
		}
	})

	t.Run("missing directory", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "does-not-exist")
		if got, ok := Latest(missing, DefaultPattern); ok {
			t.Errorf("Latest() = %q; want none", got)
		}
	})

	t.Run("directories are ignored", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.Mkdir(filepath.Join(dir, "serial_x_combined.log"), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if got, ok := Latest(dir, DefaultPattern); ok {
			t.Errorf("Latest() = %q; want none", got)
		}
	})
}

func TestValidatePattern(t *testing.T) {
	tests := []struct {
		pattern string
		wantErr bool
	}{
		{pattern: DefaultPattern, wantErr: false},
		{pattern: "com_*.log", wantErr: false},
		{pattern: "", wantErr: true},
		{pattern: "serial_combined.log", wantErr: true},
		{pattern: "serial_*_*.log", wantErr: true},
		{pattern: "logs/serial_*.log", wantErr: true},
		{pattern: "serial_[*.log", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			err := ValidatePattern(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePattern(%q) error = %v; wantErr %v", tt.pattern, err, tt.wantErr)
			}
		})
	}
}
