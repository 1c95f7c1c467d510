package wizard

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	w := New()
	if w == nil {
		t.Fatal("New() returned nil")
	}
	if w.existingCfg != nil {
		t.Error("New() should start with no existing config")
	}
}

func TestLoadExistingMissingFileIsNotError(t *testing.T) {
	w := New()
	if err := w.LoadExisting(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Errorf("LoadExisting() with missing file error = %v, want nil", err)
	}
	if w.existingCfg != nil {
		t.Error("existingCfg should remain nil after a missing file")
	}
}

func TestLoadExistingReadsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  server_name: loaded-name\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	w := New()
	if err := w.LoadExisting(path); err != nil {
		t.Fatalf("LoadExisting() error = %v", err)
	}
	if w.existingCfg == nil || w.existingCfg.Server.ServerName != "loaded-name" {
		t.Errorf("existingCfg = %+v, want server_name loaded-name", w.existingCfg)
	}
}

func TestValidatePort(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"6667", false},
		{"1", false},
		{"65535", false},
		{"0", true},
		{"65536", true},
		{"abc", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := validatePort(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("validatePort(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestResultWriteCreatesConfigAndDataDir(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")
	configPath := filepath.Join(dir, "config.yaml")

	w := New()
	r, err := resultForTest(w, dataDir)
	if err != nil {
		t.Fatalf("setup error = %v", err)
	}

	if err := r.Write(configPath); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if _, err := os.Stat(configPath); err != nil {
		t.Errorf("config file not written: %v", err)
	}
	if info, err := os.Stat(dataDir); err != nil || !info.IsDir() {
		t.Errorf("data dir not created: %v", err)
	}
	if r.ConfigPath != configPath {
		t.Errorf("ConfigPath = %q, want %q", r.ConfigPath, configPath)
	}
}
