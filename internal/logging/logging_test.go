package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestNewWritesToRotatingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")

	l := New(DefaultConfig(path))
	l.Info().Str("k", "v").Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !bytes.Contains(data, []byte(`"hello"`)) {
		t.Fatalf("expected log line to contain the message, got %q", data)
	}
}

func TestDefaultConfigAppliesSpecDefaults(t *testing.T) {
	cfg := DefaultConfig("/tmp/x.log")
	if cfg.MaxSizeMB != 10 || cfg.MaxBackups != 3 {
		t.Fatalf("expected 10MB/3 backups, got %+v", cfg)
	}
}

func TestComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	root := NewDiscard()
	root = root.Output(&buf)

	sub := Component(root, "sampler")
	sub.Info().Msg("tick")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if decoded["component"] != "sampler" {
		t.Fatalf("expected component field 'sampler', got %v", decoded["component"])
	}
}

func TestAdapterWarnAndErrorCarryAttrs(t *testing.T) {
	var buf bytes.Buffer
	root := NewDiscard().Output(&buf)
	a := Adapter{L: root}

	a.Warn("something happened", map[string]any{"attempt": 3})
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decoding log line: %v", err)
	}
	if decoded["attempt"] != float64(3) {
		t.Fatalf("expected attempt=3, got %v", decoded["attempt"])
	}
	if decoded["message"] != "something happened" {
		t.Fatalf("expected message field, got %v", decoded["message"])
	}
}
