package main

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDurationFromSecondsDefaultsWhenNonPositive(t *testing.T) {
	if got := durationFromSeconds(0); got != time.Second {
		t.Fatalf("expected 1s default, got %v", got)
	}
	if got := durationFromSeconds(-5); got != time.Second {
		t.Fatalf("expected 1s default for a negative value, got %v", got)
	}
}

func TestDurationFromSecondsConverts(t *testing.T) {
	if got := durationFromSeconds(2.5); got != 2500*time.Millisecond {
		t.Fatalf("expected 2.5s, got %v", got)
	}
}

func TestAppDataDirIncludesAppName(t *testing.T) {
	dir, err := appDataDir()
	if err != nil {
		t.Fatalf("appDataDir: %v", err)
	}
	if dir == "" {
		t.Fatal("expected a non-empty directory")
	}
	if filepath.Base(dir) != appName {
		t.Fatalf("expected the directory to end in %q, got %q", appName, dir)
	}
}
