package logger

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew(t *testing.T) {
	log, err := New("debug", "console", true)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !log.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected debug to be enabled")
	}

	log, err = New("warn", "json", false)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if log.Core().Enabled(zap.InfoLevel) {
		t.Fatal("expected info to be disabled at warn")
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("loud", "json", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
