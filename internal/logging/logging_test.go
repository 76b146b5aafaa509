package logging

import "testing"

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		debug bool
	}{
		{"", false},
		{"info", false},
		{"WARN", false},
		{"warning", false},
		{"error", false},
		{"debug", true},
	}
	for _, tt := range tests {
		logger, err := New(tt.level)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.level, err)
		}
		if got := logger.V(1).Enabled(); got != tt.debug {
			t.Errorf("New(%q): Expected V(1) enabled=%t, got %t", tt.level, tt.debug, got)
		}
	}
}

func TestNewUnknownLevel(t *testing.T) {
	if _, err := New("verbose"); err == nil {
		t.Fatalf("Expected an error for an unknown level")
	}
}
