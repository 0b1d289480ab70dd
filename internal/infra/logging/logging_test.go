package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := Component(NewWithWriter(Config{Level: "debug"}, &buf), "reconcile")

	log.Debug().Str("external_transaction_id", "ext-123").Msg("credited")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v (%q)", err, buf.String())
	}
	for key, want := range map[string]string{
		"level":                   "debug",
		"service":                 "creditd",
		"component":               "reconcile",
		"external_transaction_id": "ext-123",
		"message":                 "credited",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
}

func TestNewWithWriter_Level(t *testing.T) {
	tests := []struct {
		level     string
		debugSeen bool
	}{
		{"", false},
		{"info", false},
		{"debug", true},
		{"nonsense", false},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			log := NewWithWriter(Config{Level: tt.level}, &buf)
			log.Debug().Msg("hidden?")
			log.Warn().Msg("shown")

			if got := strings.Contains(buf.String(), "hidden?"); got != tt.debugSeen {
				t.Errorf("debug visible = %v, want %v", got, tt.debugSeen)
			}
			if !strings.Contains(buf.String(), "shown") {
				t.Error("warn line missing")
			}
		})
	}
}

func TestNewWithWriter_Pretty(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(Config{Pretty: true}, &buf)
	log.Info().Msg("hello")
	if json.Valid(bytes.TrimSpace(buf.Bytes())) {
		t.Errorf("pretty output should not be JSON: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "hello") {
		t.Errorf("output = %q, want message", buf.String())
	}
}
