package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetupWriter_JSON(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	if err := SetupWriter(&buf, "warn", "json"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	log.Info().Msg("[test] hidden")
	log.Warn().Str("room", "7").Msg("[test] shown")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry["message"] != "[test] shown" || entry["room"] != "7" {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestSetupWriter_Console(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	if err := SetupWriter(&buf, "DEBUG", "console"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	log.Debug().Msg("[test] console")
	if !strings.Contains(buf.String(), "[test] console") {
		t.Errorf("expected console output, got %q", buf.String())
	}
}

func TestSetupWriter_Rejects(t *testing.T) {
	var buf bytes.Buffer
	if err := SetupWriter(&buf, "loud", "json"); err == nil {
		t.Error("expected error for unknown level")
	}
	if err := SetupWriter(&buf, "info", "xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}
