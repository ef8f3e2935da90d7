package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		envLevel string
		want     zerolog.Level
	}{
		{"Trace level", "TRACE", zerolog.TraceLevel},
		{"Debug level", "DEBUG", zerolog.DebugLevel},
		{"Info level", "INFO", zerolog.InfoLevel},
		{"Warn level", "WARN", zerolog.WarnLevel},
		{"Error level", "ERROR", zerolog.ErrorLevel},
		{"Empty defaults to Info", "", zerolog.InfoLevel},
		{"Invalid defaults to Info", "INVALID", zerolog.InfoLevel},
		{"Case insensitive", "debug", zerolog.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseLevel(tt.envLevel); got != tt.want {
				t.Errorf("ParseLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitWithWriter(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	t.Run("json output carries service field", func(t *testing.T) {
		var buf bytes.Buffer
		InitWithWriter(&buf, "INFO", "json")

		log.Info().Str("kind", "guest").Msg("renewed")

		var entry map[string]interface{}
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("Failed to decode log line %q: %v", buf.String(), err)
		}
		if entry["service"] != "rewards-gateway" || entry["kind"] != "guest" || entry["message"] != "renewed" {
			t.Errorf("unexpected log entry: %v", entry)
		}
	})

	t.Run("debug suppressed at error level", func(t *testing.T) {
		var buf bytes.Buffer
		InitWithWriter(&buf, "ERROR", "json")

		log.Debug().Msg("debug message")
		if strings.TrimSpace(buf.String()) != "" {
			t.Errorf("Expected no output, got %q", buf.String())
		}

		log.Error().Msg("error message")
		if !strings.Contains(buf.String(), "error message") {
			t.Errorf("Expected error output, got %q", buf.String())
		}
	})
}
