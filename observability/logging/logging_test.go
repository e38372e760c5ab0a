package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLoggerFieldMapping(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "rickd", "production")
	logger.Info("auction settled", "window", 3)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["severity"] != "INFO" {
		t.Fatalf("severity = %v, want INFO", line["severity"])
	}
	if line["message"] != "auction settled" {
		t.Fatalf("message = %v", line["message"])
	}
	if line["service"] != "rickd" || line["env"] != "production" {
		t.Fatalf("missing service attributes: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("missing timestamp: %v", line)
	}
}

func TestDebugGatedByEnvironment(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "rickd", "production").Debug("noise")
	if buf.Len() != 0 {
		t.Fatalf("production logger emitted debug output: %s", buf.String())
	}

	newLogger(&buf, "rickd", "dev").Debug("detail")
	if buf.Len() == 0 {
		t.Fatalf("dev logger dropped debug output")
	}
}
