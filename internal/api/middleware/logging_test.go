package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func logRequest(t *testing.T, status int) string {
	t.Helper()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	handler := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))

	req := httptest.NewRequest("POST", "/rtc", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	return buf.String()
}

func TestLoggerRecordsStatus(t *testing.T) {
	line := logRequest(t, http.StatusOK)
	if !strings.Contains(line, `"status":200`) {
		t.Fatalf("expected status 200 in log line, got %s", line)
	}
	if !strings.Contains(line, `"path":"/rtc"`) {
		t.Fatalf("expected path in log line, got %s", line)
	}
}

// A lost transition race comes back as 409; that is routine polling traffic
// and must not log as an error.
func TestLoggerConflictStaysInfo(t *testing.T) {
	line := logRequest(t, http.StatusConflict)
	if !strings.Contains(line, `"level":"info"`) {
		t.Fatalf("expected info level for 409, got %s", line)
	}
}

func TestLoggerServerFaultIsError(t *testing.T) {
	line := logRequest(t, http.StatusInternalServerError)
	if !strings.Contains(line, `"level":"error"`) {
		t.Fatalf("expected error level for 500, got %s", line)
	}
}
