package http

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggingRecordsStatus(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name:    "implicit ok",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) },
			want:    "status=200",
		},
		{
			name:    "explicit status",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) },
			want:    "status=418",
		},
		{
			name:    "server error",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:    "level=ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewTextHandler(&buf, nil))

			rec := httptest.NewRecorder()
			Logging(logger)(tt.handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/payments/x", nil))

			out := buf.String()
			if !strings.Contains(out, tt.want) {
				t.Errorf("log %q does not contain %q", out, tt.want)
			}
			if !strings.Contains(out, "path=/v1/payments/x") {
				t.Errorf("log %q has no path", out)
			}
		})
	}
}

func TestStatusRecorderKeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	s := &statusRecorder{w: rec}
	s.WriteHeader(http.StatusCreated)
	s.WriteHeader(http.StatusInternalServerError)
	if s.Status() != http.StatusCreated || rec.Code != http.StatusCreated {
		t.Errorf("status = %d/%d, want 201", s.Status(), rec.Code)
	}
	s.Flush()
	if !rec.Flushed {
		t.Error("Flush was not forwarded")
	}
}
