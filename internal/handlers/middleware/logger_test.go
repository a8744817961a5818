package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type logEntry struct {
	level string
	msg   string
	args  []any
}

// Keeps every logged entry
type recordLogger struct {
	entries []logEntry
}

func (l *recordLogger) add(level, msg string, args []any) {
	l.entries = append(l.entries, logEntry{level: level, msg: msg, args: args})
}

func (l *recordLogger) Info(msg string, args ...any)  { l.add("info", msg, args) }
func (l *recordLogger) Warn(msg string, args ...any)  { l.add("warn", msg, args) }
func (l *recordLogger) Error(msg string, args ...any) { l.add("error", msg, args) }

func TestLoggerMiddleware(t *testing.T) {
	serve := func(t *testing.T, h http.HandlerFunc, req *http.Request) (*httptest.ResponseRecorder, logEntry) {
		t.Helper()

		l := &recordLogger{}
		w := httptest.NewRecorder()
		LoggerMiddleware(l)(h).ServeHTTP(w, req)

		require.Len(t, l.entries, 1, "logger should be called once")
		return w, l.entries[0]
	}

	t.Run("log request", func(t *testing.T) {
		h := func(w http.ResponseWriter, r *http.Request) {
			_, err := w.Write([]byte("hi"))
			require.NoError(t, err, "should write response")
		}

		w, entry := serve(t, h, httptest.NewRequest(http.MethodGet, "/me?refresh_token=secret", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "info", entry.level)
		require.Equal(t, "got HTTP request", entry.msg)

		args := entry.args
		require.Len(t, args, 12, "logger should log 12 fields")
		require.Equal(t, "request_id", args[0])
		require.NoError(t, uuid.Validate(args[1].(string)), "request id should be generated")
		require.Equal(t, w.Header().Get("X-Request-Id"), args[1], "request id should be returned to client")
		require.Equal(t, []any{"method", "GET", "path", "/me"}, args[2:6], "query string must not be logged")
		require.Equal(t, "duration", args[6])
		require.NotEmpty(t, args[7], "duration should not be empty")
		require.Equal(t, []any{"status", http.StatusOK, "size", 2}, args[8:12])
	})

	t.Run("level by status", func(t *testing.T) {
		tests := []struct {
			status int
			level  string
		}{
			{http.StatusNoContent, "info"},
			{http.StatusUnauthorized, "warn"},
			{http.StatusConflict, "warn"},
			{http.StatusInternalServerError, "error"},
		}

		for _, tt := range tests {
			t.Run(http.StatusText(tt.status), func(t *testing.T) {
				h := func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(tt.status)
				}

				w, entry := serve(t, h, httptest.NewRequest(http.MethodPost, "/login", nil))

				require.Equal(t, tt.status, w.Code)
				require.Equal(t, tt.level, entry.level)
				require.Equal(t, tt.status, entry.args[9])
			})
		}
	})

	t.Run("keep client request id", func(t *testing.T) {
		h := func(w http.ResponseWriter, r *http.Request) {}
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set("X-Request-Id", "client-id")

		w, entry := serve(t, h, req)

		require.Equal(t, "client-id", w.Header().Get("X-Request-Id"))
		require.Equal(t, "client-id", entry.args[1])
		require.Equal(t, http.StatusOK, entry.args[9], "status defaults to 200 if handler writes nothing")
	})

	t.Run("real server", func(t *testing.T) {
		l := &recordLogger{}
		srv := httptest.NewServer(LoggerMiddleware(l)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTeapot)
		})))
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/test")
		require.NoError(t, err)
		_, err = io.Copy(io.Discard, resp.Body)
		require.NoError(t, err)
		defer resp.Body.Close() // nolint:errcheck

		require.Equal(t, http.StatusTeapot, resp.StatusCode)
		require.Len(t, l.entries, 1)
		require.Equal(t, "warn", l.entries[0].level)
	})
}
