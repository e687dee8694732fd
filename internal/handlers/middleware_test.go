package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestBasicAuth(t *testing.T) {
	// Create a simple handler that the middleware will wrap
	testHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	})

	tests := []struct {
		name           string
		username       string
		password       string
		providedUser   string
		providedPass   string
		setAuth        bool
		wantStatus     int
		wantBody       string
		wantAuthHeader bool
	}{
		{
			name:         "valid credentials",
			username:     "admin",
			password:     "secret",
			providedUser: "admin",
			providedPass: "secret",
			setAuth:      true,
			wantStatus:   http.StatusOK,
			wantBody:     "success",
		},
		{
			name:           "invalid username",
			username:       "admin",
			password:       "secret",
			providedUser:   "wrong",
			providedPass:   "secret",
			setAuth:        true,
			wantStatus:     http.StatusUnauthorized,
			wantBody:       "Unauthorized\n",
			wantAuthHeader: true,
		},
		{
			name:           "invalid password",
			username:       "admin",
			password:       "secret",
			providedUser:   "admin",
			providedPass:   "wrong",
			setAuth:        true,
			wantStatus:     http.StatusUnauthorized,
			wantBody:       "Unauthorized\n",
			wantAuthHeader: true,
		},
		{
			name:           "password prefix rejected",
			username:       "admin",
			password:       "secret",
			providedUser:   "admin",
			providedPass:   "sec",
			setAuth:        true,
			wantStatus:     http.StatusUnauthorized,
			wantBody:       "Unauthorized\n",
			wantAuthHeader: true,
		},
		{
			name:           "no credentials provided",
			username:       "admin",
			password:       "secret",
			setAuth:        false,
			wantStatus:     http.StatusUnauthorized,
			wantBody:       "Unauthorized\n",
			wantAuthHeader: true,
		},
		{
			name:         "empty username and password allowed if configured",
			username:     "",
			password:     "",
			providedUser: "",
			providedPass: "",
			setAuth:      true,
			wantStatus:   http.StatusOK,
			wantBody:     "success",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrappedHandler := BasicAuth(tt.username, tt.password)(testHandler)

			req := httptest.NewRequest("GET", "/metrics", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.providedUser, tt.providedPass)
			}

			w := httptest.NewRecorder()
			wrappedHandler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			if w.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", w.Body.String(), tt.wantBody)
			}

			// Check WWW-Authenticate header for 401 responses
			if tt.wantAuthHeader {
				expectedHeader := `Basic realm="metrics"`
				if authHeader := w.Header().Get("WWW-Authenticate"); authHeader != expectedHeader {
					t.Errorf("WWW-Authenticate = %q, want %q", authHeader, expectedHeader)
				}
			}
		})
	}
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	handler := RequestIDMiddleware(AccessLog(logger)(inner))

	req := httptest.NewRequest("POST", "/runs", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-123" {
		t.Errorf("request_id = %v, want req-123", fields["request_id"])
	}
	if fields["status"] != int64(http.StatusAccepted) {
		t.Errorf("status = %v, want %d", fields["status"], http.StatusAccepted)
	}
	if fields["path"] != "/runs" || fields["method"] != "POST" {
		t.Errorf("method/path = %v %v", fields["method"], fields["path"])
	}
}
