package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"recruitportal.org/internal/obs"
)

func TestRateLimitRejectsLoginBurstWithJSONError(t *testing.T) {
	login := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": "t"})
	})
	handler := RequestID(RateLimit(login, 1, 1))

	send := func(remote, rid string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{}`))
		req.RemoteAddr = remote
		req.Header.Set("X-Request-ID", rid)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("10.0.0.1:1234", "login-1"); rr.Code != http.StatusOK {
		t.Fatalf("expected first login 200, got %d", rr.Code)
	}

	rr := send("10.0.0.1:4321", "login-2")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "1" {
		t.Fatalf("Retry-After = %q", got)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("expected JSON error, got content type %q", ct)
	}
	var body struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode 429 body: %v", err)
	}
	if body.Error != "rate limit exceeded" {
		t.Fatalf("unexpected error: %q", body.Error)
	}
	if body.RequestID != "login-2" || rr.Header().Get("X-Request-ID") != "login-2" {
		t.Fatalf("request id not carried into 429: body=%q header=%q", body.RequestID, rr.Header().Get("X-Request-ID"))
	}

	if rr := send("10.0.0.2:1234", "login-3"); rr.Code != http.StatusOK {
		t.Fatalf("other client should keep its own bucket, got %d", rr.Code)
	}
}

func TestLoggingJSONRecordsCanonicalAuthPaths(t *testing.T) {
	logger := obs.Logger()
	origWriter := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login/" {
			writeError(w, r, http.StatusUnauthorized, "invalid email or password")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal error")
	})))

	cases := []struct {
		method string
		target string
		path   string
		status int
		level  string
	}{
		{http.MethodPost, "/api/auth/login/?next=%2Fme", "/api/auth/login", http.StatusUnauthorized, "info"},
		{http.MethodGet, "/api/users/01ARZ3NDEKTSV4RRFFQ69G5FAV/roles", "/api/users/:id/roles", http.StatusInternalServerError, "error"},
	}
	for _, tc := range cases {
		buf.Reset()
		req := httptest.NewRequest(tc.method, tc.target, nil)
		req.Header.Set("X-Request-ID", "log-"+tc.method)
		req.Header.Set("User-Agent", "recruit-portal-web")
		handler.ServeHTTP(httptest.NewRecorder(), req)

		var entry map[string]any
		if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
			t.Fatalf("%s: log is not valid JSON: %v (%q)", tc.target, err, buf.String())
		}
		if entry["msg"] != "request_complete" || entry["path"] != tc.path {
			t.Fatalf("%s: unexpected entry %v", tc.target, entry)
		}
		if entry["status"] != float64(tc.status) || entry["level"] != tc.level {
			t.Fatalf("%s: status/level = %v/%v", tc.target, entry["status"], entry["level"])
		}
		if entry["request_id"] != "log-"+tc.method || entry["method"] != tc.method {
			t.Fatalf("%s: request fields = %v", tc.target, entry)
		}
		if entry["user_agent"] != "recruit-portal-web" {
			t.Fatalf("%s: user_agent = %v", tc.target, entry["user_agent"])
		}
		if _, ok := entry["duration_ms"]; !ok {
			t.Fatalf("%s: missing duration_ms", tc.target)
		}
	}
}

func TestRequestIDEchoesInboundHeader(t *testing.T) {
	var seen string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if seen != "req-42" || rr.Header().Get("X-Request-ID") != "req-42" {
		t.Fatalf("request id not propagated: ctx=%q header=%q", seen, rr.Header().Get("X-Request-ID"))
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected generated request id")
	}
}

func TestCORSAllowsConfiguredOriginOnly(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), "https://apply.example.org")

	req := httptest.NewRequest(http.MethodOptions, "/login", nil)
	req.Header.Set("Origin", "https://apply.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://apply.example.org" {
		t.Fatalf("origin not allowed: %v", rr.Header())
	}
	if rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Fatal("expected credentials allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("foreign origin must not be allowed")
	}
}

func TestClientIPHonoursProxyHeadersOnlyWhenTrusted(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	if got := clientIP(req, false); got != "10.0.0.9" {
		t.Fatalf("untrusted clientIP = %q", got)
	}
	if got := clientIP(req, true); got != "203.0.113.7" {
		t.Fatalf("trusted clientIP = %q", got)
	}
}
