package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func triggerHandler(rl *TriggerRateLimiter) http.Handler {
	return rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
}

func post(handler http.Handler, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/run-task/ogre", nil)
	req.RemoteAddr = remoteAddr
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestTriggerRateLimiterAllowsBurst(t *testing.T) {
	handler := triggerHandler(NewTriggerRateLimiter(time.Minute, 3))

	for i := 0; i < 3; i++ {
		if w := post(handler, "203.0.113.1:1234"); w.Code != http.StatusAccepted {
			t.Fatalf("request %d: status = %d", i+1, w.Code)
		}
	}
}

func TestTriggerRateLimiterBlocksAfterBurst(t *testing.T) {
	handler := triggerHandler(NewTriggerRateLimiter(time.Minute, 3))

	for i := 0; i < 3; i++ {
		post(handler, "203.0.113.2:1234")
	}
	if w := post(handler, "203.0.113.2:1234"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
}

func TestTriggerRateLimiterPerIP(t *testing.T) {
	handler := triggerHandler(NewTriggerRateLimiter(time.Minute, 1))

	post(handler, "203.0.113.3:1234")
	if w := post(handler, "203.0.113.3:5678"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("same IP different port should share the limit, got %d", w.Code)
	}
	if w := post(handler, "203.0.113.4:1234"); w.Code != http.StatusAccepted {
		t.Fatalf("different IP should have its own limit, got %d", w.Code)
	}
}

func TestClientIPForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")

	if ip := clientIP(req); ip != "198.51.100.7" {
		t.Errorf("clientIP = %q", ip)
	}
}
