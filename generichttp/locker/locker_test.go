package locker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func TestCheckBlocksWhenLocked(t *testing.T) {
	l := New()
	h := l.Check(http.HandlerFunc(okHandler))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stage-position", nil))
	if w.Code != http.StatusOK {
		t.Errorf("unlocked request refused, code %d", w.Code)
	}

	l.Lock()
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stage-position", nil))
	if w.Code != http.StatusLocked {
		t.Errorf("expected 423 while locked, got %d", w.Code)
	}
}

func TestCheckExemptsUnprotectedRoutes(t *testing.T) {
	l := New()
	l.Lock()
	h := l.Check(http.HandlerFunc(okHandler))
	for _, path := range []string{"/lock", "/status", "/abort"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("%s blocked while locked, code %d", path, w.Code)
		}
	}
}

func TestHTTPSetTogglesLock(t *testing.T) {
	l := New()
	w := httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool": true}`)))
	if w.Code != http.StatusOK {
		t.Fatalf("set returned %d", w.Code)
	}
	if !l.Locked() {
		t.Error("locker did not lock")
	}
	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader(`{"bool": false}`)))
	if l.Locked() {
		t.Error("locker did not unlock")
	}

	w = httptest.NewRecorder()
	l.HTTPSet(w, httptest.NewRequest(http.MethodPost, "/lock", strings.NewReader("not json")))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad body, got %d", w.Code)
	}
}

func TestHTTPGetReportsState(t *testing.T) {
	l := New()
	l.Lock()
	w := httptest.NewRecorder()
	l.HTTPGet(w, httptest.NewRequest(http.MethodGet, "/lock", nil))
	if !strings.Contains(w.Body.String(), "true") {
		t.Errorf("expected a true payload, got %s", w.Body.String())
	}
}
