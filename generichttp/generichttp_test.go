package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
)

func TestRouteTableEndpointsSorted(t *testing.T) {
	rt := RouteTable{
		{Method: http.MethodPost, Path: "/run"}:   nil,
		{Method: http.MethodGet, Path: "/status"}: nil,
		{Method: http.MethodGet, Path: "/plan"}:   nil,
	}
	got := rt.Endpoints()
	want := []string{"GET /plan", "GET /status", "POST /run"}
	if len(got) != len(want) {
		t.Fatalf("expected %d endpoints, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("endpoint %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestRouteTableBind(t *testing.T) {
	called := false
	rt := RouteTable{
		{Method: http.MethodGet, Path: "/ping"}: func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusOK)
		},
	}
	r := chi.NewRouter()
	rt.Bind(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if !called || w.Code != http.StatusOK {
		t.Errorf("bound route not served, code %d", w.Code)
	}
}

func TestSubMuxSanitize(t *testing.T) {
	cases := []struct{ in, want string }{
		{"montage", "/montage"},
		{"/montage", "/montage"},
		{"/montage/", "/montage"},
		{"/montage/*", "/montage"},
	}
	for _, tc := range cases {
		if got := SubMuxSanitize(tc.in); got != tc.want {
			t.Errorf("SubMuxSanitize(%q): expected %q, got %q", tc.in, got, tc.want)
		}
	}
}

func TestHumanPayloadEncode(t *testing.T) {
	w := httptest.NewRecorder()
	hp := HumanPayload{T: types.Float64, Float: 1.5}
	hp.EncodeAndRespond(w, httptest.NewRequest(http.MethodGet, "/", nil))
	var f FloatT
	if err := json.NewDecoder(w.Body).Decode(&f); err != nil {
		t.Fatalf("could not decode response: %v", err)
	}
	if f.F64 != 1.5 {
		t.Errorf("expected 1.5, got %f", f.F64)
	}
}
