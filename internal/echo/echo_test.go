package echo

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandler_Echo(t *testing.T) {
	h := Handler("booking")
	req := httptest.NewRequest(http.MethodPost, "http://booking.local/123?x=1", strings.NewReader(`{"n":1}`))
	req.Header.Set("Authorization", "Bearer t")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	if rr.Header().Get("X-Echo-Service") != "booking" {
		t.Fatalf("service header missing")
	}
	var reply Reply
	if err := json.Unmarshal(rr.Body.Bytes(), &reply); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if reply.Service != "booking" || reply.Method != "POST" || reply.Path != "/123" || reply.Query != "x=1" {
		t.Fatalf("reply unexpected: %+v", reply)
	}
	if reply.Body != `{"n":1}` || reply.Headers["Authorization"] != "Bearer t" {
		t.Fatalf("reply body/headers unexpected: %+v", reply)
	}
}

func TestHandler_Status(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler("review").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status/503", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", rr.Code)
	}

	rr = httptest.NewRecorder()
	Handler("review").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status/abc", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad code: got %d, want 400", rr.Code)
	}
}

func TestHandler_Sleep(t *testing.T) {
	rr := httptest.NewRecorder()
	Handler("search").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sleep/1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	Handler("search").ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sleep/-1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("negative sleep: got %d, want 400", rr.Code)
	}
}
