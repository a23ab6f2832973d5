package ui

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/comfortablynumb/pmp-graphql-gateway/internal/tracker"
)

func TestServer_Operations(t *testing.T) {
	tr := tracker.NewTracker(10)
	tr.Log(tracker.OperationLog{Method: "POST", OperationType: "mutation", StatusCode: 200})
	tr.Log(tracker.OperationLog{Method: "GET", OperationType: "query", StatusCode: 200})

	srv := httptest.NewServer(NewServer(0, tr).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/operations?type=query")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var logs []tracker.OperationLog
	if err := json.NewDecoder(resp.Body).Decode(&logs); err != nil {
		t.Fatalf("Failed to decode operations: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("Expected 1 query, got %d", len(logs))
	}
	if logs[0].Method != "GET" {
		t.Errorf("Expected GET, got %s", logs[0].Method)
	}
}

func TestServer_Clear(t *testing.T) {
	tr := tracker.NewTracker(10)
	tr.Log(tracker.OperationLog{Method: "GET"})
	handler := NewServer(0, tr).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/clear", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET clear, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/clear", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if tr.Count() != 0 {
		t.Errorf("Expected tracker to be cleared, got %d entries", tr.Count())
	}
}

func TestServer_Dashboard(t *testing.T) {
	handler := NewServer(0, tracker.NewTracker(1)).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if !strings.Contains(rec.Body.String(), "Operations Dashboard") {
		t.Error("Expected dashboard page")
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
