package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPostJSONRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Node.ID != "node-1" {
			t.Fatalf("expected node-1, got %q", req.Node.ID)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	defer srv.Close()

	var out map[string]string
	err := PostJSON(context.Background(), srv.URL, RegisterRequest{Node: NodeInfo{ID: "node-1", Addr: srv.URL}}, &out)
	if err != nil {
		t.Fatalf("PostJSON: %v", err)
	}
	if out["status"] != "ok" {
		t.Fatalf("expected ok, got %v", out)
	}
}

func TestPostJSONErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), srv.URL, RegisterRequest{}, nil)
	if err == nil {
		t.Fatal("expected error on 503 response")
	}
}

func TestGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]NodeInfo{{ID: "a", Addr: "x"}})
	}))
	defer srv.Close()

	var nodes []NodeInfo
	if err := GetJSON(context.Background(), srv.URL, &nodes); err != nil {
		t.Fatalf("GetJSON: %v", err)
	}
	if len(nodes) != 1 || nodes[0].ID != "a" {
		t.Fatalf("unexpected nodes: %v", nodes)
	}
}
