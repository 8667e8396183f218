package overlay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSubmit(t *testing.T) {
	bundle := []byte{0x01, 0x01, 0x01, 0x01, 0xbe, 0xef}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/submit" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var topics []string
		if err := json.Unmarshal([]byte(r.Header.Get("X-Topics")), &topics); err != nil {
			t.Errorf("X-Topics is not a JSON array: %v", err)
		}
		if len(topics) != 1 || topics[0] != "tm_agents" {
			t.Errorf("topics mismatch: %v", topics)
		}
		body, _ := io.ReadAll(r.Body)
		if !bytes.Equal(body, bundle) {
			t.Error("body should be the raw bundle")
		}
		w.Write([]byte(`{"status":"success"}`))
	}))
	defer srv.Close()

	client := New(&Config{BaseURL: srv.URL}, nil)
	resp, err := client.Submit(context.Background(), bundle, []string{"tm_agents"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !bytes.Contains(resp, []byte("success")) {
		t.Errorf("unexpected response %s", resp)
	}
}

func TestLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/lookup" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req struct {
			Service string          `json:"service"`
			Query   json.RawMessage `json:"query"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode lookup body: %v", err)
		}
		if req.Service != "ls_agents" {
			t.Errorf("service mismatch: %s", req.Service)
		}
		w.Write([]byte(`{"outputs":[]}`))
	}))
	defer srv.Close()

	client := New(&Config{BaseURL: srv.URL}, nil)
	resp, err := client.Lookup(context.Background(), "ls_agents", json.RawMessage(`{"identity":"abc"}`))
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if !bytes.Contains(resp, []byte("outputs")) {
		t.Errorf("unexpected response %s", resp)
	}
}

func TestSubmitSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rejected", http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(&Config{BaseURL: srv.URL}, nil)
	if _, err := client.Submit(context.Background(), []byte{0x00}, nil); err == nil {
		t.Error("non-200 should surface as an error")
	}
}
