package skyagents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "SkyAgents-Hub/internal/errors"
)

func TestExecuteSendsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/executions" || r.Method != http.MethodPost {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if req.AgentName != "TL;DR" || req.Prompt != "summarize" || req.AssetID != "4" {
			t.Fatalf("unexpected payload: %+v", req)
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]any{"attempt_id": "a-1", "agent": map[string]string{"name": "TL;DR", "id": "a1"}})
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	sub, err := client.Execute(context.Background(), ExecuteRequest{AgentName: "TL;DR", Prompt: "summarize", AssetID: "4"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if sub.AttemptID != "a-1" || sub.Agent.Identifier != "a1" {
		t.Fatalf("unexpected submission: %+v", sub)
	}
}

func TestAPIErrorCarriesCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"ATTEMPT_IN_PROGRESS","message":"an execution is already in progress for this agent"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, nil)
	_, err := client.Execute(context.Background(), ExecuteRequest{AgentName: "x", Prompt: "y"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusConflict {
		t.Fatalf("unexpected status: %d", apiErr.StatusCode)
	}
	if !xerrors.HasCode(err, xerrors.CodeAttemptInProgress) {
		t.Fatalf("expected ATTEMPT_IN_PROGRESS, got %v", err)
	}
}

func TestPlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, nil)
	_, err := client.Executions(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "bad gateway" {
		t.Fatalf("unexpected error: %v", err)
	}
	if apiErr.Unwrap() != nil {
		t.Fatalf("plain bodies carry no code")
	}
}

func TestHistoryQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("agent") != "Writer" || q.Get("limit") != "7" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"records":[{"attempt_id":"a-1","agent":"Writer","status":"completed"}]}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, nil)
	records, err := client.History(context.Background(), "Writer", 7)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 1 || records[0].AttemptID != "a-1" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestExecutionEscapesAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/executions/a/b" || r.URL.RawPath != "/api/v1/executions/a%2Fb" {
			t.Fatalf("unexpected path: %s (%s)", r.URL.Path, r.URL.RawPath)
		}
		_, _ = w.Write([]byte(`{"agent":"a/b","status":"running"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL, nil)
	entry, err := client.Execution(context.Background(), "a/b")
	if err != nil {
		t.Fatalf("execution: %v", err)
	}
	if entry.Agent != "a/b" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
}

func TestNewClientAddsScheme(t *testing.T) {
	client, err := NewClient("127.0.0.1:8088", nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.BaseURL() != "http://127.0.0.1:8088" {
		t.Fatalf("unexpected base url: %s", client.BaseURL())
	}
	if _, err := NewClient("http://", nil); err == nil {
		t.Fatalf("expected error for empty host")
	}
}
