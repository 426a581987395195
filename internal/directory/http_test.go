package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClientListAgents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"agents":[{"id":"agent-a","healthy":true},{"id":"agent-b","healthy":false}]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", 2*time.Second)
	agents, err := client.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].ID != "agent-a" || !agents[0].Healthy {
		t.Fatalf("unexpected first agent %+v", agents[0])
	}
	if agents[1].Healthy {
		t.Fatalf("expected agent-b unhealthy")
	}
}

func TestHTTPClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "", time.Second)
	if _, err := client.ListAgents(context.Background()); err == nil {
		t.Fatalf("expected error on non-200 response")
	}
}

func TestHTTPClientUnconfigured(t *testing.T) {
	client := NewHTTPClient("", "", time.Second)
	if _, err := client.ListAgents(context.Background()); err == nil {
		t.Fatalf("expected error for missing base URL")
	}
}

func TestStaticDirectory(t *testing.T) {
	static := NewStatic(Agent{ID: "agent-a", Healthy: true})
	static.SetHealth("agent-a", false)
	static.SetHealth("agent-c", true)

	agents, err := static.ListAgents(context.Background())
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].Healthy {
		t.Fatalf("expected agent-a flipped unhealthy")
	}
}
