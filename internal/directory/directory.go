// Package directory exposes the agent directory collaborator: the external
// service that knows which workers are registered and whether they are
// healthy. The pipeline consults it to correlate affected agents and to
// verify fixes.
package directory

import (
	"context"
	"sync"
)

// Agent is one registered worker as reported by the directory.
type Agent struct {
	ID      string `json:"id"`
	Healthy bool   `json:"healthy"`
}

// AgentDirectory lists registered workers and their health.
type AgentDirectory interface {
	ListAgents(ctx context.Context) ([]Agent, error)
}

// Static is a fixed in-memory directory, used in tests and local development.
type Static struct {
	mu     sync.RWMutex
	agents []Agent
}

// NewStatic builds a Static directory with the given agents.
func NewStatic(agents ...Agent) *Static {
	return &Static{agents: append([]Agent(nil), agents...)}
}

// ListAgents returns the configured agent set.
func (s *Static) ListAgents(_ context.Context) ([]Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Agent(nil), s.agents...), nil
}

// SetHealth flips one agent's health flag, adding the agent if unknown.
func (s *Static) SetHealth(id string, healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.agents {
		if s.agents[i].ID == id {
			s.agents[i].Healthy = healthy
			return
		}
	}
	s.agents = append(s.agents, Agent{ID: id, Healthy: healthy})
}
