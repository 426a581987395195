package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/miradorstack/mirador-ir/internal/utils"
)

// HTTPClient queries a remote agent directory over HTTP.
type HTTPClient struct {
	baseURL    string
	agentsPath string
	httpClient *http.Client
}

// NewHTTPClient constructs a client targeting the configured directory
// service.
func NewHTTPClient(baseURL, agentsPath string, timeout time.Duration) *HTTPClient {
	if agentsPath == "" {
		agentsPath = "/api/v1/agents"
	}
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		agentsPath: agentsPath,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListAgents fetches the registered agents and their health flags.
func (c *HTTPClient) ListAgents(ctx context.Context) ([]Agent, error) {
	if c == nil {
		return nil, fmt.Errorf("directory client not initialised")
	}
	if c.baseURL == "" {
		return nil, fmt.Errorf("directory base URL not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.agentsPath, nil)
	if err != nil {
		return nil, utils.NewAppError("directory.ListAgents", "build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, utils.NewAppError("directory.ListAgents", "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, utils.NewAppError("directory.ListAgents",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	var response struct {
		Agents []Agent `json:"agents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, utils.NewAppError("directory.ListAgents", "decode response", err)
	}
	return response.Agents, nil
}
