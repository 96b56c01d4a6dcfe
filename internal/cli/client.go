package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/zkforge/zkforge/internal/service"
)

// Client is the thin HTTP client behind the register, estimate, prove,
// and status commands.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the server at base (scheme included).
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) post(path string, req, resp any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	r, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer r.Body.Close()

	if r.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: server returned %s", path, r.Status)
	}
	if err := json.NewDecoder(r.Body).Decode(resp); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// RegisterApp registers a program and returns its content-derived ID.
func (c *Client) RegisterApp(req service.RegisterAppRequest) (service.RegisterAppResponse, error) {
	var resp service.RegisterAppResponse
	err := c.post("/v1/register_app", req, &resp)
	return resp, err
}

// EstimateCost predicts the cycle and chunk cost of a submission.
func (c *Client) EstimateCost(req service.EstimateCostRequest) (service.EstimateCostResponse, error) {
	var resp service.EstimateCostResponse
	err := c.post("/v1/estimate_cost", req, &resp)
	return resp, err
}

// ProveTask submits a proving task.
func (c *Client) ProveTask(req service.ProveTaskRequest) (service.ProveTaskResponse, error) {
	var resp service.ProveTaskResponse
	err := c.post("/v1/prove_task", req, &resp)
	return resp, err
}

// ListApps fetches all registered apps.
func (c *Client) ListApps() (service.ListAppsResponse, error) {
	var resp service.ListAppsResponse
	err := c.post("/v1/list_apps", service.ListAppsRequest{}, &resp)
	return resp, err
}

// ProvingResult polls one task.
func (c *Client) ProvingResult(req service.ProvingResultRequest) (service.ProvingResultResponse, error) {
	var resp service.ProvingResultResponse
	err := c.post("/v1/proving_result", req, &resp)
	return resp, err
}
