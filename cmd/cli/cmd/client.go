package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"flowplane/pkg/api"

	"github.com/cockroachdb/errors"
)

var errMissingToken = errors.New("token not found; set it with --token or FLOWPLANE_TOKEN")

// Client calls the internal endpoints of a flowplane controller.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a new client with the given base URL and token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// GetJob sends GET /internal/jobs/{id}.
func (c *Client) GetJob(id string) (*api.JobResponse, error) {
	var out api.JobResponse
	if err := c.do(http.MethodGet, "/internal/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FailJob sends POST /internal/jobs/{id}/fail.
func (c *Client) FailJob(id, reason string) (*api.FailJobResponse, error) {
	var out api.FailJobResponse
	err := c.do(http.MethodPost, "/internal/jobs/"+url.PathEscape(id)+"/fail", api.FailJobRequest{Reason: reason}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// EnableSchedule sends POST /internal/schedules/{workspace}/enable?path=.
func (c *Client) EnableSchedule(workspace, path string) (*api.EnableScheduleResponse, error) {
	endpoint := "/internal/schedules/" + url.PathEscape(workspace) + "/enable?path=" + url.QueryEscape(path)
	var out api.EnableScheduleResponse
	if err := c.do(http.MethodPost, endpoint, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		msg := string(bytes.TrimSpace(respBody))
		var apiErr api.ErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return errors.Wrap(err, "failed to parse response")
	}
	return nil
}
