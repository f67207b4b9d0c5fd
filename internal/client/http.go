package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/alfredjeanlab/sdata/internal/authz"
	"github.com/alfredjeanlab/sdata/internal/model"
)

// HTTPClient implements RecordsClient using the sdata HTTP/JSON API.
type HTTPClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPClient creates a new HTTP client targeting the given base URL
// (e.g. "http://localhost:8080"). When token is non-empty, an Authorization
// header is set on every request.
func NewHTTPClient(baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{},
	}
}

// Close is a no-op for the HTTP client.
func (c *HTTPClient) Close() error { return nil }

func recordPath(key model.Key) string {
	return fmt.Sprintf("/v1/records/%d/%s", key.TypeTag, key.ID)
}

// --- Signing bytes ---

func (c *HTTPClient) CreationBytes(ctx context.Context, identity model.Identity, policy model.Policy, genesis model.Version) ([]byte, error) {
	body := struct {
		Identity model.Identity `json:"identity"`
		Policy   model.Policy   `json:"policy"`
		Genesis  model.Version  `json:"genesis"`
	}{identity, policy, genesis}
	var resp SigningBytes
	if err := c.doJSON(ctx, http.MethodPost, "/v1/signing-bytes", body, &resp); err != nil {
		return nil, err
	}
	return resp.Message, nil
}

func (c *HTTPClient) CandidateBytes(ctx context.Context, key model.Key, cand model.Candidate) (*SigningBytes, error) {
	var resp SigningBytes
	if err := c.doJSON(ctx, http.MethodPost, recordPath(key)+"/signing-bytes", cand, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Records ---

func (c *HTTPClient) CreateRecord(ctx context.Context, req *CreateRecordRequest) (*model.Record, error) {
	var rec model.Record
	if err := c.doJSON(ctx, http.MethodPost, "/v1/records", req, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) GetRecord(ctx context.Context, key model.Key) (*model.Record, error) {
	var rec model.Record
	if err := c.doJSON(ctx, http.MethodGet, recordPath(key), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *HTTPClient) AppendVersion(ctx context.Context, key model.Key, v model.Version, evidence authz.Evidence) (*MutateResult, error) {
	body := struct {
		Version    model.Version  `json:"version"`
		Signatures authz.Evidence `json:"signatures"`
	}{v, evidence}
	var resp MutateResult
	if err := c.doJSON(ctx, http.MethodPost, recordPath(key)+"/versions", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) SetAttributes(ctx context.Context, key model.Key, p model.Policy, v *model.Version, evidence authz.Evidence) (*MutateResult, error) {
	body := struct {
		Policy     model.Policy   `json:"policy"`
		Version    *model.Version `json:"version,omitempty"`
		Signatures authz.Evidence `json:"signatures"`
	}{p, v, evidence}
	var resp MutateResult
	if err := c.doJSON(ctx, http.MethodPut, recordPath(key)+"/attributes", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// --- Operations ---

func (c *HTTPClient) Reap(ctx context.Context) (int, error) {
	var resp struct {
		Reaped int `json:"reaped"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/reap", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Reaped, nil
}

func (c *HTTPClient) Health(ctx context.Context) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// --- internal helpers ---

// APIError represents an error response from the server.
type APIError struct {
	StatusCode int
	Message    string
	// Kind is the server's error kind (e.g. "insufficient_weight"), if any.
	Kind string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// doJSON performs an HTTP request with optional JSON body and decodes the JSON response.
// If result is nil, the response body is discarded.
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body any, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("performing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Kind: errResp.Kind}
		}
		return &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
	}

	return nil
}
