// Package client is a typed HTTP client for the bulk scan processor API.
//
// Downstream case management services embed it to poll for processed
// envelopes and to check what happened to a scanned zip file, instead of
// hand-rolling requests against the REST surface:
//
//	c := client.New(client.Config{
//	    BaseURL:  "https://bulk-scan-processor.internal",
//	    S2SToken: os.Getenv("S2S_TOKEN"),
//	})
//	envs, err := c.Envelopes(ctx, "PROCESSED")
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the processor API endpoint (required).
	// Examples: "https://bulk-scan-processor.internal", "http://localhost:8581"
	BaseURL string

	// S2SToken is the service-to-service bearer token sent on envelope
	// routes. Zip file lookups and reports do not need it.
	S2SToken string

	// Timeout bounds each request (default 30s).
	Timeout time.Duration
}

// Client calls the processor's REST API.
type Client struct {
	config     Config
	httpClient *http.Client
}

// New creates a client for the given processor endpoint.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// ZipFileStatus returns the recorded envelopes and events for one zip file,
// looked up by exact name.
func (c *Client) ZipFileStatus(ctx context.Context, zipFileName string) (*ZipFileStatus, error) {
	var status ZipFileStatus
	if err := c.get(ctx, "/zip-files?name="+url.QueryEscape(zipFileName), false, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ZipFilesByDcn returns the status of every zip file that carried a document
// whose control number starts with the given prefix. The server requires at
// least six characters.
func (c *Client) ZipFilesByDcn(ctx context.Context, dcnPrefix string) ([]ZipFileStatus, error) {
	var statuses []ZipFileStatus
	if err := c.get(ctx, "/zip-files?dcn="+url.QueryEscape(dcnPrefix), false, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// Envelopes lists the envelopes of the jurisdiction configured for the
// calling service, optionally narrowed to one status. Requires the S2S token.
func (c *Client) Envelopes(ctx context.Context, status string) ([]Envelope, error) {
	path := "/envelopes"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Envelopes []Envelope `json:"envelopes"`
	}
	if err := c.get(ctx, path, true, &resp); err != nil {
		return nil, err
	}
	return resp.Envelopes, nil
}

// StaleBlobs lists archives whose envelopes have been incomplete for longer
// than staleHours. Zero keeps the server default.
func (c *Client) StaleBlobs(ctx context.Context, staleHours int) ([]StaleBlob, error) {
	path := "/envelopes/stale-incomplete-blobs"
	if staleHours > 0 {
		path += "?stale_time=" + strconv.Itoa(staleHours)
	}
	var resp struct {
		Data []StaleBlob `json:"data"`
	}
	if err := c.get(ctx, path, false, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// CountSummary returns the received/rejected counts per container for one day.
func (c *Client) CountSummary(ctx context.Context, date time.Time, includeTest bool) (*CountSummary, error) {
	path := fmt.Sprintf("/reports/count-summary?date=%s&include-test=%t",
		date.Format("2006-01-02"), includeTest)
	var summary CountSummary
	if err := c.get(ctx, path, false, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// RejectedFiles returns every zip file rejected before an envelope was made.
func (c *Client) RejectedFiles(ctx context.Context) (*RejectedFiles, error) {
	var resp RejectedFiles
	if err := c.get(ctx, "/reports/rejected", false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, authed bool, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("bulkscan: build request: %w", err)
	}
	if authed {
		req.Header.Set("ServiceAuthorization", "Bearer "+c.config.S2SToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("bulkscan: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bulkscan: %s returned %d: %s", path, resp.StatusCode, apiMessage(resp.Body))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("bulkscan: parse response: %w", err)
	}
	return nil
}

// apiMessage pulls the message field out of an error body, falling back to
// the raw text.
func apiMessage(r io.Reader) string {
	body, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		return msg.Message
	}
	return string(body)
}
