// Package documents is the client for the document management service that
// stores envelope PDFs and hands back their retrieval URLs.
package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

var log = logrus.WithField("prefix", "documents")

// Pdf is one file to persist.
type Pdf struct {
	Name string
	Data []byte
}

// Uploader persists a PDF set and returns document URLs keyed by file name.
type Uploader interface {
	Upload(ctx context.Context, pdfs []Pdf) (map[string]string, error)
}

// Client posts PDFs to the document store. Calls run through a circuit
// breaker so a down store fails fast instead of holding every upload tick
// for the full deadline.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewClient builds a document store client. A zero timeout falls back to the
// 30s the store is contractually allowed to take.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "document-store",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		breaker: cb,
	}
}

// Upload sends the full PDF set as one multipart request. The response maps
// each file name to its stored document URL.
func (c *Client) Upload(ctx context.Context, pdfs []Pdf) (map[string]string, error) {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.upload(ctx, pdfs)
	})
	if err != nil {
		return nil, err
	}
	return res.(map[string]string), nil
}

func (c *Client) upload(ctx context.Context, pdfs []Pdf) (map[string]string, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	for _, pdf := range pdfs {
		part, err := w.CreateFormFile("files", pdf.Name)
		if err != nil {
			return nil, fmt.Errorf("create form file %s: %w", pdf.Name, err)
		}
		if _, err := part.Write(pdf.Data); err != nil {
			return nil, fmt.Errorf("write form file %s: %w", pdf.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents", &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post documents: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("document store returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var parsed struct {
		Files map[string]string `json:"files"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode document store response: %w", err)
	}
	if parsed.Files == nil {
		return nil, fmt.Errorf("document store response has no files entry")
	}
	return parsed.Files, nil
}
