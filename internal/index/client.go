// Package index projects the canonical dataset into a Typesense search
// collection over its HTTP API.
package index

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/govnewsbr/pipeline/internal/retry"
)

const apiKeyHeader = "X-TYPESENSE-API-KEY"

// Config holds connection settings for the search engine.
type Config struct {
	URL        string        `mapstructure:"url"`
	APIKey     string        `mapstructure:"api_key"`
	Collection string        `mapstructure:"collection"`
	BatchSize  int           `mapstructure:"batch_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ImportResult is one line of the engine's JSONL import response.
type ImportResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Document string `json:"document,omitempty"`
}

// Client talks to a single Typesense node.
type Client struct {
	baseURL    string
	apiKey     string
	collection string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient validates the config and builds the client. It performs no I/O.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("index.url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid index.url: %w", err)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("index.api_key is required")
	}
	collection := cfg.Collection
	if collection == "" {
		collection = CollectionName
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.URL,
		apiKey:     cfg.APIKey,
		collection: collection,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

// EnsureCollection creates the collection if it does not exist yet.
func (c *Client) EnsureCollection(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/collections/"+c.collection, "", nil)
	if err != nil {
		return err
	}
	drain(resp)
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
	default:
		return statusError("get collection", resp.StatusCode)
	}

	body, err := json.Marshal(Schema)
	if err != nil {
		return fmt.Errorf("marshal collection schema: %w", err)
	}
	resp, err = c.do(ctx, http.MethodPost, "/collections", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	drain(resp)
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		return statusError("create collection", resp.StatusCode)
	}
	c.logger.Info("Search collection created", zap.String("collection", c.collection))
	return nil
}

// Upsert bulk-imports documents with action=upsert and returns one result
// per document, in input order.
func (c *Client) Upsert(ctx context.Context, docs []Document) ([]ImportResult, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		if err := enc.Encode(d); err != nil {
			return nil, fmt.Errorf("encode document %s: %w", d.ID, err)
		}
	}

	path := fmt.Sprintf("/collections/%s/documents/import?action=upsert", c.collection)
	resp, err := c.do(ctx, http.MethodPost, path, "text/plain", &buf)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("Failed to close import response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, statusError("import documents", resp.StatusCode)
	}

	results := make([]ImportResult, 0, len(docs))
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var r ImportResult
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, fmt.Errorf("decode import result: %w", err)
		}
		results = append(results, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, retry.MarkTransient(fmt.Errorf("read import response: %w", err))
	}
	if len(results) != len(docs) {
		return nil, fmt.Errorf("import returned %d results for %d documents", len(results), len(docs))
	}
	return results, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, retry.MarkTransient(fmt.Errorf("%s %s: %w", method, path, err))
	}
	return resp, nil
}

// statusError classifies HTTP failures: 429 and 5xx are retryable, the rest
// are permanent.
func statusError(op string, code int) error {
	err := fmt.Errorf("%s: unexpected status %d", op, code)
	if code == http.StatusTooManyRequests || code >= 500 {
		return retry.MarkTransient(err)
	}
	return err
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
