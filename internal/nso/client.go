// Package nso talks to Cisco NSO over its RESTCONF, CLI, and JSON-RPC
// northbound interfaces.
package nso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/devnet-ops/compliance-ai/internal/metrics"
)

const (
	yangJSON = "application/yang-data+json"
	yangXML  = "application/yang-data+xml"
)

// Config holds NSO connection settings.
type Config struct {
	Protocol   string        `mapstructure:"protocol"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	HostHeader string        `mapstructure:"host_header"` // override when tunneling through docker
	Timeout    time.Duration `mapstructure:"timeout"`
}

// BaseURL returns the scheme://host:port root of the NSO northbound API.
func (c Config) BaseURL() string {
	proto := c.Protocol
	if proto == "" {
		proto = "http"
	}
	return fmt.Sprintf("%s://%s:%d", proto, c.Host, c.Port)
}

// Client is a RESTCONF client for NSO's /restconf/data tree.
type Client struct {
	cfg  Config
	base string
	http *http.Client
	log  *zap.Logger
}

// NewClient creates a RESTCONF client from cfg.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:  cfg,
		base: cfg.BaseURL() + "/restconf/data",
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// SetBaseURL overrides the RESTCONF base URL. Used by tests.
func (c *Client) SetBaseURL(url string) {
	c.base = strings.TrimRight(url, "/")
}

func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader, contentType string) ([]byte, int, error) {
	start := time.Now()
	url := c.base + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, 0, fmt.Errorf("building %s request: %w", op, err)
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", contentType)
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.HostHeader != "" {
		req.Host = c.cfg.HostHeader
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.NSORequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.NSORequestsTotal.WithLabelValues(op, "error").Inc()
		return nil, resp.StatusCode, fmt.Errorf("%s: reading response: %w", op, err)
	}

	metrics.NSORequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		metrics.NSORequestsTotal.WithLabelValues(op, "ok").Inc()
	} else {
		metrics.NSORequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	}
	return data, resp.StatusCode, nil
}

// getJSON performs a GET against the data tree and decodes the YANG JSON body.
func (c *Client) getJSON(ctx context.Context, op, path string) (map[string]interface{}, error) {
	data, status, err := c.do(ctx, op, http.MethodGet, path, nil, yangJSON)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%s: not found", op)
	}
	if status >= 300 {
		return nil, fmt.Errorf("%s: NSO returned %d: %s", op, status, strings.TrimSpace(string(data)))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]interface{}{}, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return out, nil
}

// postAction invokes a YANG action node (sync-to, check-sync, re-deploy)
// and decodes the output container if present.
func (c *Client) postAction(ctx context.Context, op, path string) (map[string]interface{}, error) {
	data, status, err := c.do(ctx, op, http.MethodPost, path, nil, yangJSON)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("%s: NSO returned %d: %s", op, status, strings.TrimSpace(string(data)))
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]interface{}{}, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s: decoding action output: %w", op, err)
	}
	return out, nil
}

// postXML invokes an action whose input must be XML (apply-template).
func (c *Client) postXML(ctx context.Context, op, path, payload string) error {
	data, status, err := c.do(ctx, op, http.MethodPost, path, strings.NewReader(payload), yangXML)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("%s: NSO returned %d: %s", op, status, strings.TrimSpace(string(data)))
	}
	return nil
}
