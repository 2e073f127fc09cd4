// Package cwm integrates with Cisco Crosswork Workflow Manager for
// scheduled and immediate execution of remediation workflows.
package cwm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds CWM connection settings.
type Config struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Client talks to the CWM API. Crosswork uses two-step CAS auth: POST
// credentials for a ticket, exchange the ticket for a bearer token, then
// carry the token on API calls. The token is refreshed once on a 401.
type Client struct {
	base string
	auth string
	cfg  Config
	http *http.Client
	log  *zap.Logger

	mu    sync.Mutex
	token string
}

// NewClient creates a CWM client from cfg.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	base := fmt.Sprintf("https://%s:%d", cfg.Host, cfg.Port)
	return &Client{
		base: base,
		auth: base + "/crosswork",
		cfg:  cfg,
		http: &http.Client{Timeout: timeout},
		log:  log,
	}
}

// SetBaseURL overrides both API and auth base URLs. Used by tests.
func (c *Client) SetBaseURL(u string) {
	c.base = strings.TrimRight(u, "/")
	c.auth = c.base + "/crosswork"
}

func (c *Client) authenticate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return nil
	}
	c.log.Info("authenticating with Crosswork")

	ticketURL := c.auth + "/sso/v1/tickets"
	form := url.Values{"username": {c.cfg.Username}, "password": {c.cfg.Password}}
	ticket, err := c.postForm(ctx, ticketURL, form)
	if err != nil {
		return fmt.Errorf("requesting CAS ticket: %w", err)
	}

	tokenURL := fmt.Sprintf("%s/%s", ticketURL, ticket)
	serviceForm := url.Values{"service": {c.auth + "/app-dashboard"}}
	token, err := c.postForm(ctx, tokenURL, serviceForm)
	if err != nil {
		return fmt.Errorf("exchanging CAS ticket: %w", err)
	}

	c.token = token
	c.log.Info("Crosswork authentication complete")
	return nil
}

func (c *Client) postForm(ctx context.Context, u string, form url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("CWM auth returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return strings.TrimSpace(string(body)), nil
}

// do performs an authenticated API call, retrying once on token expiry.
func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	if err := c.authenticate(ctx); err != nil {
		return nil, 0, err
	}

	body, status, err := c.request(ctx, method, path, payload)
	if err != nil {
		return nil, 0, err
	}
	if status == http.StatusUnauthorized {
		c.mu.Lock()
		c.token = ""
		c.mu.Unlock()
		if err := c.authenticate(ctx); err != nil {
			return nil, 0, err
		}
		body, status, err = c.request(ctx, method, path, payload)
		if err != nil {
			return nil, 0, err
		}
	}
	return body, status, nil
}

func (c *Client) request(ctx context.Context, method, path string, payload interface{}) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding CWM payload: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	u := c.base + "/" + strings.TrimPrefix(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, err
	}
	c.mu.Lock()
	req.Header.Set("Authorization", "Bearer "+c.token)
	c.mu.Unlock()
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("CWM %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading CWM response: %w", err)
	}
	return body, resp.StatusCode, nil
}
