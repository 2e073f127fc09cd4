package nso

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Downloader fetches compliance report artifacts from NSO's web server.
// Artifact URLs are behind the same session auth as the NSO Web UI, so the
// downloader logs in over JSON-RPC first and carries the session cookie.
//
// Implements the report retriever's ArtifactClient.
type Downloader struct {
	cfg  Config
	http *http.Client
	log  *zap.Logger

	mu       sync.Mutex
	loggedIn bool
}

// NewDownloader creates a report artifact downloader from cfg.
func NewDownloader(cfg Config, log *zap.Logger) (*Downloader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Downloader{
		cfg:  cfg,
		http: &http.Client{Jar: jar, Timeout: timeout},
		log:  log,
	}, nil
}

type jsonrpcRequest struct {
	Version string                 `json:"jsonrpc"`
	ID      int                    `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
}

type jsonrpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (d *Downloader) login(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loggedIn {
		return nil
	}

	payload, err := json.Marshal(jsonrpcRequest{
		Version: "2.0",
		ID:      1,
		Method:  "login",
		Params: map[string]interface{}{
			"user":   d.cfg.Username,
			"passwd": d.cfg.Password,
		},
	})
	if err != nil {
		return fmt.Errorf("encoding login request: %w", err)
	}

	url := d.cfg.BaseURL() + "/jsonrpc"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.cfg.HostHeader != "" {
		req.Host = d.cfg.HostHeader
	}

	resp, err := d.http.Do(req)
	if err != nil {
		return fmt.Errorf("NSO JSON-RPC login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("NSO JSON-RPC login returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var rpc jsonrpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpc); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if rpc.Error != nil {
		return fmt.Errorf("NSO login rejected: %s (code %d)", rpc.Error.Message, rpc.Error.Code)
	}

	d.loggedIn = true
	d.log.Debug("NSO JSON-RPC session established")
	return nil
}

// Download fetches the artifact at url, logging in first if no session is
// established. A 401/403 retires the session and retries once.
func (d *Downloader) Download(ctx context.Context, url string) (string, error) {
	if err := d.login(ctx); err != nil {
		return "", err
	}

	content, status, err := d.get(ctx, url)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		d.mu.Lock()
		d.loggedIn = false
		d.mu.Unlock()
		if err := d.login(ctx); err != nil {
			return "", err
		}
		content, status, err = d.get(ctx, url)
		if err != nil {
			return "", err
		}
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("downloading report artifact: NSO returned %d", status)
	}
	return content, nil
}

func (d *Downloader) get(ctx context.Context, url string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", 0, fmt.Errorf("building artifact request: %w", err)
	}
	if d.cfg.HostHeader != "" {
		req.Host = d.cfg.HostHeader
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("fetching report artifact: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("reading report artifact: %w", err)
	}
	return string(data), resp.StatusCode, nil
}
