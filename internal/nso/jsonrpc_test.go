package nso

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newTestDownloader(t *testing.T, handler http.Handler) (*Downloader, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(u.Port())
	d, err := NewDownloader(Config{
		Protocol: "http",
		Host:     u.Hostname(),
		Port:     port,
		Username: "admin",
		Password: "admin",
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return d, srv
}

func TestDownloaderLogsInThenFetches(t *testing.T) {
	var loginSeen bool
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", func(w http.ResponseWriter, r *http.Request) {
		var req jsonrpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Method != "login" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		loginSeen = true
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "abc123"})
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	})
	mux.HandleFunc("/compliance-reports/report_5.html", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("sessionid"); err != nil || c.Value != "abc123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("<html>report body</html>"))
	})

	d, srv := newTestDownloader(t, mux)
	content, err := d.Download(context.Background(), srv.URL+"/compliance-reports/report_5.html")
	if err != nil {
		t.Fatal(err)
	}
	if !loginSeen {
		t.Error("download did not log in first")
	}
	if !strings.Contains(content, "report body") {
		t.Errorf("content = %q", content)
	}
}

func TestDownloaderRejectedLogin(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"bad password"}}`))
	})
	d, srv := newTestDownloader(t, mux)
	_, err := d.Download(context.Background(), srv.URL+"/compliance-reports/x.html")
	if err == nil || !strings.Contains(err.Error(), "bad password") {
		t.Errorf("err = %v", err)
	}
}

func TestDownloaderRetriesAfterSessionExpiry(t *testing.T) {
	logins := 0
	fetches := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/jsonrpc", func(w http.ResponseWriter, r *http.Request) {
		logins++
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	})
	mux.HandleFunc("/compliance-reports/r.html", func(w http.ResponseWriter, r *http.Request) {
		fetches++
		if fetches == 1 {
			// First fetch hits an expired session.
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("ok"))
	})

	d, srv := newTestDownloader(t, mux)
	content, err := d.Download(context.Background(), srv.URL+"/compliance-reports/r.html")
	if err != nil {
		t.Fatal(err)
	}
	if content != "ok" {
		t.Errorf("content = %q", content)
	}
	if logins != 2 {
		t.Errorf("logins = %d, want 2", logins)
	}
}
