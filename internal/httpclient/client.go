// Package httpclient builds the *http.Client shared by the vendor adapters.
package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultConnectTimeout bounds the TCP dial when a client sets no connect_timeout.
const DefaultConnectTimeout = 10 * time.Second

// ClientConfig describes the transport of one vendor client.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration

	// Timeout caps the whole exchange. Streams need it at zero.
	Timeout time.Duration

	DialTimeout           time.Duration
	KeepAlive             time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration

	// Proxy is "" for HTTPS_PROXY/ALL_PROXY, "-" or "false" for a direct
	// connection, or a proxy URL.
	Proxy string
}

// DefaultConfig returns the transport defaults. HTTP_TIMEOUT,
// HTTP_CONNECT_TIMEOUT and HTTP_RESPONSE_HEADER_TIMEOUT override them, as
// seconds or Go durations.
func DefaultConfig() ClientConfig {
	return ClientConfig{
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		IdleConnTimeout:       90 * time.Second,
		Timeout:               envDuration("HTTP_TIMEOUT", 0),
		DialTimeout:           envDuration("HTTP_CONNECT_TIMEOUT", DefaultConnectTimeout),
		KeepAlive:             30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: envDuration("HTTP_RESPONSE_HEADER_TIMEOUT", 10*time.Minute),
	}
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// NewHTTPClient builds a client from cfg, or from DefaultConfig when cfg is
// nil. It fails only on a malformed proxy.
func NewHTTPClient(cfg *ClientConfig) (*http.Client, error) {
	if cfg == nil {
		d := DefaultConfig()
		cfg = &d
	}
	proxy, err := ProxyFunc(cfg.Proxy)
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout, KeepAlive: cfg.KeepAlive}
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:                 proxy,
			DialContext:           dialer.DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          cfg.MaxIdleConns,
			MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:       cfg.IdleConnTimeout,
			TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
			ResponseHeaderTimeout: cfg.ResponseHeaderTimeout,
			ExpectContinueTimeout: time.Second,
		},
	}, nil
}

// NewDefaultHTTPClient is NewHTTPClient(nil) falling back to
// http.DefaultTransport when the proxy environment is broken.
func NewDefaultHTTPClient() *http.Client {
	if client, err := NewHTTPClient(nil); err == nil {
		return client
	}
	return &http.Client{Transport: http.DefaultTransport}
}

// ProxyFunc turns a proxy setting into a Transport.Proxy function. A nil
// function means no proxy.
func ProxyFunc(setting string) (func(*http.Request) (*url.URL, error), error) {
	setting = strings.TrimSpace(setting)
	switch strings.ToLower(setting) {
	case "-", "false":
		return nil, nil
	case "":
		if setting = proxyFromEnv(); setting == "" {
			return nil, nil
		}
	}

	u, err := url.Parse(setting)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy %q", setting)
	}
	return http.ProxyURL(u), nil
}

func proxyFromEnv() string {
	for _, k := range []string{"HTTPS_PROXY", "https_proxy", "ALL_PROXY", "all_proxy"} {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
