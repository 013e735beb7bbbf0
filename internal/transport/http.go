package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"
)

type HTTPConfig struct {
	Timeout            time.Duration
	KATimeout          time.Duration
	ProxyURL           string
	ProxyUsername      string
	ProxyPassword      string
	UserAgent          string
	Headers            map[string]string
	InsecureSkipVerify bool   // explicit opt-out of TLS certificate checks
	BearerToken        string // sent as an OAuth2 bearer token when set
	HighThreadMode     bool   // tuned dialer for many parallel connections
}

// HTTPTransport keeps a direct client and, when a proxy is configured, a proxied one.
// Requests pick between them with Request.UseProxy.
type HTTPTransport struct {
	direct  *http.Client
	proxied *http.Client
	config  HTTPConfig
}

func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	t := &HTTPTransport{config: cfg}
	t.direct = &http.Client{
		Timeout:   cfg.Timeout,
		Transport: wrapAuth(newRoundTripper(cfg), cfg.BearerToken),
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
		if cfg.ProxyUsername != "" {
			if cfg.ProxyPassword != "" {
				proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
			} else {
				proxyURL.User = url.User(cfg.ProxyUsername)
			}
		}
		rt := newRoundTripper(cfg)
		rt.Proxy = http.ProxyURL(proxyURL)
		t.proxied = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: wrapAuth(rt, cfg.BearerToken),
		}
	}
	return t, nil
}

func newRoundTripper(cfg HTTPConfig) *http.Transport {
	rt := &http.Transport{
		IdleConnTimeout:     cfg.KATimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		DisableCompression:  true, // raw bytes, so body length matches the range
		Proxy:               nil,  // never inherit proxy settings from the environment
	}
	if cfg.InsecureSkipVerify {
		rt.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if cfg.HighThreadMode {
		rt.DialContext = (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext
		rt.MaxIdleConnsPerHost = 256
	}
	return rt
}

func wrapAuth(rt http.RoundTripper, token string) http.RoundTripper {
	if token == "" {
		return rt
	}
	return &oauth2.Transport{
		Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
		Base:   rt,
	}
}

func (t *HTTPTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	if t.config.UserAgent != "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
	for k, vs := range r.Header {
		req.Header.Del(k)
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Connection", "keep-alive")

	client := t.direct
	if r.UseProxy && t.proxied != nil {
		client = t.proxied
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}
