package client

import (
	"net/http"
	"time"
)

// Option configures the Client.
type Option func(*options)

type options struct {
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
	headers    map[string]string
}

func defaultOptions() *options {
	return &options{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		timeout:    30 * time.Second,
		headers:    make(map[string]string),
	}
}

// WithAPIKey sets the X-API-Key header sent with every request.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithHTTPClient allows providing a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithTimeout sets the default timeout for HTTP requests.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
		if o.httpClient != nil {
			o.httpClient.Timeout = d
		}
	}
}

// WithHeader adds a custom header to all requests.
func WithHeader(key, value string) Option {
	return func(o *options) { o.headers[key] = value }
}

func (o *options) applyHeaders(req *http.Request) {
	if o.apiKey != "" {
		req.Header.Set("X-API-Key", o.apiKey)
	}
	for k, v := range o.headers {
		req.Header.Set(k, v)
	}
}
