package common

import (
	_ "embed"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"
)

//go:embed VERSION
var version string

// browserUserAgent is what the utility portal expects to see. Anything that
// does not look like a desktop browser gets served the login form.
const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
	"AppleWebKit/537.36 (KHTML, like Gecko) " +
	"Chrome/97.0.4692.71 Safari/537.36"

// Version returns the version baked into the binary.
func Version() string {
	return strings.TrimSpace(version)
}

type headerTransport struct {
	transport http.RoundTripper
	headers   map[string]string
}

// RoundTrip implements http.RoundTripper.
func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original request's headers
	// which might be shared or reused
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	return t.transport.RoundTrip(req)
}

// BrowserHTTPClient returns an http client that presents itself as a desktop
// browser and keeps session cookies between requests.
func BrowserHTTPClient(timeout time.Duration, referer string) *http.Client {
	jar, err := cookiejar.New(nil)
	if err != nil {
		// cookiejar.New cannot fail with nil options
		panic(err)
	}

	return &http.Client{
		Jar: jar,
		Transport: &headerTransport{
			transport: http.DefaultTransport,
			headers: map[string]string{
				"User-Agent": browserUserAgent,
				"Referer":    referer,
			},
		},
		Timeout: timeout,
	}
}
