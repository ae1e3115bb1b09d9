package common

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrowserHTTPClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Mozilla/5.0", "requests should look like a desktop browser")
		assert.Equal(t, "https://portal.test", r.Header.Get("Referer"), "Referer should be set on every request")

		if r.URL.Path == "/second" {
			c, err := r.Cookie("PHPSESSID")
			if assert.NoError(t, err, "session cookie should be sent back") {
				assert.Equal(t, "abc123", c.Value)
			}
		} else {
			http.SetCookie(w, &http.Cookie{Name: "PHPSESSID", Value: "abc123", Path: "/"})
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	timeout := 5 * time.Second
	client := BrowserHTTPClient(timeout, "https://portal.test")
	assert.Equal(t, timeout, client.Timeout, "Timeout should be set correctly")
	require.NotNil(t, client.Jar, "the portal session lives in cookies")

	resp, err := client.Get(server.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()

	resp, err = client.Get(server.URL + "/second")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestVersion(t *testing.T) {
	assert.NotEmpty(t, Version())
	assert.Equal(t, strings.TrimSpace(version), Version(), "Version should strip the trailing newline")
}
