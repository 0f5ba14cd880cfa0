package vindecoder

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksum(t *testing.T) {
	sum := sha1.Sum([]byte("WBAVA12345AB67890|decode|key|secret"))
	want := hex.EncodeToString(sum[:])[:10]

	assert.Equal(t, want, Checksum("WBAVA12345AB67890", ActionDecode, "key", "secret"))
	assert.NotEqual(t, want, Checksum("WBAVA12345AB67890", ActionStolenCheck, "key", "secret"))
	assert.Len(t, Checksum("", ActionDecode, "", ""), 10)
}

func TestURLNormalizesVIN(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://example.test/3.2/", APIKey: "key", SecretKey: "secret"})

	got := c.URL(" wbava12345-ab67890 ", ActionMarketValue)
	want := "https://example.test/3.2/key/" +
		Checksum("WBAVA12345AB67890", ActionMarketValue, "key", "secret") +
		"/vehicle-market-value/WBAVA12345AB67890.json"
	assert.Equal(t, want, got)
}

func TestFetch(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		switch {
		case strings.Contains(r.URL.Path, "/decode/"):
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"decode":[{"label":"Make","value":"BMW"}]}`))
		case strings.Contains(r.URL.Path, "/stolen-check/"):
			_, _ = w.Write([]byte(`<html>not json</html>`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "key", SecretKey: "secret", RPS: 100, Burst: 10})
	ctx := context.Background()

	res := c.Fetch(ctx, "WBAVA12345AB67890", ActionDecode)
	require.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Contains(t, res.JSON, "decode")
	assert.Contains(t, gotPath, "/key/")

	res = c.Fetch(ctx, "WBAVA12345AB67890", ActionStolenCheck)
	assert.True(t, res.OK)
	assert.Empty(t, res.JSON, "malformed bodies degrade to an empty object")

	res = c.Fetch(ctx, "WBAVA12345AB67890", ActionMarketValue)
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusServiceUnavailable, res.Status)
	assert.NotNil(t, res.JSON)
	assert.True(t, res.Retryable())
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	res := NewClient(Config{BaseURL: url, APIKey: "k", SecretKey: "s"}).Fetch(context.Background(), "WBAVA12345AB67890", ActionDecode)
	assert.False(t, res.OK)
	assert.Error(t, res.Err)
	assert.NotNil(t, res.JSON)
	assert.True(t, res.Retryable())
}

func TestRetryable(t *testing.T) {
	assert.False(t, Response{OK: true, Status: 200}.Retryable())
	assert.False(t, Response{Status: 404}.Retryable())
	assert.False(t, Response{Status: 401}.Retryable())
	assert.True(t, Response{Status: 429}.Retryable())
	assert.True(t, Response{Status: 502}.Retryable())
}
