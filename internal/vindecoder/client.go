// Package vindecoder is a thin client for the vindecoder.eu VIN data API
// (decode, stolen check and market value).
package vindecoder

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/RaikyD/vin-report-service/internal/extract"
	"github.com/RaikyD/vin-report-service/internal/logger"
	"github.com/RaikyD/vin-report-service/internal/metrics"
)

type Action string

const (
	ActionDecode      Action = "decode"
	ActionStolenCheck Action = "stolen-check"
	ActionMarketValue Action = "vehicle-market-value"
)

const (
	DefaultBaseURL = "https://api.vindecoder.eu/3.2"

	checksumLength = 10
	maxBodyBytes   = 2 << 20
)

// Response is the outcome of one provider call. JSON is never nil: bodies
// that are not a JSON object decode to an empty map.
type Response struct {
	OK     bool
	Status int
	JSON   map[string]any
	Err    error
}

// Retryable reports whether the failure is transient: network errors,
// timeouts, throttling and server errors.
func (r Response) Retryable() bool {
	if r.OK {
		return false
	}
	if r.Err != nil {
		return true
	}
	return r.Status == http.StatusRequestTimeout || r.Status == http.StatusTooManyRequests || r.Status >= 500
}

type Config struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	Timeout   time.Duration
	// RPS limits outgoing requests; zero disables the limiter.
	RPS   float64
	Burst int
}

type Client struct {
	baseURL    string
	apiKey     string
	secretKey  string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:   base,
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
	}
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c
}

// Checksum is the provider's control sum: the first 10 hex characters of
// SHA1("vin|action|apiKey|secretKey").
func Checksum(vin string, action Action, apiKey, secretKey string) string {
	sum := sha1.Sum([]byte(vin + "|" + string(action) + "|" + apiKey + "|" + secretKey))
	return hex.EncodeToString(sum[:])[:checksumLength]
}

// URL builds the GET endpoint for vin and action. The VIN is normalized first.
func (c *Client) URL(vin string, action Action) string {
	clean := extract.NormalizeVIN(vin)
	return fmt.Sprintf("%s/%s/%s/%s/%s.json",
		c.baseURL, c.apiKey, Checksum(clean, action, c.apiKey, c.secretKey), action, clean)
}

// Fetch calls the provider. It never returns an error directly; failures are
// reported through Response.OK and Response.Err.
func (c *Client) Fetch(ctx context.Context, vin string, action Action) Response {
	resp := c.fetch(ctx, vin, action)
	metrics.ProviderRequestsTotal.WithLabelValues(string(action), strconv.FormatBool(resp.OK)).Inc()
	if !resp.OK {
		logger.Warn("vin provider call failed", "action", action, "status", resp.Status, "err", resp.Err)
	}
	return resp
}

func (c *Client) fetch(ctx context.Context, vin string, action Action) Response {
	empty := map[string]any{}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Response{JSON: empty, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(vin, action), nil)
	if err != nil {
		return Response{JSON: empty, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return Response{JSON: empty, Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return Response{Status: res.StatusCode, JSON: empty, Err: fmt.Errorf("read body: %w", err)}
	}

	parsed := map[string]any{}
	if err := json.Unmarshal(body, &parsed); err != nil || parsed == nil {
		parsed = map[string]any{}
	}

	return Response{
		OK:     res.StatusCode >= 200 && res.StatusCode < 300,
		Status: res.StatusCode,
		JSON:   parsed,
	}
}
