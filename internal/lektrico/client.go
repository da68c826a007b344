package lektrico

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gregjohnson/lektrico-bridge/internal/log"
	"golang.org/x/time/rate"
)

const (
	// DefaultTimeout bounds every request to the charger or energy manager
	DefaultTimeout = 5 * time.Second

	// maxBodySize caps how much of a device response is read
	maxBodySize = 64 * 1024

	// request ids are 8-digit integers
	minRequestID = 10000000
	maxRequestID = 99999999
)

// Options configures a Client
type Options struct {
	ChargerHost       string
	EnergyManagerHost string
	Source            string
	Timeout           time.Duration
	CommandsPerSecond float64
	CommandBurst      int
	Logger            *log.Logger
}

// Client talks to the charger and energy manager over their local JSON RPC
type Client struct {
	chargerURL string
	emURL      string
	source     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *log.Logger

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewClient creates a new device client
func NewClient(opts Options) (*Client, error) {
	if opts.ChargerHost == "" {
		return nil, fmt.Errorf("charger host is required")
	}
	if opts.EnergyManagerHost == "" {
		return nil, fmt.Errorf("energy manager host is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Source == "" {
		opts.Source = "VenusOS"
	}

	// Commands are throttled; polling reads are not
	limit := rate.Inf
	if opts.CommandsPerSecond > 0 {
		limit = rate.Limit(opts.CommandsPerSecond)
	}
	burst := opts.CommandBurst
	if burst <= 0 {
		burst = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.Component("lektrico")
	}

	return &Client{
		chargerURL: baseURL(opts.ChargerHost),
		emURL:      baseURL(opts.EnergyManagerHost),
		source:     opts.Source,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Source returns the src tag stamped on outgoing RPC envelopes
func (c *Client) Source() string {
	return c.source
}

// ChargerInfo fetches live charger telemetry
func (c *Client) ChargerInfo(ctx context.Context) (*ChargerInfo, error) {
	var info ChargerInfo
	if err := c.getJSON(ctx, c.chargerURL+chargerInfoPath, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ChargerConfig fetches the charger's static configuration
func (c *Client) ChargerConfig(ctx context.Context) (*ChargerConfig, error) {
	var cfg ChargerConfig
	if err := c.getJSON(ctx, c.chargerURL+chargerConfigPath, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnergyManagerConfig fetches the energy manager's app configuration
func (c *Client) EnergyManagerConfig(ctx context.Context) (*EnergyManagerConfig, error) {
	var cfg EnergyManagerConfig
	if err := c.getJSON(ctx, c.emURL+energyManagerConfigPath, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Call posts an RPC to the selected device and decodes its response. It
// does not interpret the result flag; see RPCResponse.Succeeded.
func (c *Client) Call(ctx context.Context, target Target, method string, params map[string]interface{}) (*RPCResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	rpc := RPCRequest{
		Src:    c.source,
		ID:     c.nextID(),
		Method: method,
		Params: params,
	}

	jsonData, err := json.Marshal(rpc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	url := c.chargerURL + rpcPath
	if target == TargetEnergyManager {
		url = c.emURL + rpcPath
	}

	c.logger.Debug("RPC %s -> %s: %s", method, target, jsonData)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var resp RPCResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, method, err)
	}

	c.logger.Debug("RPC %s response: %s", method, truncateForLog(string(body), 200))
	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return fmt.Errorf("%w: empty body from %s", ErrMalformedResponse, url)
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedResponse, url, err)
	}
	return nil
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d - %s", ErrUnavailable, req.URL.Path, resp.StatusCode, truncateForLog(string(body), 200))
	}
	return body, nil
}

func (c *Client) nextID() int {
	c.rngMu.Lock()
	defer c.rngMu.Unlock()
	return minRequestID + c.rng.Intn(maxRequestID-minRequestID+1)
}

func baseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "http://" + host
}

// truncateForLog truncates a string for logging purposes
func truncateForLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
