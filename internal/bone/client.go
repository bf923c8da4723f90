package bone

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mycoool/boneagent/internal/logging"
)

// ErrNoData is returned when the cloud has no service config for this box.
var ErrNoData = errors.New("no data from cloud")

// StatusError is a non-2xx answer from the cloud.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: cloud returned %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: cloud returned %d: %s", e.Op, e.Status, e.Body)
}

// HTTPClient defines the http.Client subset required by Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config controls how the cloud is reached.
type Config struct {
	URL               string
	Timeout           time.Duration
	ReadyPollInterval time.Duration
	HTTP              HTTPClient
}

// Client talks to the cloud check-in service.
type Client struct {
	base         string
	http         HTTPClient
	pollInterval time.Duration
	log          logging.Logger
}

// CheckInRequest is the body of a check-in call.
type CheckInRequest struct {
	Config  any    `json:"config"`
	License string `json:"license,omitempty"`
	SysInfo any    `json:"sysInfo"`
}

// New constructs a Client with sane defaults.
func New(cfg Config, log logging.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReadyPollInterval <= 0 {
		cfg.ReadyPollInterval = 10 * time.Second
	}
	if cfg.HTTP == nil {
		cfg.HTTP = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logging.New("bone")
	}
	return &Client{
		base:         strings.TrimRight(cfg.URL, "/"),
		http:         cfg.HTTP,
		pollInterval: cfg.ReadyPollInterval,
		log:          log,
	}
}

// CheckIn reports this box to the cloud and returns its directives.
func (c *Client) CheckIn(ctx context.Context, in CheckInRequest) (CheckInResult, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode check-in request: %w", err)
	}

	var out any
	if err := c.do(ctx, "checkin", http.MethodPost, "/checkin", in.License, body, &out); err != nil {
		return nil, err
	}
	obj, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("checkin: unexpected response %T", out)
	}
	return CheckInResult(obj), nil
}

// ServiceConfig fetches the service configuration blob. ErrNoData is returned
// when the cloud answers with anything but a JSON object.
func (c *Client) ServiceConfig(ctx context.Context) (map[string]any, error) {
	var out any
	if err := c.do(ctx, "service config", http.MethodGet, "/service/config", "", nil, &out); err != nil {
		return nil, err
	}
	obj, ok := out.(map[string]any)
	if !ok || obj == nil {
		return nil, ErrNoData
	}
	return obj, nil
}

// Ping checks whether the cloud is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/ping", "", nil, nil)
}

// WaitReady blocks until Ping succeeds or ctx is done.
func (c *Client) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		err := c.Ping(ctx)
		if err == nil {
			return nil
		}
		c.log.WithError(err).Debug("cloud not ready yet")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, op, method, path, license string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if license != "" {
		req.Header.Set("Authorization", "Bearer "+license)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			// empty body decodes like null
			return nil
		}
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
