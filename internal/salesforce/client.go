package salesforce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DEFRA/apha-integration-bridge-sub000/internal/config"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/constants"
	"github.com/DEFRA/apha-integration-bridge-sub000/internal/logger"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/circuitbreaker"
	"github.com/DEFRA/apha-integration-bridge-sub000/pkg/models"
)

const maxErrorBody = 2048

// StatusError is a non-2xx answer from Salesforce.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("salesforce returned status %d: %s", e.StatusCode, e.Body)
}

func isServerFailure(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

type tokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(ctx context.Context, accessToken string)
}

type ClientConfig struct {
	BaseURL                string
	APIVersion             string
	Timeout                time.Duration
	ContactExternalIDField string
}

// Client talks to the Salesforce REST API. It is safe for concurrent use
// and shares one connection pool and one token across callers.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	tokens  tokenSource
	breaker *circuitbreaker.Wrapper
	logger  logger.Logger
}

func NewClient(cfg ClientConfig, tokens tokenSource, breaker *circuitbreaker.Wrapper, log logger.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = constants.DefaultHTTPTimeout
	}
	if !strings.HasPrefix(cfg.APIVersion, "v") {
		cfg.APIVersion = "v" + cfg.APIVersion
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		tokens:  tokens,
		breaker: breaker,
		logger:  log,
	}
}

func ClientConfigFromSettings(cfg config.SalesforceConfig) ClientConfig {
	return ClientConfig{
		BaseURL:                cfg.BaseURL,
		APIVersion:             cfg.APIVersion,
		Timeout:                cfg.Timeout,
		ContactExternalIDField: cfg.ContactExternalIDField,
	}
}

// NewBreaker builds the breaker used around Salesforce calls. Client errors
// other than throttling do not count as failures.
func NewBreaker(cfg config.CircuitBreakerConfig) *circuitbreaker.Wrapper {
	if !cfg.Enabled {
		return nil
	}
	cbConfig := circuitbreaker.FromSettings(constants.IntegrationSalesforce, cfg)
	cbConfig.IsSuccessful = func(err error) bool {
		return err == nil || !isServerFailure(err)
	}
	return circuitbreaker.NewWrapper(cbConfig)
}

// Composite posts req to the composite endpoint. The caller inspects the
// returned sub-responses; see models.CompositeResponse.Err.
func (c *Client) Composite(ctx context.Context, req *models.CompositeRequest) (*models.CompositeResponse, error) {
	var resp models.CompositeResponse
	if err := c.do(ctx, http.MethodPost, c.dataPath("/composite"), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type QueryResult struct {
	TotalSize int              `json:"totalSize"`
	Done      bool             `json:"done"`
	Records   []map[string]any `json:"records"`
}

func (c *Client) Query(ctx context.Context, soql string) (*QueryResult, error) {
	var result QueryResult
	path := c.dataPath("/query") + "?q=" + url.QueryEscape(soql)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) dataPath(suffix string) string {
	return "/services/data/" + c.cfg.APIVersion + suffix
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	call := func() (interface{}, error) {
		return nil, c.send(ctx, method, path, in, out)
	}
	if c.breaker == nil {
		_, err := call()
		return err
	}
	_, err := c.breaker.ExecuteWithContext(ctx, call)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("salesforce request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate(ctx, token)
	}
	if resp.StatusCode < constants.HTTPStatusOKMin || resp.StatusCode >= constants.HTTPStatusOKMax {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
