package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"github.com/sony/gobreaker"
)

// APIError is a non-2xx answer from a model provider. Message carries the start of
// the response body, which is where providers put the human readable reason.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// ResilientClient wraps an HTTP client with circuit breaker and optional retry logic
type ResilientClient struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	config  ResilientClientConfig
	name    string
}

// ResilientClientConfig holds configuration for the resilient client
type ResilientClientConfig struct {
	// Circuit breaker settings
	EnableCircuitBreaker bool
	MaxFailures          uint32
	CircuitTimeout       time.Duration

	// Retry settings. A failed pipeline step aborts the run, so MaxRetries
	// defaults to 0; retries here are a transport concern only.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration

	Logger *log.Logger
}

// DefaultResilientClientConfig returns default configuration values
func DefaultResilientClientConfig() ResilientClientConfig {
	return ResilientClientConfig{
		EnableCircuitBreaker: getEnvBool("LLM_CIRCUIT_BREAKER_ENABLED", true),
		MaxFailures:          uint32(getEnvInt("LLM_CIRCUIT_BREAKER_MAX_FAILURES", 5)),
		CircuitTimeout:       time.Duration(getEnvInt("LLM_CIRCUIT_BREAKER_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxRetries:           getEnvInt("LLM_RETRY_MAX_ATTEMPTS", 0),
		InitialInterval:      time.Duration(getEnvInt("LLM_RETRY_INITIAL_INTERVAL_MS", 500)) * time.Millisecond,
		MaxInterval:          time.Duration(getEnvInt("LLM_RETRY_MAX_INTERVAL_MS", 5000)) * time.Millisecond,
	}
}

// NewResilientClient creates a resilient HTTP client. name labels the circuit
// breaker (one breaker per provider).
func NewResilientClient(name string, timeout time.Duration, config ResilientClientConfig) *ResilientClient {
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	c := &ResilientClient{
		client: &http.Client{Timeout: timeout},
		config: config,
		name:   name,
	}

	if config.EnableCircuitBreaker {
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    0, // Don't reset counts automatically
			Timeout:     config.CircuitTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= config.MaxFailures
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				config.Logger.Warn("⚡ Circuit breaker changed state", "breaker", name, "from", from.String(), "to", to.String())
				if to == gobreaker.StateOpen {
					RecordError(name, "circuit_open")
				}
			},
		})
	}

	return c
}

// Do executes an HTTP request through the circuit breaker. Non-2xx responses are
// returned as *APIError with the body already consumed.
func (c *ResilientClient) Do(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read request body: %w", err)
		}
	}

	if c.breaker == nil {
		return c.doWithRetry(req, body)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doWithRetry(req, body)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			RecordError(c.name, "circuit_open")
			return nil, fmt.Errorf("circuit breaker is open: %w", err)
		}
		return nil, err
	}

	return result.(*http.Response), nil
}

func (c *ResilientClient) attempt(req *http.Request, body []byte) (*http.Response, error) {
	attemptReq := req.Clone(req.Context())
	if body != nil {
		attemptReq.Body = io.NopCloser(bytes.NewReader(body))
		attemptReq.ContentLength = int64(len(body))
	}

	resp, err := c.client.Do(attemptReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			RecordError(c.name, "timeout")
		} else {
			RecordError(c.name, "connection")
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		c.recordErrorFromResponse(resp)
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return resp, &APIError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	return resp, nil
}

// doWithRetry executes an HTTP request with exponential backoff retry logic
func (c *ResilientClient) doWithRetry(req *http.Request, body []byte) (*http.Response, error) {
	if c.config.MaxRetries <= 0 {
		resp, err := c.attempt(req, body)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.config.InitialInterval
	expBackoff.MaxInterval = c.config.MaxInterval
	expBackoff.Multiplier = 2.0
	expBackoff.MaxElapsedTime = 0 // only max retries

	retryBackoff := backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, uint64(c.config.MaxRetries)),
		req.Context(),
	)

	var resp *http.Response
	var lastErr error

	operation := func() error {
		r, err := c.attempt(req, body)
		if err == nil {
			resp = r
			return nil
		}
		lastErr = err
		if c.shouldRetry(err, r) {
			return err
		}
		return backoff.Permanent(err)
	}

	if err := backoff.Retry(operation, retryBackoff); err != nil {
		return nil, fmt.Errorf("request failed after retries: %w", lastErr)
	}

	return resp, nil
}

// shouldRetry determines if an error or response should trigger a retry
func (c *ResilientClient) shouldRetry(err error, resp *http.Response) bool {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusTooManyRequests, // 429
			http.StatusServiceUnavailable,  // 503
			http.StatusGatewayTimeout,      // 504
			http.StatusBadGateway,          // 502
			http.StatusInternalServerError: // 500
			return true
		}
		return false
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return true
		}
		msg := err.Error()
		return strings.Contains(msg, "connection refused") ||
			strings.Contains(msg, "connection reset") ||
			strings.Contains(msg, "EOF")
	}

	return false
}

// recordErrorFromResponse records the appropriate error metric based on response status
func (c *ResilientClient) recordErrorFromResponse(resp *http.Response) {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		RecordError(c.name, "auth")
	case http.StatusTooManyRequests:
		RecordError(c.name, "rate_limit")
	case http.StatusRequestTimeout:
		RecordError(c.name, "timeout")
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		RecordError(c.name, "server_error")
	default:
		RecordError(c.name, "http_error")
	}
}

// getEnvInt reads an integer from environment variable or returns default
func getEnvInt(key string, defaultValue int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvBool reads a boolean from environment variable or returns default
func getEnvBool(key string, defaultValue bool) bool {
	if val := os.Getenv(key); val != "" {
		if boolVal, err := strconv.ParseBool(val); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
