// Package fpl is a small client for the public Fantasy Premier League API.
// Every request is paced by a token bucket, bounded by a per-call timeout and
// short-circuited while the upstream keeps failing.
package fpl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"fpllive/internal/metrics"
)

const (
	DefaultBaseURL = "https://fantasy.premierleague.com/api"

	defaultTimeout           = 10 * time.Second
	defaultRequestsPerSecond = 5
	defaultBurst             = 5
	defaultTripAfter         = 5
	defaultOpenFor           = time.Minute
	userAgent                = "fpllive/1.0"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config controls how the client reaches the upstream API.
type Config struct {
	BaseURL           string
	HTTPClient        *http.Client
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int

	// TripAfter consecutive unavailable responses open the breaker for
	// OpenFor. Parse errors and cancellations do not count.
	TripAfter uint32
	OpenFor   time.Duration
}

// API is the read surface of the FPL API. Client and MockProvider implement it.
type API interface {
	GetTeam(ctx context.Context, id int) (Team, error)
	GetGameweeks(ctx context.Context) ([]Gameweek, error)
	GetFixturesByGameweek(ctx context.Context, gameweek int) ([]Fixture, error)
	GetEntry(ctx context.Context, entryID int) (Entry, error)
}

var (
	_ API = (*Client)(nil)
	_ API = (*MockProvider)(nil)
)

// Client fetches teams, gameweeks, fixtures and entries from the FPL API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

// NewClient constructs a client with the provided configuration.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = defaultRequestsPerSecond
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	tripAfter := cfg.TripAfter
	if tripAfter == 0 {
		tripAfter = defaultTripAfter
	}
	openFor := cfg.OpenFor
	if openFor <= 0 {
		openFor = defaultOpenFor
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger.Named("fpl"),
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "fpl",
		MaxRequests: 1,
		Timeout:     openFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrProviderUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			metrics.ProviderBreakerState.Set(breakerStateValue(to))
		},
	})
	return c
}

// BreakerState reports the circuit breaker state ("closed", "half-open", "open")
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// GetTeam returns the team with the given provider id
func (c *Client) GetTeam(ctx context.Context, id int) (Team, error) {
	var payload bootstrap
	if err := c.getJSON(ctx, "bootstrap", "/bootstrap-static/", &payload); err != nil {
		return Team{}, err
	}

	for _, team := range payload.Teams {
		if team.ID == id {
			return team, nil
		}
	}
	return Team{}, &ParseError{Endpoint: "bootstrap", Err: fmt.Errorf("team %d not listed", id)}
}

// GetGameweeks returns every gameweek of the season
func (c *Client) GetGameweeks(ctx context.Context) ([]Gameweek, error) {
	var payload bootstrap
	if err := c.getJSON(ctx, "bootstrap", "/bootstrap-static/", &payload); err != nil {
		return nil, err
	}
	if len(payload.Events) == 0 {
		return nil, &ParseError{Endpoint: "bootstrap", Err: errors.New("no events listed")}
	}
	return payload.Events, nil
}

// GetFixturesByGameweek returns all fixtures scheduled in gameweek
func (c *Client) GetFixturesByGameweek(ctx context.Context, gameweek int) ([]Fixture, error) {
	var fixtures []Fixture
	path := "/fixtures/?event=" + strconv.Itoa(gameweek)
	if err := c.getJSON(ctx, "fixtures", path, &fixtures); err != nil {
		return nil, err
	}
	return fixtures, nil
}

// GetEntry returns the public summary of a manager's team
func (c *Client) GetEntry(ctx context.Context, entryID int) (Entry, error) {
	var entry Entry
	path := fmt.Sprintf("/entry/%d/", entryID)
	if err := c.getJSON(ctx, "entry", path, &entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// getJSON runs fetch through the circuit breaker. An open breaker is reported
// as ErrProviderUnavailable without touching the network.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, out any) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.fetch(ctx, endpoint, path, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.ProviderRequestsTotal.WithLabelValues(endpoint, "short_circuit").Inc()
		return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, path, err)
	}
	return err
}

// fetch performs one paced, time-bounded GET and decodes the body into out.
func (c *Client) fetch(ctx context.Context, endpoint, path string, out any) (err error) {
	start := time.Now()
	status := "ok"
	defer func() {
		if err != nil {
			status = classify(err)
		}
		metrics.ProviderRequestsTotal.WithLabelValues(endpoint, status).Inc()
		metrics.ProviderRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.limiter.Wait(reqCtx); err != nil {
		return c.transportError(ctx, path, err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportError(ctx, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s returned status %d: %s",
			ErrProviderUnavailable, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if reqCtx.Err() != nil {
			return c.transportError(ctx, path, err)
		}
		return &ParseError{Endpoint: endpoint, Err: err}
	}

	c.logger.Debug("FPL request served",
		zap.String("path", path),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// transportError maps network failures and timeouts to ErrProviderUnavailable.
// Cancellation by the caller is passed through untouched.
func (c *Client) transportError(ctx context.Context, path string, err error) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("request %s cancelled: %w", path, ctx.Err())
	}
	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, path, err)
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrProviderUnavailable):
		return "unavailable"
	case IsParseError(err):
		return "parse_error"
	default:
		return "error"
	}
}

func breakerStateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}
