package cmab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/flagkit/pkg/retry"
)

// DefaultPredictionEndpoint is the production prediction service; the rule
// id is appended as the final path segment.
const DefaultPredictionEndpoint = "https://prediction.cmab.optimizely.com/predict"

const defaultRequestTimeout = 10 * time.Second

type predictionRequest struct {
	Instances []predictionInstance `json:"instances"`
}

type predictionInstance struct {
	VisitorID    string                `json:"visitorId"`
	ExperimentID string                `json:"experimentId"`
	Attributes   []predictionAttribute `json:"attributes"`
	CmabUUID     string                `json:"cmabUUID"`
}

type predictionAttribute struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
	Type  string `json:"type"`
}

type predictionResponse struct {
	Predictions []struct {
		VariationID string `json:"variation_id"`
	} `json:"predictions"`
}

// Client fetches bandit variation predictions over HTTP with retry.
type Client struct {
	httpClient *http.Client
	endpoint   string
	strategy   retry.Strategy
	log        *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithEndpoint overrides the prediction endpoint.
func WithEndpoint(endpoint string) ClientOption {
	return func(c *Client) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithRetryStrategy overrides the retry policy.
func WithRetryStrategy(strategy retry.Strategy) ClientOption {
	return func(c *Client) {
		c.strategy = strategy
	}
}

// WithLogger sets the client's logger.
func WithLogger(log *slog.Logger) ClientOption {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// NewClient creates a prediction client with the shared retry defaults.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		endpoint:   DefaultPredictionEndpoint,
		strategy:   retry.NewStrategy(),
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchDecision requests a variation prediction for the user on the given
// rule. Network and non-2xx failures are retried per the retry policy;
// malformed response bodies fail immediately.
func (c *Client) FetchDecision(ctx context.Context, ruleID, userID string, attributes map[string]any, cmabUUID string) (string, error) {
	predictionAttrs := make([]predictionAttribute, 0, len(attributes))
	for key, value := range attributes {
		predictionAttrs = append(predictionAttrs, predictionAttribute{
			ID:    key,
			Value: value,
			Type:  "custom_attribute",
		})
	}

	body, err := json.Marshal(predictionRequest{
		Instances: []predictionInstance{{
			VisitorID:    userID,
			ExperimentID: ruleID,
			Attributes:   predictionAttrs,
			CmabUUID:     cmabUUID,
		}},
	})
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %w", ErrFetchFailed, err)
	}

	url := c.endpoint + "/" + ruleID
	if strings.HasSuffix(c.endpoint, "/") {
		url = c.endpoint + ruleID
	}

	var lastErr error
	for attempt := 0; c.strategy.ShouldRetry(attempt); attempt++ {
		if delay := c.strategy.Delay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(delay):
			}
		}

		variationID, err := c.doFetch(ctx, url, body)
		if err == nil {
			return variationID, nil
		}
		if errors.Is(err, ErrInvalidResponse) {
			return "", err
		}

		c.log.Error("cmab fetch attempt failed", "ruleId", ruleID, "attempt", attempt, "error", err)
		lastErr = err
	}

	return "", fmt.Errorf("%w: %w", ErrRetriesExhausted, lastErr)
}

func (c *Client) doFetch(ctx context.Context, url string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: http status %d", ErrFetchFailed, resp.StatusCode)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	var prediction predictionResponse
	if err := json.Unmarshal(respBody, &prediction); err != nil {
		return "", ErrInvalidResponse
	}
	if len(prediction.Predictions) == 0 || prediction.Predictions[0].VariationID == "" {
		return "", ErrInvalidResponse
	}
	return prediction.Predictions[0].VariationID, nil
}
