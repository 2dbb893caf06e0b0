// Package affinity provides clients for a drug–target binding affinity
// prediction service.
package affinity

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/affinity-cli/internal/resilience"
)

// Client predicts binding affinity for one compound/protein pair.
type Client interface {
	// Predict returns the predicted pK and confidence for a SMILES string
	// and an amino-acid sequence.
	Predict(ctx context.Context, smiles, sequence string) (*Prediction, error)
}

// Prediction is the predictor's answer for one pair.
type Prediction struct {
	PK           float64         `json:"pk"`
	Confidence   float64         `json:"confidence"`
	DrugLikeness *float64        `json:"drug_likeness,omitempty"`
	Explanation  json.RawMessage `json:"explanation,omitempty"`
}

type predictRequest struct {
	SMILES   string `json:"smiles"`
	Sequence string `json:"sequence"`
}

type predictResponse struct {
	PK           *float64        `json:"pk"`
	Confidence   *float64        `json:"confidence"`
	DrugLikeness *float64        `json:"drug_likeness"`
	Explanation  json.RawMessage `json:"explanation"`
}

// CircuitStatus describes the circuit breaker in front of the prediction
// service.
type CircuitStatus struct {
	State    string `json:"state"`
	Failures int    `json:"failures"`
}

// CircuitReporter is implemented by clients that guard the backend with a
// circuit breaker.
type CircuitReporter interface {
	Circuit() CircuitStatus
}

// Option configures the HTTP client.
type Option func(*httpClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps request rate. perSecond <= 0 disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = resilience.NewLimiter(perSecond, burst)
	}
}

// WithBreaker replaces the default circuit breaker settings.
func WithBreaker(cfg resilience.BreakerConfig) Option {
	return func(c *httpClient) {
		cfg.Name = "affinity"
		c.breaker = resilience.NewBreaker(cfg)
	}
}

// WithRetry enables retries of transient failures.
func WithRetry(b resilience.Backoff) Option {
	return func(c *httpClient) {
		b.Label = "affinity.predict"
		c.backoff = b
	}
}

type httpClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *resilience.Limiter
	breaker *resilience.Breaker
	backoff resilience.Backoff
}

// NewClient creates a client for the prediction service at baseURL.
// apiKey is sent as a bearer token when non-empty.
func NewClient(baseURL, apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: resilience.NewLimiter(0, 0),
		breaker: resilience.NewBreaker(resilience.BreakerConfig{Name: "affinity"}),
		backoff: resilience.Backoff{Attempts: 1, Label: "affinity.predict"},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Circuit reports the breaker state and its consecutive failure count.
func (c *httpClient) Circuit() CircuitStatus {
	return CircuitStatus{State: c.breaker.State().String(), Failures: c.breaker.Failures()}
}

func (c *httpClient) Predict(ctx context.Context, smiles, sequence string) (*Prediction, error) {
	payload, err := json.Marshal(predictRequest{SMILES: smiles, Sequence: sequence})
	if err != nil {
		return nil, eris.Wrap(err, "affinity: marshal request")
	}

	return resilience.Call(ctx, c.breaker, func(ctx context.Context) (*Prediction, error) {
		return resilience.Retry(ctx, c.backoff, func(ctx context.Context) (*Prediction, error) {
			return c.post(ctx, payload)
		})
	})
}

func (c *httpClient) post(ctx context.Context, payload []byte) (*Prediction, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "affinity: rate limit wait")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/predict", bytes.NewReader(payload))
	if err != nil {
		return nil, eris.Wrap(err, "affinity: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "affinity: request failed")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resilience.Transient(eris.Wrap(err, "affinity: read response body"), resp.StatusCode)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.limiter.Throttled()
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := eris.Errorf("affinity: unexpected status %d: %s", resp.StatusCode, errorMessage(body))
		if resilience.IsTransientStatus(resp.StatusCode) {
			return nil, resilience.Transient(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}
	c.limiter.Succeeded()

	var out predictResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, eris.Wrap(err, "affinity: unmarshal response")
	}
	if out.PK == nil || out.Confidence == nil {
		return nil, eris.New("affinity: response missing pk or confidence")
	}
	return &Prediction{
		PK:           *out.PK,
		Confidence:   *out.Confidence,
		DrugLikeness: out.DrugLikeness,
		Explanation:  out.Explanation,
	}, nil
}

// errorMessage extracts a short message from an error response body.
func errorMessage(body []byte) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	if s == "" {
		return "empty body"
	}
	return s
}
