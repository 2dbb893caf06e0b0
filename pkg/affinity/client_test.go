package affinity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/affinity-cli/internal/resilience"
)

func TestPredict_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "CCO", req.SMILES)
		assert.Equal(t, "MKTAYIAK", req.Sequence)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"pk": 7.25, "confidence": 0.82, "drug_likeness": 0.6, "explanation": {"top_residues": [12, 40]}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "test-key")
	got, err := client.Predict(context.Background(), "CCO", "MKTAYIAK")

	require.NoError(t, err)
	assert.Equal(t, 7.25, got.PK)
	assert.Equal(t, 0.82, got.Confidence)
	require.NotNil(t, got.DrugLikeness)
	assert.Equal(t, 0.6, *got.DrugLikeness)
	assert.JSONEq(t, `{"top_residues": [12, 40]}`, string(got.Explanation))
}

func TestPredict_NoAuthHeaderWithoutKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"pk": 5, "confidence": 0.5}`))
	}))
	defer srv.Close()

	got, err := NewClient(srv.URL, "").Predict(context.Background(), "C", "M")
	require.NoError(t, err)
	assert.Nil(t, got.DrugLikeness)
	assert.Empty(t, got.Explanation)
}

func TestPredict_ClientErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error": "could not parse SMILES"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", WithRetry(resilience.Backoff{Attempts: 3, Initial: time.Millisecond}))
	_, err := client.Predict(context.Background(), "C1CC", "M")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "could not parse SMILES")
	assert.False(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPredict_RetriesTransientWhenEnabled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"pk": 6.1, "confidence": 0.7}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", WithRetry(resilience.Backoff{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}))
	got, err := client.Predict(context.Background(), "C", "M")

	require.NoError(t, err)
	assert.Equal(t, 6.1, got.PK)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPredict_NoRetryByDefault(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Predict(context.Background(), "C", "M")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream down")
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestPredict_RateLimitedLowersRate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", WithRateLimit(100, 10)).(*httpClient)
	_, err := c.Predict(context.Background(), "C", "M")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Equal(t, 50.0, float64(c.limiter.Rate()))
}

func TestPredict_InvalidJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Predict(context.Background(), "C", "M")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal response")
}

func TestPredict_MissingFields(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"pk": 4.2}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "").Predict(context.Background(), "C", "M")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing pk or confidence")
}

func TestPredict_BreakerOpensOnUnreachableBackend(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := NewClient(url, "", WithBreaker(resilience.BreakerConfig{Threshold: 2, Cooldown: time.Minute}))
	for i := 0; i < 2; i++ {
		_, err := client.Predict(context.Background(), "C", "M")
		require.Error(t, err)
	}

	_, err := client.Predict(context.Background(), "C", "M")
	assert.True(t, errors.Is(err, resilience.ErrOpen))

	status := client.(CircuitReporter).Circuit()
	assert.Equal(t, "open", status.State)
	assert.Equal(t, 2, status.Failures)
}

func TestPredict_ContextCancelled(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewClient(srv.URL, "").Predict(ctx, "C", "M")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline exceeded")
}

func TestErrorMessage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bad", errorMessage([]byte(`{"error":"bad"}`)))
	assert.Equal(t, "worse", errorMessage([]byte(`{"message":"worse"}`)))
	assert.Equal(t, "empty body", errorMessage(nil))
	long := make([]byte, 300)
	for i := range long {
		long[i] = 'x'
	}
	assert.Len(t, errorMessage(long), 203)
}
