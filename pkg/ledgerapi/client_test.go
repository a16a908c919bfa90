package ledgerapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL+"/"), WithRateLimit(0, 0))
}

func TestGetProduct_Success(t *testing.T) {
	t.Parallel()

	want := Product{
		ID:           "p-1",
		Manufacturer: "0xmaker",
		CurrentOwner: "0xshop",
		Status:       2,
		RegisteredAt: 1767225600,
		MetadataURI:  "ipfs://meta",
		Exists:       true,
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "/v1/products/p-1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(want) //nolint:errcheck
	})

	got, err := c.GetProduct(context.Background(), "p-1")
	require.NoError(t, err)
	assert.Equal(t, want, *got)
}

func TestGetProduct_EscapesID(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/products/a%2Fb", r.URL.RawPath)
		w.Write([]byte(`{"exists":false}`)) //nolint:errcheck
	})

	got, err := c.GetProduct(context.Background(), "a/b")
	require.NoError(t, err)
	assert.False(t, got.Exists)
}

func TestEventLists(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/products/p-1/history":
			w.Write([]byte(`{"data":[{"from":"0xa","to":"0xb","timestamp":100,"location":"Verification Node","verificationHash":"0xh"}]}`)) //nolint:errcheck
		case "/v1/products/p-1/verifications":
			w.Write([]byte(`{"data":[{"requestId":"7","productId":"p-1","verifier":"0xv","result":true,"fee":"1000","timestamp":200}]}`)) //nolint:errcheck
		case "/v1/products/p-1/disputes":
			w.Write([]byte(`{"data":[{"disputeId":"3","status":1,"createdAt":300,"resolvedAt":400,"votesFor":2}]}`)) //nolint:errcheck
		case "/v1/products/p-1/attestations":
			w.Write([]byte(`{"data":[]}`)) //nolint:errcheck
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	history, err := c.GetProductHistory(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Verification Node", history[0].Location)
	assert.Equal(t, "0xh", history[0].VerificationHash)

	verifs, err := c.Verifications(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, verifs, 1)
	assert.True(t, verifs[0].Result)
	assert.Equal(t, "1000", verifs[0].Fee)

	disputes, err := c.Disputes(ctx, "p-1")
	require.NoError(t, err)
	require.Len(t, disputes, 1)
	assert.Equal(t, 1, disputes[0].Status)
	assert.Equal(t, uint64(2), disputes[0].VotesFor)

	atts, err := c.Attestations(ctx, "p-1")
	require.NoError(t, err)
	assert.Empty(t, atts)
}

func TestReputation(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/reputation/0xshop", r.URL.Path)
		w.Write([]byte(`{"identity":"0xshop","score":900}`)) //nolint:errcheck
	})

	got, err := c.Reputation(context.Background(), "0xshop")
	require.NoError(t, err)
	assert.InDelta(t, 900.0, got.Score, 1e-9)
}

func TestAPIError(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "indexer behind", http.StatusServiceUnavailable)
	})

	_, err := c.GetProductHistory(context.Background(), "p-1")
	require.Error(t, err)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "indexer behind", apiErr.Body)
	assert.Contains(t, err.Error(), "ledgerapi: status 503")
}

func TestMalformedBody(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data": [`)) //nolint:errcheck
	})

	_, err := c.Disputes(context.Background(), "p-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ledgerapi: decode /v1/products/p-1/disputes")
}

func TestNoAPIKey(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.Write([]byte(`{"exists":true}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := NewClient("", WithBaseURL(srv.URL))
	_, err := c.GetProduct(context.Background(), "p-1")
	require.NoError(t, err)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"data":[]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	// One token, refilled every 10 seconds: the second call must wait.
	c := NewClient("k", WithBaseURL(srv.URL), WithRateLimit(0.1, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.Attestations(ctx, "p-1")
	require.NoError(t, err)
	_, err = c.Attestations(ctx, "p-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit wait")
	assert.Equal(t, int32(1), calls.Load())
}

func TestContextCanceled(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`)) //nolint:errcheck
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.GetProduct(ctx, "p-1")
	require.Error(t, err)
}
