// Package ledgerapi provides a client for the ledger gateway REST API, an
// indexer that serves the provenance contract's product views and event logs.
package ledgerapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Client defines the ledger gateway read operations.
type Client interface {
	// GetProduct returns the product view. Unknown ids come back with
	// Exists=false rather than an error, matching the contract.
	GetProduct(ctx context.Context, productID string) (*Product, error)
	// GetProductHistory returns the custody transfer history.
	GetProductHistory(ctx context.Context, productID string) ([]Transfer, error)
	// Verifications returns verification-attempt log entries.
	Verifications(ctx context.Context, productID string) ([]Verification, error)
	// Disputes returns dispute log entries.
	Disputes(ctx context.Context, productID string) ([]Dispute, error)
	// Attestations returns oracle attestation log entries.
	Attestations(ctx context.Context, productID string) ([]Attestation, error)
	// Reputation returns the 0-1000 reputation of an identity.
	Reputation(ctx context.Context, identity string) (*Reputation, error)
}

// Product is the getProduct view. Status is the contract's enum ordinal.
type Product struct {
	ID           string `json:"id"`
	Manufacturer string `json:"manufacturer"`
	CurrentOwner string `json:"currentOwner"`
	Status       int    `json:"status"`
	RegisteredAt int64  `json:"registeredAt"`
	MetadataURI  string `json:"metadataURI"`
	Exists       bool   `json:"exists"`
}

// Transfer is one custody transfer.
type Transfer struct {
	From             string `json:"from"`
	To               string `json:"to"`
	Timestamp        int64  `json:"timestamp"`
	Location         string `json:"location"`
	VerificationHash string `json:"verificationHash"`
}

// Verification is a VerificationCompleted log entry.
type Verification struct {
	RequestID string `json:"requestId"`
	ProductID string `json:"productId"`
	Verifier  string `json:"verifier"`
	Result    bool   `json:"result"`
	Requester string `json:"requester"`
	Fee       string `json:"fee"`
	Timestamp int64  `json:"timestamp"`
}

// Dispute is a dispute log entry. Status is the contract's enum ordinal.
type Dispute struct {
	DisputeID    string `json:"disputeId"`
	ProductID    string `json:"productId"`
	Initiator    string `json:"initiator"`
	Respondent   string `json:"respondent"`
	Description  string `json:"description"`
	Status       int    `json:"status"`
	CreatedAt    int64  `json:"createdAt"`
	ResolvedAt   int64  `json:"resolvedAt"`
	VotesFor     uint64 `json:"votesFor"`
	VotesAgainst uint64 `json:"votesAgainst"`
}

// Attestation is an oracle attestation log entry.
type Attestation struct {
	RequestID   string  `json:"requestId"`
	ProductID   string  `json:"productId"`
	Signer      string  `json:"signer"`
	Verdict     bool    `json:"verdict"`
	Weight      float64 `json:"weight"`
	EvidenceURI string  `json:"evidenceURI"`
	Timestamp   int64   `json:"timestamp"`
}

// Reputation is a counterparty reputation score.
type Reputation struct {
	Identity string  `json:"identity"`
	Score    float64 `json:"score"`
}

// listResponse wraps every event-log endpoint.
type listResponse[T any] struct {
	Data []T `json:"data"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledgerapi: status %d: %s", e.StatusCode, e.Body)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL sets the gateway base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		c.http.Timeout = d
	}
}

// WithRateLimit sets the requests-per-second limit. A non-positive rps
// disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a new ledger gateway client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: "http://localhost:8545",
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(10, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// get issues one GET and decodes a 200 body into out. It does not retry;
// callers decide which APIErrors are worth another attempt.
func (c *httpClient) get(ctx context.Context, path string, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "ledgerapi: rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return eris.Wrap(err, "ledgerapi: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "ledgerapi: GET %s", path)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "ledgerapi: read response body")
	}
	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrapf(err, "ledgerapi: decode %s", path)
	}
	return nil
}

func productPath(productID, suffix string) string {
	return "/v1/products/" + url.PathEscape(productID) + suffix
}

func (c *httpClient) GetProduct(ctx context.Context, productID string) (*Product, error) {
	var p Product
	if err := c.get(ctx, productPath(productID, ""), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *httpClient) GetProductHistory(ctx context.Context, productID string) ([]Transfer, error) {
	return getList[Transfer](ctx, c, productPath(productID, "/history"))
}

func (c *httpClient) Verifications(ctx context.Context, productID string) ([]Verification, error) {
	return getList[Verification](ctx, c, productPath(productID, "/verifications"))
}

func (c *httpClient) Disputes(ctx context.Context, productID string) ([]Dispute, error) {
	return getList[Dispute](ctx, c, productPath(productID, "/disputes"))
}

func (c *httpClient) Attestations(ctx context.Context, productID string) ([]Attestation, error) {
	return getList[Attestation](ctx, c, productPath(productID, "/attestations"))
}

func (c *httpClient) Reputation(ctx context.Context, identity string) (*Reputation, error) {
	var r Reputation
	if err := c.get(ctx, "/v1/reputation/"+url.PathEscape(identity), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func getList[T any](ctx context.Context, c *httpClient, path string) ([]T, error) {
	var resp listResponse[T]
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}
