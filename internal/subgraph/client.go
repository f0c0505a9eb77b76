// Package subgraph fetches trade, transfer, greeks-snapshot, and strike
// data from the venue's GraphQL indexer. All queries page with a cursor
// ordered ascending, so a fetch is a full historical sync up to the
// indexer head; callers window the result themselves.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/derivex/rewards-engine/internal/markets"
)

const (
	defaultPageSize = 1000

	// The hosted indexer throttles around 30 req/s per key; stay under it.
	requestsPerSec = 20
)

// Client is a read-only GraphQL client for the options indexer. The
// registry resolves the contract addresses embedded in composite entity
// IDs to market names.
type Client struct {
	url      string
	http     *http.Client
	limiter  *rate.Limiter
	registry *markets.Registry
	pageSize int
}

// NewClient builds a client against the given GraphQL endpoint URL.
func NewClient(url string, registry *markets.Registry) *Client {
	return &Client{
		url:      url,
		http:     &http.Client{Timeout: 30 * time.Second},
		limiter:  rate.NewLimiter(requestsPerSec, 5),
		registry: registry,
		pageSize: defaultPageSize,
	}
}

type graphQLRequest struct {
	Query string `json:"query"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// query POSTs one GraphQL document and decodes the data envelope into out.
func (c *Client) query(ctx context.Context, q string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("subgraph: rate limiter: %w", err)
	}

	body, err := json.Marshal(graphQLRequest{Query: q})
	if err != nil {
		return fmt.Errorf("subgraph: marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("subgraph: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("subgraph: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("subgraph: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var envelope graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("subgraph: decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("subgraph: graphql error: %s", envelope.Errors[0].Message)
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("subgraph: decode data: %w", err)
	}
	return nil
}

// flexInt decodes an int64 the indexer may emit as a JSON number or string.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("subgraph: integer field %q: %w", s, err)
	}
	*f = flexInt(v)
	return nil
}

// parseWad decodes an 18-decimal fixed-point string into a decimal value.
func parseWad(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("subgraph: fixed-point field %q: %w", s, err)
	}
	return d.Shift(-18), nil
}

