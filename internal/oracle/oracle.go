// Package oracle is a thin HTTP client for the settlement-price oracle the
// expired-position reconciler attests against (spec.md §4.6). The oracle
// service itself, and the attestation scheme it signs with, are external
// collaborators outside this repository's scope (spec.md §1); this client
// only knows how to ask one for a price and parse its answer into
// internal/domain.OracleAttestation.
package oracle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/lnperp/coordinator/internal/domain"
)

// Client calls a configured oracle HTTP endpoint for a contract's
// settlement attestation.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

type attestationResponse struct {
	Price     decimal.Decimal `json:"price"`
	Timestamp int64           `json:"timestamp"`
	OraclePub string          `json:"oracle_pubkey"`
}

// Attest fetches the attestation for contractID, satisfying
// reconcile.OracleClient.
func (c *Client) Attest(ctx context.Context, contractID []byte) (domain.OracleAttestation, error) {
	url := fmt.Sprintf("%s/attest/%s", c.baseURL, hex.EncodeToString(contractID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.OracleAttestation{}, fmt.Errorf("oracle: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.OracleAttestation{}, fmt.Errorf("oracle: request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.OracleAttestation{}, fmt.Errorf("oracle: %s: status %d", url, resp.StatusCode)
	}

	var body attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.OracleAttestation{}, fmt.Errorf("oracle: decode response: %w", err)
	}

	pub, err := hex.DecodeString(body.OraclePub)
	if err != nil {
		return domain.OracleAttestation{}, fmt.Errorf("oracle: decode pubkey: %w", err)
	}

	return domain.OracleAttestation{
		ContractID: contractID,
		Price:      body.Price,
		Timestamp:  time.UnixMilli(body.Timestamp),
		OraclePub:  pub,
	}, nil
}

type markPriceResponse struct {
	Price decimal.Decimal `json:"price"`
}

// MarkPrice fetches the oracle's current quote for sym, satisfying
// reconcile.MarkPriceSource. A dedicated mark-price feed is an external
// collaborator outside this repository's scope (spec.md §1); the oracle's
// running quote is the closest available proxy, and is the same price
// source the expired-position closer eventually attests with at expiry.
func (c *Client) MarkPrice(ctx context.Context, sym domain.ContractSymbol) (decimal.Decimal, error) {
	url := fmt.Sprintf("%s/mark/%s", c.baseURL, sym)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("oracle: request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("oracle: %s: status %d", url, resp.StatusCode)
	}

	var body markPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("oracle: decode response: %w", err)
	}
	return body.Price, nil
}
