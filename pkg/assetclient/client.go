/**
 * @description
 * This package provides a client for the external asset-custody API: the
 * capability that actually moves value of the configured asset into and out of
 * the ledger's custody, and reports custody balances. It encapsulates the logic
 * for making authenticated HTTP requests, handling request body construction,
 * and parsing responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package assetclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the asset-custody API. Each deployment is scoped to
// exactly one asset contract.
type Client struct {
	BaseURL    string
	APIKey     string
	Asset      string
	HTTPClient *http.Client
}

// NewClient creates a new asset-custody API client for one asset contract.
func NewClient(baseURL, apiKey, asset string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Asset:   asset,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// TransferRequest is the payload for both custody transfer directions.
type TransferRequest struct {
	Asset     string `json:"asset"`
	Direction string `json:"direction"` // "in" or "out"
	Holder    string `json:"holder"`
	Amount    int64  `json:"amount"`
}

// TransferResponse is the expected response from the custody transfer endpoint.
type TransferResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// ErrorResponse represents an error from the custody API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("custody api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown custody api error"
}

// BalanceResponse represents a holder's custody balance of the configured asset.
type BalanceResponse struct {
	Data struct {
		Balance int64 `json:"balance"`
	} `json:"data"`
}

// TransferIn pulls the given amount of the configured asset from the holder
// into ledger custody.
func (c *Client) TransferIn(ctx context.Context, holder string, amount int64) (*TransferResponse, error) {
	return c.doTransfer(ctx, TransferRequest{
		Asset:     c.Asset,
		Direction: "in",
		Holder:    holder,
		Amount:    amount,
	})
}

// TransferOut pushes the given amount of the configured asset from ledger
// custody to the holder.
func (c *Client) TransferOut(ctx context.Context, holder string, amount int64) (*TransferResponse, error) {
	return c.doTransfer(ctx, TransferRequest{
		Asset:     c.Asset,
		Direction: "out",
		Holder:    holder,
		Amount:    amount,
	})
}

// doTransfer is a generic helper function to execute transfer requests.
func (c *Client) doTransfer(ctx context.Context, payload TransferRequest) (*TransferResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/api/v1/transfers", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-custody-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=asset_client op=transfer direction=%s status=%d msg=\"non-2xx response (unparsable error body)\"", payload.Direction, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=asset_client op=transfer direction=%s status=%d title=%q", payload.Direction, resp.StatusCode, firstErrorTitle(errResp))
		return nil, &errResp
	}

	var successResp TransferResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}

	return &successResp, nil
}

// BalanceOf fetches a holder's custody balance of the configured asset.
func (c *Client) BalanceOf(ctx context.Context, holder string) (int64, error) {
	url := c.BaseURL + "/api/v1/balances/" + c.Asset + "/" + holder

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create balance request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-custody-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to execute balance request: %w", err)
	}
	defer resp.Body.Close()
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=asset_client op=balance_of holder=%s status=%d msg=\"non-2xx response (unparsable error body)\"", holder, resp.StatusCode)
			return 0, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=asset_client op=balance_of holder=%s status=%d title=%q", holder, resp.StatusCode, firstErrorTitle(errResp))
		return 0, &errResp
	}

	var balanceResp BalanceResponse
	if err := json.Unmarshal(bodyBytes, &balanceResp); err != nil {
		return 0, fmt.Errorf("failed to decode balance response: %w", err)
	}

	return balanceResp.Data.Balance, nil
}

func firstErrorTitle(resp ErrorResponse) string {
	if len(resp.Errors) == 0 {
		return ""
	}
	return resp.Errors[0].Title
}
