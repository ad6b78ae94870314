package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// OpenOceanClient OpenOcean aggregator API client. Tried last in the
// router: covers long-tail pairs the primary aggregator has no route for.
type OpenOceanClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOpenOceanClient creates a new OpenOcean client
func NewOpenOceanClient(baseURL string) *OpenOceanClient {
	if baseURL == "" {
		baseURL = "https://open-api.openocean.finance/v4"
	}
	return &OpenOceanClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// OpenOceanSwapRequest represents a swap quote request
type OpenOceanSwapRequest struct {
	ChainID         int64  `json:"chainId"`
	InTokenAddress  string `json:"inTokenAddress"`
	OutTokenAddress string `json:"outTokenAddress"`
	Amount          string `json:"amount"` // base units
	GasPrice        string `json:"gasPrice"`
	Slippage        string `json:"slippage"` // percent, e.g. "1"
	Account         string `json:"account"`
}

// OpenOceanSwapResponse represents a swap quote response
type OpenOceanSwapResponse struct {
	Code int    `json:"code"`
	Data struct {
		InAmount     string `json:"inAmount"`
		OutAmount    string `json:"outAmount"`
		MinOutAmount string `json:"minOutAmount"`
		To           string `json:"to"`
		Data         string `json:"data"`
		Value        string `json:"value"`
		EstimatedGas uint64 `json:"estimatedGas"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// GetSwap gets an executable swap transaction
func (c *OpenOceanClient) GetSwap(ctx context.Context, req *OpenOceanSwapRequest) (*OpenOceanSwapResponse, error) {
	params := url.Values{}
	params.Add("inTokenAddress", req.InTokenAddress)
	params.Add("outTokenAddress", req.OutTokenAddress)
	params.Add("amountDecimals", req.Amount)
	params.Add("gasPriceDecimals", req.GasPrice)
	params.Add("slippage", req.Slippage)
	params.Add("account", req.Account)

	reqURL := fmt.Sprintf("%s/%d/swap?%s", c.baseURL, req.ChainID, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("openocean", resp); err != nil {
		return nil, err
	}

	var swapResp OpenOceanSwapResponse
	if err := json.NewDecoder(resp.Body).Decode(&swapResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if swapResp.Code != 200 {
		if swapResp.Error != "" {
			return nil, fmt.Errorf("%w: openocean: %s", ErrNoRoute, swapResp.Error)
		}
		return nil, fmt.Errorf("%w: openocean code %d", ErrNoRoute, swapResp.Code)
	}
	if swapResp.Data.OutAmount == "" || swapResp.Data.OutAmount == "0" {
		return nil, ErrNoRoute
	}
	return &swapResp, nil
}
