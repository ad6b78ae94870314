package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// ZeroExSwapClient 0x allowance-holder swap API client. Returns an
// executable transaction the wallet signs and broadcasts itself, so the
// wallet needs gas and an ERC-20 approval first.
type ZeroExSwapClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewZeroExSwapClient creates a new 0x swap client
func NewZeroExSwapClient(baseURL, apiKey string) *ZeroExSwapClient {
	if baseURL == "" {
		baseURL = "https://api.0x.org"
	}
	return &ZeroExSwapClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SwapQuoteRequest represents a swap quote request
type SwapQuoteRequest struct {
	ChainID     int64  `json:"chainId"`
	SellToken   string `json:"sellToken"`
	BuyToken    string `json:"buyToken"`
	SellAmount  string `json:"sellAmount"`
	Taker       string `json:"taker"`
	SlippageBps int    `json:"slippageBps"`
}

// SwapQuoteResponse represents a swap quote response
type SwapQuoteResponse struct {
	LiquidityAvailable bool   `json:"liquidityAvailable"`
	BuyAmount          string `json:"buyAmount"`
	MinBuyAmount       string `json:"minBuyAmount"`
	SellAmount         string `json:"sellAmount"`
	Transaction        struct {
		To       string `json:"to"`
		Data     string `json:"data"`
		Value    string `json:"value"`
		Gas      string `json:"gas"`
		GasPrice string `json:"gasPrice"`
	} `json:"transaction"`
	Issues struct {
		Allowance *struct {
			Actual  string `json:"actual"`
			Spender string `json:"spender"`
		} `json:"allowance,omitempty"`
		Balance *struct {
			Token    string `json:"token"`
			Actual   string `json:"actual"`
			Expected string `json:"expected"`
		} `json:"balance,omitempty"`
	} `json:"issues"`
}

// GetQuote gets an executable swap quote
func (c *ZeroExSwapClient) GetQuote(ctx context.Context, req *SwapQuoteRequest) (*SwapQuoteResponse, error) {
	params := url.Values{}
	params.Add("chainId", fmt.Sprintf("%d", req.ChainID))
	params.Add("sellToken", req.SellToken)
	params.Add("buyToken", req.BuyToken)
	params.Add("sellAmount", req.SellAmount)
	params.Add("taker", req.Taker)
	if req.SlippageBps > 0 {
		params.Add("slippageBps", fmt.Sprintf("%d", req.SlippageBps))
	}

	reqURL := fmt.Sprintf("%s/swap/allowance-holder/quote?%s", c.baseURL, params.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("0x-api-key", c.apiKey)
	httpReq.Header.Set("0x-version", "v2")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("0x-swap", resp); err != nil {
		return nil, err
	}

	var quote SwapQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&quote); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !quote.LiquidityAvailable {
		return nil, ErrNoRoute
	}
	return &quote, nil
}
