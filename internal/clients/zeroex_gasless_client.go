package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ZeroExGaslessClient 0x gasless API client. The taker signs a permit
// off-chain and 0x settlement pays gas, so the deposit wallet needs no
// native balance for this path.
type ZeroExGaslessClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewZeroExGaslessClient creates a new 0x gasless client
func NewZeroExGaslessClient(baseURL, apiKey string) *ZeroExGaslessClient {
	if baseURL == "" {
		baseURL = "https://api.0x.org"
	}
	return &ZeroExGaslessClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GaslessQuoteRequest represents a gasless quote request
type GaslessQuoteRequest struct {
	ChainID    int64  `json:"chainId"`
	SellToken  string `json:"sellToken"`
	BuyToken   string `json:"buyToken"`
	SellAmount string `json:"sellAmount"`
	Taker      string `json:"taker"`
}

// GaslessQuoteResponse represents a gasless quote response
type GaslessQuoteResponse struct {
	LiquidityAvailable bool   `json:"liquidityAvailable"`
	BuyAmount          string `json:"buyAmount"`
	MinBuyAmount       string `json:"minBuyAmount"`
	SellAmount         string `json:"sellAmount"`
	Approval           *struct {
		Type    string          `json:"type"`
		Hash    string          `json:"hash"`
		EIP712  json.RawMessage `json:"eip712"`
	} `json:"approval,omitempty"`
	Trade struct {
		Type   string          `json:"type"`
		Hash   string          `json:"hash"`
		EIP712 json.RawMessage `json:"eip712"`
	} `json:"trade"`
}

// GaslessSubmitRequest submits the signed trade (and approval) payloads
type GaslessSubmitRequest struct {
	ChainID  int64                 `json:"chainId"`
	Trade    GaslessSignedPayload  `json:"trade"`
	Approval *GaslessSignedPayload `json:"approval,omitempty"`
}

// GaslessSignedPayload one signed EIP-712 object
type GaslessSignedPayload struct {
	Type      string          `json:"type"`
	EIP712    json.RawMessage `json:"eip712"`
	Signature struct {
		R             string `json:"r"`
		S             string `json:"s"`
		V             int    `json:"v"`
		SignatureType int    `json:"signatureType"`
	} `json:"signature"`
}

// GaslessSubmitResponse response from the submit endpoint
type GaslessSubmitResponse struct {
	Type      string `json:"type"`
	TradeHash string `json:"tradeHash"`
}

// GaslessStatusResponse settlement status of a submitted trade
type GaslessStatusResponse struct {
	Status       string `json:"status"` // pending, submitted, confirmed, failed
	Transactions []struct {
		Hash      string `json:"hash"`
		Timestamp int64  `json:"timestamp"`
	} `json:"transactions"`
	Reason string `json:"reason,omitempty"`
}

// GetQuote gets a gasless quote
func (c *ZeroExGaslessClient) GetQuote(ctx context.Context, req *GaslessQuoteRequest) (*GaslessQuoteResponse, error) {
	params := url.Values{}
	params.Add("chainId", fmt.Sprintf("%d", req.ChainID))
	params.Add("sellToken", req.SellToken)
	params.Add("buyToken", req.BuyToken)
	params.Add("sellAmount", req.SellAmount)
	params.Add("taker", req.Taker)

	reqURL := fmt.Sprintf("%s/gasless/quote?%s", c.baseURL, params.Encode())

	var quote GaslessQuoteResponse
	if err := c.doGet(ctx, reqURL, &quote); err != nil {
		return nil, err
	}
	if !quote.LiquidityAvailable {
		return nil, ErrNoRoute
	}
	return &quote, nil
}

// Submit submits a signed gasless trade
func (c *ZeroExGaslessClient) Submit(ctx context.Context, req *GaslessSubmitRequest) (*GaslessSubmitResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/gasless/submit", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("0x-gasless", resp); err != nil {
		return nil, err
	}

	var submitResp GaslessSubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&submitResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &submitResp, nil
}

// GetStatus polls settlement status for a trade hash
func (c *ZeroExGaslessClient) GetStatus(ctx context.Context, chainID int64, tradeHash string) (*GaslessStatusResponse, error) {
	reqURL := fmt.Sprintf("%s/gasless/status/%s?chainId=%d", c.baseURL, tradeHash, chainID)
	var status GaslessStatusResponse
	if err := c.doGet(ctx, reqURL, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *ZeroExGaslessClient) doGet(ctx context.Context, reqURL string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("0x-gasless", resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *ZeroExGaslessClient) setHeaders(req *http.Request) {
	req.Header.Set("0x-api-key", c.apiKey)
	req.Header.Set("0x-version", "v2")
}

// checkStatus maps provider HTTP status codes onto the router's error
// taxonomy: 429 is rate limiting, 404 is no route, anything else non-2xx
// is an APIError.
func checkStatus(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, provider)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNoRoute, provider)
	}
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}
