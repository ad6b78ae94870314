package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PaystackClient bank transfer provider client. Transfers are keyed by a
// caller-supplied reference, which Paystack deduplicates server-side.
type PaystackClient struct {
	baseURL    string
	secretKey  string
	httpClient *http.Client
}

// NewPaystackClient creates a new Paystack client
func NewPaystackClient(baseURL, secretKey string, timeout time.Duration) *PaystackClient {
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &PaystackClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// RecipientRequest creates a transfer recipient for a NUBAN account
type RecipientRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Currency      string `json:"currency"`
}

// RecipientResponse recipient creation response
type RecipientResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		RecipientCode string `json:"recipient_code"`
		Active        bool   `json:"active"`
	} `json:"data"`
}

// TransferRequest initiates a transfer from the Paystack balance
type TransferRequest struct {
	Source    string `json:"source"`
	Amount    int64  `json:"amount"` // kobo
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
	Reference string `json:"reference"`
	Currency  string `json:"currency"`
}

// TransferResponse transfer initiation response
type TransferResponse struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Reference    string `json:"reference"`
		TransferCode string `json:"transfer_code"`
		Status       string `json:"status"` // pending, success, failed, reversed
		Amount       int64  `json:"amount"`
	} `json:"data"`
}

// CreateRecipient registers a verified bank account and returns its
// recipient code.
func (c *PaystackClient) CreateRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	req := RecipientRequest{
		Type:          "nuban",
		Name:          name,
		AccountNumber: accountNumber,
		BankCode:      bankCode,
		Currency:      "NGN",
	}

	var resp RecipientResponse
	if err := c.post(ctx, "/transferrecipient", req, &resp); err != nil {
		return "", err
	}
	if !resp.Status || resp.Data.RecipientCode == "" {
		return "", fmt.Errorf("paystack recipient creation failed: %s", resp.Message)
	}
	return resp.Data.RecipientCode, nil
}

// InitiateTransfer sends NGN to a recipient. Amount is in kobo.
// Re-submitting the same reference does not create a second transfer.
func (c *PaystackClient) InitiateTransfer(ctx context.Context, amountKobo int64, recipientCode, reference, reason string) (*TransferResponse, error) {
	req := TransferRequest{
		Source:    "balance",
		Amount:    amountKobo,
		Recipient: recipientCode,
		Reason:    reason,
		Reference: reference,
		Currency:  "NGN",
	}

	var resp TransferResponse
	if err := c.post(ctx, "/transfer", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Status {
		return nil, fmt.Errorf("paystack transfer failed: %s", resp.Message)
	}
	return &resp, nil
}

func (c *PaystackClient) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.secretKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{Provider: "paystack", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
