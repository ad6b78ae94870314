package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TransactionStatus off-ramp transaction lifecycle status
type TransactionStatus string

const (
	StatusPending       TransactionStatus = "pending"        // deposit address reserved, nothing received yet
	StatusTokenReceived TransactionStatus = "token_received" // scanner found a non-zero balance
	StatusSwapping      TransactionStatus = "swapping"       // wallet emptier in progress
	StatusUSDCReceived  TransactionStatus = "usdc_received"  // settlement sweep to treasury confirmed
	StatusPaying        TransactionStatus = "paying"         // bank payout dispatched
	StatusCompleted     TransactionStatus = "completed"      // payout reference confirmed, terminal
	StatusFailed        TransactionStatus = "failed"         // terminal for this attempt, retryable
)

// forwardTransitions is the only legal forward movement through the
// lifecycle. failed -> pending is the explicit operator/user retry path;
// a retried transaction may also re-enter detection or the swap claim
// directly without passing through pending first.
var forwardTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:       {StatusTokenReceived, StatusSwapping, StatusFailed},
	StatusTokenReceived: {StatusSwapping, StatusFailed},
	StatusSwapping:      {StatusUSDCReceived, StatusTokenReceived, StatusPending, StatusFailed},
	StatusUSDCReceived:  {StatusPaying, StatusFailed},
	StatusPaying:        {StatusCompleted, StatusUSDCReceived, StatusFailed},
	StatusFailed:        {StatusPending, StatusTokenReceived, StatusSwapping},
}

// CanTransition reports whether moving from -> to is allowed.
func CanTransition(from, to TransactionStatus) bool {
	for _, next := range forwardTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no settlement work may run for this status.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted
}

// SettleableStatuses statuses the periodic sweep picks up.
func SettleableStatuses() []TransactionStatus {
	return []TransactionStatus{StatusPending, StatusTokenReceived, StatusUSDCReceived, StatusPaying}
}

// DetectedAsset one non-zero balance found in a deposit wallet
type DetectedAsset struct {
	TokenAddress string `json:"token_address"` // empty for the native gas asset
	Symbol       string `json:"symbol"`
	Amount       string `json:"amount"`     // human-readable decimal string
	RawAmount    string `json:"raw_amount"` // integer base units
	Decimals     int    `json:"decimals"`
}

// IsNative reports whether the asset is the chain's gas asset.
func (a DetectedAsset) IsNative() bool {
	return a.TokenAddress == ""
}

// AssetList JSONB column of detected assets
type AssetList []DetectedAsset

// Value implements driver.Valuer
func (l AssetList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (l *AssetList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for AssetList: %T", value)
	}
}

// StringList JSONB column of strings (sweep tx hashes, per-token errors)
type StringList []string

// Value implements driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements sql.Scanner
func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("unsupported type for StringList: %T", value)
	}
}

// OfframpTransaction one record per off-ramp request.
// The encrypted private key is decrypted only transiently inside the
// wallet emptier and never logged or returned to any client.
type OfframpTransaction struct {
	ID string `json:"id" gorm:"primaryKey;size:64"`

	// Owner (nullable user id allows the guest flow)
	UserID    string `json:"user_id" gorm:"size:64;index"`
	UserEmail string `json:"user_email" gorm:"size:255;index"`

	// Verified destination bank account
	BankAccountNumber string `json:"bank_account_number" gorm:"size:32;not null"`
	BankCode          string `json:"bank_code" gorm:"size:16;not null"`
	BankAccountName   string `json:"bank_account_name" gorm:"size:255;not null"`

	// Custody
	DepositAddress      string `json:"deposit_address" gorm:"size:66;uniqueIndex;not null"`
	EncryptedPrivateKey string `json:"-" gorm:"type:text;not null"`

	// Detection
	DetectedAssets AssetList `json:"detected_assets" gorm:"type:jsonb"`

	// Settlement
	SettlementAmount string     `json:"settlement_amount" gorm:"size:78"` // settlement token, decimal string
	SweepTxHashes    StringList `json:"sweep_tx_hashes" gorm:"type:jsonb"`
	NGNAmount        float64    `json:"ngn_amount"`
	ExchangeRate     float64    `json:"exchange_rate"`
	FeeCharged       float64    `json:"fee_charged"`
	PayoutReference  string     `json:"payout_reference" gorm:"size:64;index"`

	Status    TransactionStatus `json:"status" gorm:"size:32;not null;index"`
	LastError string            `json:"last_error" gorm:"type:text"`

	CreatedAt            time.Time  `json:"created_at"`
	TokenReceivedAt      *time.Time `json:"token_received_at"`
	SettlementReceivedAt *time.Time `json:"settlement_received_at"`
	CompletedAt          *time.Time `json:"completed_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// IsAbandoned reports whether the transaction sat in pending past the
// retention window without any detected balance. Abandoned transactions
// are excluded from active queries, never deleted.
func (t *OfframpTransaction) IsAbandoned(window time.Duration, now time.Time) bool {
	return t.Status == StatusPending &&
		len(t.DetectedAssets) == 0 &&
		now.Sub(t.CreatedAt) > window
}

// OwnedBy reports whether identity (user id or email) owns this transaction.
func (t *OfframpTransaction) OwnedBy(identity string) bool {
	if identity == "" {
		return false
	}
	return t.UserID == identity || t.UserEmail == identity
}

// SwapAttemptOutcome result of one provider try
type SwapAttemptOutcome string

const (
	SwapAttemptSucceeded   SwapAttemptOutcome = "succeeded"
	SwapAttemptNoRoute     SwapAttemptOutcome = "no_route"
	SwapAttemptRateLimited SwapAttemptOutcome = "rate_limited"
	SwapAttemptFailed      SwapAttemptOutcome = "failed"
)

// SwapAttempt one row per provider try within a single swap. Audit data
// only; correctness never depends on these rows.
type SwapAttempt struct {
	ID            string             `json:"id" gorm:"primaryKey;size:64"`
	TransactionID string             `json:"transaction_id" gorm:"size:64;index;not null"`
	Provider      string             `json:"provider" gorm:"size:32;not null"`
	SellToken     string             `json:"sell_token" gorm:"size:66"`
	BuyToken      string             `json:"buy_token" gorm:"size:66"`
	SellAmount    string             `json:"sell_amount" gorm:"size:78"`
	BuyAmount     string             `json:"buy_amount" gorm:"size:78"`
	Outcome       SwapAttemptOutcome `json:"outcome" gorm:"size:16;not null"`
	TxHash        string             `json:"tx_hash" gorm:"size:66"`
	Error         string             `json:"error" gorm:"type:text"`
	LatencyMs     int64              `json:"latency_ms"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Setting key-value row read by the payout calculator
type Setting struct {
	Key       string    `json:"key" gorm:"primaryKey;size:64"`
	Value     string    `json:"value" gorm:"type:text;not null"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Setting keys
const (
	SettingExchangeRate = "ngn_exchange_rate" // NGN per settlement token unit
)

// FeeTier one contiguous fee range over the NGN-before-fee amount.
// Either FlatFee or PercentFee applies; tiers are kept sorted ascending
// by MinAmount and must not overlap.
type FeeTier struct {
	ID         uint    `json:"id" gorm:"primaryKey;autoIncrement"`
	MinAmount  float64 `json:"min_amount" gorm:"not null;index"`
	MaxAmount  float64 `json:"max_amount"` // 0 = open-ended
	FlatFee    float64 `json:"flat_fee"`
	PercentFee float64 `json:"percent_fee"` // e.g. 1.5 = 1.5%
}

// Contains reports whether amount falls inside this tier's range.
func (t FeeTier) Contains(amount float64) bool {
	if amount < t.MinAmount {
		return false
	}
	return t.MaxAmount == 0 || amount < t.MaxAmount
}
