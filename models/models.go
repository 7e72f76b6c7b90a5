package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RequestKind distinguishes the two payment request variants. Orders carry
// line items and recompute their total; links are priced directly.
type RequestKind string

const (
	KindOrder RequestKind = "order"
	KindLink  RequestKind = "link"
)

// Valid reports whether the kind is one of the known variants.
func (k RequestKind) Valid() bool {
	return k == KindOrder || k == KindLink
}

// RequestStatus represents a state in the payment request lifecycle.
type RequestStatus string

const (
	StatusActive  RequestStatus = "active"
	StatusPaid    RequestStatus = "paid"
	StatusExpired RequestStatus = "expired"
)

// Terminal reports whether no further transition is allowed out of the status.
func (s RequestStatus) Terminal() bool {
	return s == StatusPaid || s == StatusExpired
}

// Business stores merchant records. Wallet addresses are resolved from here
// once at request creation and frozen on the issued request.
type Business struct {
	ID            string    `gorm:"primaryKey;size:64" json:"id"`
	Name          string    `gorm:"size:128" json:"name"`
	WalletAddress string    `gorm:"size:64" json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LineItem is a single priced position on an order.
type LineItem struct {
	ID        uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	RequestID string          `gorm:"size:64;index" json:"-"`
	Position  int             `json:"-"`
	Name      string          `gorm:"size:128" json:"product_name"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(32,12)" json:"unit_price"`
	Quantity  int             `json:"quantity"`
}

// PaymentRequest describes an issued, time-bounded invitation to transfer a
// specific expected amount to a specific wallet. It generalizes orders and
// payment links; both share the same lifecycle.
//
// ExpectedAmount is NominalAmount plus a randomized fractional suffix and is
// the amount the payer must actually send. Amount columns keep enough
// fractional digits to hold the suffix losslessly.
type PaymentRequest struct {
	ID                string          `gorm:"primaryKey;size:64" json:"id"`
	BusinessID        string          `gorm:"size:64;index" json:"business_id"`
	Kind              RequestKind     `gorm:"size:16;index" json:"kind"`
	ClientID          string          `gorm:"size:64" json:"client_id,omitempty"`
	Title             string          `gorm:"size:128" json:"title,omitempty"`
	Description       string          `gorm:"size:512" json:"description,omitempty"`
	NominalAmount     decimal.Decimal `gorm:"type:numeric(32,12)" json:"nominal_amount"`
	ExpectedAmount    decimal.Decimal `gorm:"type:numeric(32,12)" json:"expected_amount"`
	ChainID           uint64          `json:"chain_id"`
	ChainName         string          `gorm:"size:64" json:"chain_name,omitempty"`
	ReceivingToken    string          `gorm:"size:32" json:"receiving_token"`
	DestinationWallet string          `gorm:"size:64" json:"destination_wallet"`
	Status            RequestStatus   `gorm:"size:16;index" json:"status"`
	PaymentURL        string          `gorm:"size:256" json:"payment_url"`
	SuccessURL        string          `gorm:"size:256" json:"success_url,omitempty"`
	SenderWallet      string          `gorm:"size:64" json:"sender_wallet,omitempty"`
	SenderChain       string          `gorm:"size:64" json:"sender_chain,omitempty"`
	CustomerName      string          `gorm:"size:128" json:"customer_name,omitempty"`
	TransactionHash   string          `gorm:"size:80" json:"transaction_hash,omitempty"`
	ExpiresAt         time.Time       `json:"expires_at"`
	SettledAt         *time.Time      `gorm:"index" json:"settled_at,omitempty"`
	CreatedAt         time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Items             []LineItem      `gorm:"foreignKey:RequestID" json:"items,omitempty"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Business{},
		&PaymentRequest{},
		&LineItem{},
	)
}
