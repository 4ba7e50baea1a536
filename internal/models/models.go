package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentExpired   PaymentStatus = "expired"
	PaymentCancelled PaymentStatus = "cancelled"
)

type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySent    DeliveryStatus = "sent"
)

type Purchase struct {
	ID             string
	UserID         string
	Email          string
	PlanName       string
	PlanPriceUSD   decimal.Decimal
	DashAddress    string
	DashAmount     decimal.Decimal
	DashPriceUSD   decimal.Decimal
	PaymentStatus  PaymentStatus
	DeliveryStatus DeliveryStatus
	ExpiresAt      time.Time
	TransactionID  *string
	Confirmations  *int64
	DeliveredAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AddressAllocation is one row of the append-only address audit log. The log
// is the sole source of truth for the next derivation index.
type AddressAllocation struct {
	DerivationIndex int64
	Address         string
	PurchaseID      string
	UserID          string
	IPAddress       string
	UserAgent       string
	CreatedAt       time.Time
}

type SecurityEvent struct {
	EventType  string
	Severity   string
	PurchaseID string
	Details    string
	CreatedAt  time.Time
}
