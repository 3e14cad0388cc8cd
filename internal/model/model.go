package model

import "time"

// Лоты

type Listing struct {
	ID   int64
	Data ListingData
}
type ListingData struct {
	Owner        string
	CreditType   string
	Amount       int64
	PricePerUnit int64
	IsListed     bool
	CreatedAt    time.Time
}

// Результат покупки

type Purchase struct {
	ListingID  int64
	Amount     int64
	TotalPrice int64
	Refund     int64
	Reference  string
}

// Счет площадки, на котором удерживается оплата покупателя до расчета
const EscrowAccount = "escrow"

// События для внешних подписчиков

type EventType string

const (
	EventListed    EventType = "LISTED"
	EventPurchased EventType = "PURCHASED"
	EventDelisted  EventType = "DELISTED"
)

type Event struct {
	Type         EventType `json:"type"`
	ListingID    int64     `json:"listing_id"`
	Owner        string    `json:"owner"`
	Buyer        string    `json:"buyer,omitempty"`
	CreditType   string    `json:"credit_type,omitempty"`
	Amount       int64     `json:"amount,omitempty"`
	PricePerUnit int64     `json:"price_per_unit,omitempty"`
	TotalPrice   int64     `json:"total_price,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Баланс и история

type Balance struct {
	Key  BalanceKey
	Data BalanceData
}
type BalanceKey struct {
	Customer  string
	Operation int64
}
type BalanceData struct {
	Kind       string
	Timestamp  time.Time
	Difference int64
	Balance    int64
	Withdrawn  int64
	Reference  string
}

const (
	BalanceKindDeposit  = "DEPOSIT"
	BalanceKindWithdraw = "WITHDRAW"
	BalanceKindTransfer = "TRANSFER"
)
