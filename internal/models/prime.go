package models

import "time"

// Portfolio represents a Prime portfolio
type Portfolio struct {
	Id   string
	Name string
}

// Wallet represents a Prime wallet
type Wallet struct {
	Id     string
	Name   string
	Symbol string
	Type   string
}

// DepositAddress represents a Prime deposit address
type DepositAddress struct {
	Id        string
	Address   string
	Network   string
	TokenType string
}

// PrimeTransfer is the subset of a Prime wallet transaction the feed needs.
type PrimeTransfer struct {
	Id        string
	WalletId  string
	Type      string
	Status    string
	Symbol    string
	Amount    string
	Network   string
	ToAddress string
	CreatedAt time.Time
}

// SendResult is what the chain sender reports for an accepted withdrawal.
type SendResult struct {
	TxHash         string
	IdempotencyKey string
	Amount         string
	Symbol         string
}
