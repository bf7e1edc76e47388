package model

import "time"

// Transaction status values.
const (
	TxPending   = "pending"
	TxCompleted = "completed"
	TxFailed    = "failed"
)

// Transaction is a wallet movement. Amounts are in cents.
type Transaction struct {
	ID          string    `json:"id"`
	TempID      string    `json:"clientTempId,omitempty"`
	FromID      string    `json:"fromId"`
	ToID        string    `json:"toId"`
	AmountCents int64     `json:"amountCents"`
	Note        string    `json:"note,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
}

// EntityID implements store.Entity.
func (t Transaction) EntityID() string { return t.ID }

// Clone implements store.Entity.
func (t Transaction) Clone() Transaction { return t }

// Wallet is a user's balance. The entity id is the owning user id.
type Wallet struct {
	UserID       string    `json:"userId"`
	BalanceCents int64     `json:"balanceCents"`
	UpdatedAt    time.Time `json:"updatedAt,omitempty"`
}

// EntityID implements store.Entity.
func (w Wallet) EntityID() string { return w.UserID }

// Clone implements store.Entity.
func (w Wallet) Clone() Wallet { return w }
