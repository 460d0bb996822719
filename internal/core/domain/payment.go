package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	StatusCreated  PaymentStatus = "created"
	StatusPaid     PaymentStatus = "paid"
	StatusCanceled PaymentStatus = "canceled"
)

// ParseStatus converts a wire value into a PaymentStatus.
func ParseStatus(raw string) (PaymentStatus, error) {
	switch s := PaymentStatus(raw); s {
	case StatusCreated, StatusPaid, StatusCanceled:
		return s, nil
	}
	return "", NewError(KindInvalidInput, "unknown payment status %q", raw)
}

// Terminal reports whether no further transition is allowed from s.
func (s PaymentStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCanceled
}

// Payment is a transfer of Amount from Sender to Recipient.
type Payment struct {
	ID          uuid.UUID       `json:"id"`
	SenderID    uuid.UUID       `json:"sender_id"`
	RecipientID uuid.UUID       `json:"recipient_id"`
	Instrument                  // card_last4, card_holder
	Amount      decimal.Decimal `json:"amount"`
	Status      PaymentStatus   `json:"status"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"-"`
}

// Involves reports whether userID is the sender or the recipient.
func (p Payment) Involves(userID uuid.UUID) bool {
	return p.SenderID == userID || p.RecipientID == userID
}

// PaymentLog is one immutable audit record of a status transition.
type PaymentLog struct {
	ID         uuid.UUID        `json:"id"`
	Seq        int64            `json:"seq"`
	PaymentID  uuid.UUID        `json:"payment_id"`
	ActorID    *uuid.UUID       `json:"performed_by"`
	PrevStatus PaymentStatus    `json:"prev_status"`
	NewStatus  PaymentStatus    `json:"new_status"`
	Amount     *decimal.Decimal `json:"amount"`
	Note       string           `json:"note"`
	CreatedAt  time.Time        `json:"created_at"`
}

// PaymentFilter narrows a sender's payment listing. Nil fields do not filter.
type PaymentFilter struct {
	SenderID  uuid.UUID
	Status    *PaymentStatus
	MinAmount *decimal.Decimal
	MaxAmount *decimal.Decimal
}

// Match reports whether p passes every set criterion.
func (f PaymentFilter) Match(p Payment) bool {
	if p.SenderID != f.SenderID || p.DeletedAt != nil {
		return false
	}
	if f.Status != nil && p.Status != *f.Status {
		return false
	}
	if f.MinAmount != nil && p.Amount.LessThan(*f.MinAmount) {
		return false
	}
	if f.MaxAmount != nil && p.Amount.GreaterThan(*f.MaxAmount) {
		return false
	}
	return true
}
