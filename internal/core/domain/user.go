package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User owns a balance. Balances change only inside a ledger transaction
// while the user row is locked.
type User struct {
	ID           uuid.UUID       `json:"id"`
	Email        string          `json:"email"`
	Username     string          `json:"username"`
	PasswordHash string          `json:"-"`
	Balance      decimal.Decimal `json:"balance"`
	Active       bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	DeletedAt    *time.Time      `json:"-"`
}

// Debit removes amount from the balance. The caller must hold the row lock.
func (u *User) Debit(amount decimal.Decimal) error {
	next := u.Balance.Sub(amount)
	if next.IsNegative() {
		return NewError(KindInsufficientFunds, "insufficient balance: have %s, need %s", u.Balance.StringFixed(AmountScale), amount.StringFixed(AmountScale))
	}
	u.Balance = next
	return nil
}

// Credit adds amount to the balance. The caller must hold the row lock.
func (u *User) Credit(amount decimal.Decimal) {
	u.Balance = u.Balance.Add(amount)
}

// Anonymize strips personal data from a user being removed while keeping the
// row so payments and logs that reference it stay intact.
func (u *User) Anonymize(now time.Time) {
	u.Email = "deleted+" + u.ID.String() + "@invalid"
	u.Username = "deleted user"
	u.PasswordHash = ""
	u.Active = false
	u.DeletedAt = &now
}
