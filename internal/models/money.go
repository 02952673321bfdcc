package models

import "github.com/shopspring/decimal"

// FormatMinor renders minor units as a major-unit string, e.g. 2500 -> "25.00".
func FormatMinor(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}

// AccountView is the API representation of an account.
type AccountView struct {
	UserID           string `json:"user_id"`
	Currency         string `json:"currency"`
	AvailableBalance int64  `json:"available_balance"`
	SuspenseBalance  int64  `json:"suspense_balance"`
	Available        string `json:"available"`
	Suspense         string `json:"suspense"`
	Version          int    `json:"version"`
}

// View converts an account for responses.
func (a *Account) View() AccountView {
	return AccountView{
		UserID:           a.UserID,
		Currency:         a.Currency,
		AvailableBalance: a.AvailableBalance,
		SuspenseBalance:  a.SuspenseBalance,
		Available:        FormatMinor(a.AvailableBalance),
		Suspense:         FormatMinor(a.SuspenseBalance),
		Version:          a.Version,
	}
}
