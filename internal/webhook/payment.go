package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const paymentCaptured = "payment.captured"

// PaymentEvent is a captured top-up payment.
type PaymentEvent struct {
	PaymentID string
	UserID    string
	Amount    int64
	Currency  string
}

type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity struct {
				ID       string            `json:"id"`
				Amount   int64             `json:"amount"`
				Currency string            `json:"currency"`
				Status   string            `json:"status"`
				Notes    map[string]string `json:"notes"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// DecodePaymentEvent returns nil for events other than payment.captured.
// The wallet owner is carried in the payment's notes.user_id.
func DecodePaymentEvent(raw []byte) (*PaymentEvent, error) {
	var ev razorpayEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.Event == "" {
		return nil, ErrUnknownPayload
	}
	if ev.Event != paymentCaptured {
		return nil, nil
	}

	p := ev.Payload.Payment.Entity
	userID := p.Notes["user_id"]
	switch {
	case p.ID == "":
		return nil, fmt.Errorf("%w: payment without id", ErrMalformedPayload)
	case userID == "":
		return nil, fmt.Errorf("%w: payment %s has no notes.user_id", ErrMalformedPayload, p.ID)
	case p.Amount <= 0:
		return nil, fmt.Errorf("%w: payment %s has amount %d", ErrMalformedPayload, p.ID, p.Amount)
	}

	return &PaymentEvent{
		PaymentID: p.ID,
		UserID:    userID,
		Amount:    p.Amount,
		Currency:  strings.ToUpper(p.Currency),
	}, nil
}

// VerifySignature checks a hex HMAC-SHA256 of body.
func VerifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected, err := hex.DecodeString(strings.TrimPrefix(signature, "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), expected)
}

// Sign is the counterpart of VerifySignature.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
