// Package webhook turns provider callback payloads into domain events. Nothing
// past this package sees raw provider JSON.
package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wadash/backend/internal/models"
)

const (
	SourceInterakt = "interakt"
	SourceMeta     = "meta"
)

var (
	ErrMalformedPayload = errors.New("malformed webhook payload")
	ErrUnknownPayload   = errors.New("unrecognised webhook payload")
)

type envelope struct {
	Object string `json:"object"`
	Type   string `json:"type"`
}

// DecodeDeliveryEvents accepts either an Interakt event or a WhatsApp Cloud API
// notification. Payloads that are recognised but carry no message status
// (inbound messages, template updates) decode to zero events.
func DecodeDeliveryEvents(raw []byte) ([]models.DeliveryEvent, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch {
	case env.Object == "whatsapp_business_account":
		return decodeMeta(raw)
	case strings.HasPrefix(env.Type, interaktStatusPrefix):
		return decodeInterakt(raw, strings.TrimPrefix(env.Type, interaktStatusPrefix))
	case env.Type != "":
		return nil, nil
	default:
		return nil, ErrUnknownPayload
	}
}

const interaktStatusPrefix = "message_api_"

type interaktEvent struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Data      struct {
		Customer struct {
			ChannelPhoneNumber string `json:"channel_phone_number"`
			PhoneNumber        string `json:"phone_number"`
			CountryCode        string `json:"country_code"`
		} `json:"customer"`
		Message struct {
			ID                   string `json:"id"`
			MessageStatus        string `json:"message_status"`
			ChannelFailureReason string `json:"channel_failure_reason"`
		} `json:"message"`
	} `json:"data"`
}

func decodeInterakt(raw []byte, status string) ([]models.DeliveryEvent, error) {
	switch status {
	case "sent", "delivered", "read", "failed":
	default:
		return nil, nil
	}

	var ev interaktEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if ev.Data.Message.ID == "" {
		return nil, fmt.Errorf("%w: interakt event without message id", ErrMalformedPayload)
	}

	recipient := ev.Data.Customer.ChannelPhoneNumber
	if recipient == "" {
		recipient = ev.Data.Customer.CountryCode + ev.Data.Customer.PhoneNumber
	}

	occurredAt, _ := time.Parse(time.RFC3339Nano, ev.Timestamp)

	return []models.DeliveryEvent{{
		Source:        SourceInterakt,
		CorrelationID: ev.Data.Message.ID,
		Recipient:     models.NormalizeRecipient(recipient),
		Status:        status,
		Outcome:       models.OutcomeForStatus(status),
		OccurredAt:    occurredAt.UTC(),
		FailureReason: ev.Data.Message.ChannelFailureReason,
	}}, nil
}

type metaNotification struct {
	Entry []struct {
		Changes []struct {
			Field string `json:"field"`
			Value struct {
				Statuses []metaStatus `json:"statuses"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type metaStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
	Errors      []struct {
		Code  int    `json:"code"`
		Title string `json:"title"`
	} `json:"errors"`
}

func decodeMeta(raw []byte) ([]models.DeliveryEvent, error) {
	var n metaNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	var events []models.DeliveryEvent
	for _, entry := range n.Entry {
		for _, change := range entry.Changes {
			for _, st := range change.Value.Statuses {
				if st.ID == "" {
					return nil, fmt.Errorf("%w: status without message id", ErrMalformedPayload)
				}
				events = append(events, models.DeliveryEvent{
					Source:        SourceMeta,
					CorrelationID: st.ID,
					Recipient:     models.NormalizeRecipient(st.RecipientID),
					Status:        st.Status,
					Outcome:       models.OutcomeForStatus(st.Status),
					OccurredAt:    unixSeconds(st.Timestamp),
					FailureReason: firstErrorTitle(st),
				})
			}
		}
	}
	return events, nil
}

func unixSeconds(raw string) time.Time {
	secs, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(secs, 0).UTC()
}

func firstErrorTitle(st metaStatus) string {
	if len(st.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%d: %s", st.Errors[0].Code, st.Errors[0].Title)
}
