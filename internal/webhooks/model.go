package webhooks

import (
	"time"

	"github.com/google/uuid"
)

// Event types dispatched by the ledger.
const (
	EventCertificateIssued      = "certificate.issued"
	EventCertificateDeactivated = "certificate.deactivated"
	EventCertificateRestored    = "certificate.restored"
	EventCertificateCorrupted   = "certificate.corrupted"
	EventAuditChainBroken       = "audit.chain_broken"
)

var knownEvents = map[string]bool{
	EventCertificateIssued:      true,
	EventCertificateDeactivated: true,
	EventCertificateRestored:    true,
	EventCertificateCorrupted:   true,
	EventAuditChainBroken:       true,
}

// KnownEvent reports whether t is an event type the ledger dispatches.
func KnownEvent(t string) bool { return knownEvents[t] }

// Subscription is a receiver registered for one or more event types.
type Subscription struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"-"` // never returned after creation
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Subscription) wants(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// Event is the JSON body POSTed to subscribers.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Delivery records the outcome of a single delivery attempt.
type Delivery struct {
	ID             uuid.UUID `json:"id"`
	SubscriptionID uuid.UUID `json:"subscription_id"`
	EventType      string    `json:"event_type"`
	StatusCode     int       `json:"status_code"`
	Attempt        int       `json:"attempt"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	DeliveredAt    time.Time `json:"delivered_at"`
}

// CreateSubscriptionRequest is the payload for creating a subscription.
// Secret is generated when empty.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url"    binding:"required,url"`
	Events []string `json:"events" binding:"required,min=1"`
	Secret string   `json:"secret"`
}
