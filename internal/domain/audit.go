package domain

import "time"

// Audit event types.
const (
	EventConversationMenuSent = "conversation.menu_sent"
	EventDeliveryStatus       = "twilio.delivery_status"
)

// AuditEvent is an immutable observability record. It is written and never
// read back by the services that emit it.
type AuditEvent struct {
	ID        string
	AgencyID  string
	EventType string
	Metadata  map[string]string
	CreatedAt time.Time
}
