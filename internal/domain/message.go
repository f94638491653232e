package domain

import "time"

// Direction distinguishes inbound messages from replies the system sent.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// Outbound delivery statuses. Carrier callbacks may report others
// (queued, delivered, undelivered) which are stored verbatim.
const (
	MessageStatusReceived = "received"
	MessageStatusSent     = "sent"
	MessageStatusFailed   = "failed"
)

// Message is one logged SMS/MMS, inbound or outbound. Inbound messages are
// immutable once created.
type Message struct {
	ID                string
	AgencyID          string
	Direction         Direction
	FromPhone         string
	ToPhone           string
	Body              string
	ProviderMessageID string
	MediaCount        int
	Status            string
	CreatedAt         time.Time
	LastStatusAt      time.Time
}

// Agency is the slice of agency data the messaging paths need.
type Agency struct {
	ID             string
	SMSPhoneNumber string
}
