package ingress

import (
	"net/url"
	"strconv"
	"strings"
)

// InboundSMS is the normalized carrier notification for one inbound message.
type InboundSMS struct {
	From       string
	To         string
	Body       string
	MessageSID string
	NumMedia   int
}

// StatusCallback is a carrier delivery-status notification.
type StatusCallback struct {
	MessageSID    string
	MessageStatus string
}

// ParseInbound reads Twilio's inbound webhook form parameters.
func ParseInbound(form url.Values) (InboundSMS, error) {
	in := InboundSMS{
		From:       strings.TrimSpace(form.Get("From")),
		To:         strings.TrimSpace(form.Get("To")),
		Body:       form.Get("Body"),
		MessageSID: strings.TrimSpace(form.Get("MessageSid")),
	}
	if raw := strings.TrimSpace(form.Get("NumMedia")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return InboundSMS{}, newError(ErrorInvalidInput, "invalid_num_media", err)
		}
		in.NumMedia = n
	}
	if in.MessageSID == "" {
		return InboundSMS{}, newError(ErrorInvalidInput, "missing_message_sid", nil)
	}
	if in.From == "" {
		return InboundSMS{}, newError(ErrorInvalidInput, "missing_from", nil)
	}
	if in.To == "" {
		return InboundSMS{}, newError(ErrorInvalidInput, "missing_to", nil)
	}
	return in, nil
}

// ParseStatus reads Twilio's status callback form parameters.
func ParseStatus(form url.Values) (StatusCallback, error) {
	cb := StatusCallback{
		MessageSID:    strings.TrimSpace(form.Get("MessageSid")),
		MessageStatus: strings.TrimSpace(form.Get("MessageStatus")),
	}
	if cb.MessageSID == "" {
		return StatusCallback{}, newError(ErrorInvalidInput, "missing_message_sid", nil)
	}
	if cb.MessageStatus == "" {
		return StatusCallback{}, newError(ErrorInvalidInput, "missing_message_status", nil)
	}
	return cb, nil
}
