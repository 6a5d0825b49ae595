package sender

import "context"

// Message is one outbound payload, channel-agnostic.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender hands a message to the provider and returns the provider-assigned
// message id used later to match delivery notifications.
type Sender interface {
	Send(ctx context.Context, msg *Message) (string, error)
}
