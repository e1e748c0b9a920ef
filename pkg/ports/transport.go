package ports

import (
	"context"

	"github.com/aretw0/limpopo/pkg/domain"
)

// Transport is the output side of a chat transport.
type Transport interface {
	// Send delivers the payload to the respondent and returns the outbound message ID.
	// IDs must be orderable against the IDs of the respondent's inbound messages.
	Send(ctx context.Context, respondentID string, payload domain.Payload) (domain.MessageID, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, respondentID string, payload domain.Payload) (domain.MessageID, error)

// Send calls f.
func (f TransportFunc) Send(ctx context.Context, respondentID string, payload domain.Payload) (domain.MessageID, error) {
	return f(ctx, respondentID, payload)
}
