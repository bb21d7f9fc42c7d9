package domain

import "context"

// Gateway is the conversational-agent backend.
//
// Ask returns the assistant's reply for text. An empty reply with a nil error
// means the gateway declined (bad status, unusable body, timeout). A non-nil
// error is returned only when the gateway could not be reached at all and
// wraps ErrGatewayUnavailable.
type Gateway interface {
	Ask(ctx context.Context, text, userID, channelID string) (string, error)
}
