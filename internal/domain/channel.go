package domain

import "context"

// Notifier delivers a reply into the chat platform.
type Notifier interface {
	Send(ctx context.Context, text string) error
}
