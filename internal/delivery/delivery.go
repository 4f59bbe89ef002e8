// Package delivery defines the outbound delivery port the broadcast
// dispatcher talks to, and the error taxonomy that drives its retry policy.
package delivery

import (
	"context"

	"newswire/internal/news"
)

// Client sends published items to delivery endpoints. Implementations wrap
// a concrete chat platform; the dispatcher only sees this surface.
//
// Send returns an opaque message reference on success. The reference is
// recorded in the delivery ledger and later lets Edit/Delete find the
// delivered copy.
type Client interface {
	Send(ctx context.Context, endpointID string, item news.Item) (messageRef string, err error)
	Edit(ctx context.Context, endpointID, messageRef string, item news.Item) error
	Delete(ctx context.Context, endpointID, messageRef string) error
}
