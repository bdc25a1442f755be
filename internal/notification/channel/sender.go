// Package channel contains the outbound delivery channels. Each sender takes
// an already-resolved destination address and reports the provider-side
// message id so delivery callbacks can be correlated later. All senders
// implement notification.Sender.
package channel

import "context"

// TokenRemover drops a dead push token from the channel directory. Push
// providers report invalid tokens on send, not through callbacks.
type TokenRemover interface {
	RemovePushToken(ctx context.Context, token string) error
}
