package notify

import "context"

// Publisher writes one encoded event to a user channel.
type Publisher interface {
	Publish(ctx context.Context, userID, event string, payload any) error
}

// Subscriber streams the events published to a user channel until ctx ends
// or the returned stop func is called.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan Message, func(), error)
}

// Bus is a transport that both publishes and streams user channels.
type Bus interface {
	Publisher
	Subscriber
}
