package notify

import "context"

// Messenger delivers a text message to one chat.
type Messenger interface {
	// Send delivers text to chatID. It should return an error if delivery fails.
	Send(ctx context.Context, chatID int64, text string) error
}

// OwnerLookup resolves the chats that track a site.
type OwnerLookup interface {
	OwnersOf(ctx context.Context, siteID int64) ([]int64, error)
}
