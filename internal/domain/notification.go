package domain

import "time"

// Notification types pushed to chat clients.
const (
	NotificationEvent     = "event"
	NotificationAuthorize = "authorize"
)

// Notification is a rendered event summary, or an authorization prompt,
// addressed to one channel.
type Notification struct {
	Type       string    `json:"type"`
	ChannelID  string    `json:"channel_id"`
	Event      string    `json:"event"`
	Repository string    `json:"repository,omitempty"`
	DeliveryID string    `json:"delivery_id,omitempty"`
	Text       string    `json:"text"`
	ReplyKey   string    `json:"reply_key,omitempty"`
	IdentityID int64     `json:"identity_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Summary is what an event handler returns when it has something to
// tell subscribed channels. Reply is nil for events that cannot be
// answered.
type Summary struct {
	Text  string
	Reply *ReplyTarget
}
