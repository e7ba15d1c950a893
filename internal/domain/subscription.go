package domain

import "slices"

// Filter selects which events from one webhook source a channel wants.
// Entries are event names ("push") or name/action pairs
// ("issues/opened"). An empty filter matches nothing.
type Filter struct {
	Events []string `json:"events"`
}

// Matches reports whether the filter lists the event name or the exact
// name/action pair.
func (f Filter) Matches(key EventKey) bool {
	if slices.Contains(f.Events, key.Name) {
		return true
	}
	return key.Action != "" && slices.Contains(f.Events, key.String())
}

// ChannelSubscriptions maps a webhook source name (repository full name)
// to the channel's filter for it.
type ChannelSubscriptions map[string]Filter

// Subscription is one channel's filter for a given source.
type Subscription struct {
	ChannelID string `json:"channel_id"`
	Filter    Filter `json:"filter"`
}
