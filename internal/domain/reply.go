package domain

// ReplyTarget is the event-derived context a quick reply acts on.
type ReplyTarget struct {
	Event       string `json:"event"`
	Repository  string `json:"repository"`
	Number      int    `json:"number,omitempty"`
	CommentsURL string `json:"comments_url"`
}
