package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/reply"
)

// SubscriptionFinder lists the channels that have a filter for a source.
type SubscriptionFinder interface {
	FindSubscribedChannels(ctx context.Context, source string) ([]domain.Subscription, error)
}

// Broadcaster pushes a notification to connected chat clients.
type Broadcaster interface {
	Broadcast(n domain.Notification)
}

// Notifier turns dispatch results into channel notifications. It also
// delivers authorization prompts, so it satisfies auth.Prompter.
type Notifier struct {
	subs    SubscriptionFinder
	replies reply.Store
	out     Broadcaster
	prefix  string
	logger  *slog.Logger
	now     func() time.Time
}

func New(subs SubscriptionFinder, replies reply.Store, out Broadcaster, prefix string, logger *slog.Logger) *Notifier {
	return &Notifier{
		subs:    subs,
		replies: replies,
		out:     out,
		prefix:  prefix,
		logger:  logger,
		now:     time.Now,
	}
}

// Deliver sends result to every channel whose filter for the event's
// repository matches the event name or name/action. Answerable events get
// a single reply key shared by all recipients, stored only when at least
// one channel is notified. It returns the number of channels notified.
func (n *Notifier) Deliver(ctx context.Context, event domain.Event, result any) (int, error) {
	summary, ok := asSummary(result)
	if !ok {
		n.logger.Warn("dropping unrenderable event result",
			"event", event.Key().String(),
			"delivery_id", event.DeliveryID,
			"result_type", fmt.Sprintf("%T", result),
		)
		return 0, nil
	}
	if event.Repository == "" {
		return 0, nil
	}

	subs, err := n.subs.FindSubscribedChannels(ctx, event.Repository)
	if err != nil {
		return 0, fmt.Errorf("finding subscribed channels: %w", err)
	}

	key := event.Key()
	var targets []string
	for _, sub := range subs {
		if sub.Filter.Matches(key) {
			targets = append(targets, sub.ChannelID)
		}
	}
	if len(targets) == 0 {
		return 0, nil
	}

	var replyKey string
	if summary.Reply != nil {
		replyKey = reply.NewKey()
		if err := n.replies.Put(ctx, replyKey, *summary.Reply); err != nil {
			// Still worth telling the channels; they just cannot answer.
			n.logger.Error("failed to store reply target",
				"error", err,
				"event", key.String(),
				"delivery_id", event.DeliveryID,
			)
			replyKey = ""
		}
	}

	now := n.now()
	for _, channelID := range targets {
		n.out.Broadcast(domain.Notification{
			Type:       domain.NotificationEvent,
			ChannelID:  channelID,
			Event:      key.String(),
			Repository: event.Repository,
			DeliveryID: event.DeliveryID,
			Text:       n.prefix + summary.Text,
			ReplyKey:   replyKey,
			Timestamp:  now,
		})
	}

	n.logger.Info("event delivered",
		"event", key.String(),
		"delivery_id", event.DeliveryID,
		"repository", event.Repository,
		"channels", len(targets),
	)
	return len(targets), nil
}

// Prompt sends an authorization link to the user behind identity. The
// notification is not addressed to a channel; chat hosts route it by
// identity_id.
func (n *Notifier) Prompt(ctx context.Context, identity *domain.Identity, message, authorizeURL string) error {
	if identity == nil {
		return fmt.Errorf("prompt without identity")
	}
	n.out.Broadcast(domain.Notification{
		Type:       domain.NotificationAuthorize,
		IdentityID: identity.ID,
		Text:       n.prefix + message,
		URL:        authorizeURL,
		Timestamp:  n.now(),
	})
	return nil
}

func asSummary(result any) (domain.Summary, bool) {
	switch v := result.(type) {
	case *domain.Summary:
		if v == nil {
			return domain.Summary{}, false
		}
		return *v, true
	case domain.Summary:
		return v, true
	case string:
		return domain.Summary{Text: v}, v != ""
	default:
		return domain.Summary{}, false
	}
}
