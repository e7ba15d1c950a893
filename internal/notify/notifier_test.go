package notify

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Priya8975/gh-bridge/internal/domain"
	"github.com/Priya8975/gh-bridge/internal/reply"
)

type fakeFinder struct {
	subs []domain.Subscription
	err  error
	seen []string
}

func (f *fakeFinder) FindSubscribedChannels(ctx context.Context, source string) ([]domain.Subscription, error) {
	f.seen = append(f.seen, source)
	return f.subs, f.err
}

type recorder struct {
	mu   sync.Mutex
	sent []domain.Notification
}

func (r *recorder) Broadcast(n domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recorder) channels() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.sent {
		out = append(out, n.ChannelID)
	}
	return out
}

type failingStore struct{}

func (failingStore) Put(ctx context.Context, key string, target domain.ReplyTarget) error {
	return errors.New("redis down")
}

func (failingStore) Take(ctx context.Context, key string) (*domain.ReplyTarget, error) {
	return nil, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func subscription(channel string, events ...string) domain.Subscription {
	return domain.Subscription{ChannelID: channel, Filter: domain.Filter{Events: events}}
}

func issuesOpened() domain.Event {
	return domain.Event{
		Name:       "issues",
		Action:     "opened",
		DeliveryID: "d-1",
		Repository: "octo/hello",
	}
}

func TestDeliver_RoutesByFilter(t *testing.T) {
	finder := &fakeFinder{subs: []domain.Subscription{
		subscription("by-name", "issues"),
		subscription("by-action", "issues/opened"),
		subscription("other-action", "issues/closed"),
		subscription("other-event", "push"),
		subscription("empty"),
	}}
	out := &recorder{}
	n := New(finder, reply.NewMemoryStore(time.Hour), out, "[GitHub] ", testLogger())

	count, err := n.Deliver(context.Background(), issuesOpened(), &domain.Summary{Text: "alice opened issue #7"})

	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, []string{"by-name", "by-action"}, out.channels())
	assert.Equal(t, []string{"octo/hello"}, finder.seen)

	for _, sent := range out.sent {
		assert.Equal(t, domain.NotificationEvent, sent.Type)
		assert.Equal(t, "[GitHub] alice opened issue #7", sent.Text)
		assert.Equal(t, "issues/opened", sent.Event)
		assert.Equal(t, "d-1", sent.DeliveryID)
		assert.Empty(t, sent.ReplyKey, "summary without reply target must not carry a key")
	}
}

func TestDeliver_SharesOneReplyKey(t *testing.T) {
	finder := &fakeFinder{subs: []domain.Subscription{
		subscription("a", "issues"),
		subscription("b", "issues"),
	}}
	out := &recorder{}
	replies := reply.NewMemoryStore(time.Hour)
	n := New(finder, replies, out, "", testLogger())

	target := domain.ReplyTarget{
		Event:       "issues",
		Repository:  "octo/hello",
		Number:      7,
		CommentsURL: "https://api.github.com/repos/octo/hello/issues/7/comments",
	}
	_, err := n.Deliver(context.Background(), issuesOpened(), &domain.Summary{Text: "opened", Reply: &target})
	require.NoError(t, err)

	require.Len(t, out.sent, 2)
	key := out.sent[0].ReplyKey
	require.NotEmpty(t, key)
	assert.Equal(t, key, out.sent[1].ReplyKey)
	assert.Equal(t, 1, replies.Len())

	got, err := replies.Take(context.Background(), key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, target, *got)
}

func TestDeliver_NoMatchStoresNothing(t *testing.T) {
	finder := &fakeFinder{subs: []domain.Subscription{subscription("a", "push")}}
	out := &recorder{}
	replies := reply.NewMemoryStore(time.Hour)
	n := New(finder, replies, out, "", testLogger())

	target := domain.ReplyTarget{Repository: "octo/hello", Number: 7}
	count, err := n.Deliver(context.Background(), issuesOpened(), &domain.Summary{Text: "opened", Reply: &target})

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, out.sent)
	assert.Zero(t, replies.Len())
}

func TestDeliver_ReplyStoreFailureStillNotifies(t *testing.T) {
	finder := &fakeFinder{subs: []domain.Subscription{subscription("a", "issues")}}
	out := &recorder{}
	n := New(finder, failingStore{}, out, "", testLogger())

	target := domain.ReplyTarget{Repository: "octo/hello", Number: 7}
	count, err := n.Deliver(context.Background(), issuesOpened(), &domain.Summary{Text: "opened", Reply: &target})

	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, out.sent, 1)
	assert.Empty(t, out.sent[0].ReplyKey)
}

func TestDeliver_ResultShapes(t *testing.T) {
	tests := []struct {
		name   string
		result any
		want   int
	}{
		{"summary pointer", &domain.Summary{Text: "x"}, 1},
		{"summary value", domain.Summary{Text: "x"}, 1},
		{"plain text", "x", 1},
		{"empty text", "", 0},
		{"typed nil summary", (*domain.Summary)(nil), 0},
		{"unknown type", 42, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finder := &fakeFinder{subs: []domain.Subscription{subscription("a", "issues")}}
			n := New(finder, reply.NewMemoryStore(time.Hour), &recorder{}, "", testLogger())

			count, err := n.Deliver(context.Background(), issuesOpened(), tt.result)
			require.NoError(t, err)
			assert.Equal(t, tt.want, count)
		})
	}
}

func TestDeliver_FinderError(t *testing.T) {
	finder := &fakeFinder{err: errors.New("connection reset")}
	n := New(finder, reply.NewMemoryStore(time.Hour), &recorder{}, "", testLogger())

	_, err := n.Deliver(context.Background(), issuesOpened(), "x")
	assert.ErrorIs(t, err, finder.err)
}

func TestDeliver_EventWithoutRepository(t *testing.T) {
	finder := &fakeFinder{}
	n := New(finder, reply.NewMemoryStore(time.Hour), &recorder{}, "", testLogger())

	event := issuesOpened()
	event.Repository = ""
	count, err := n.Deliver(context.Background(), event, "x")

	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, finder.seen)
}

func TestPrompt(t *testing.T) {
	out := &recorder{}
	n := New(&fakeFinder{}, reply.NewMemoryStore(time.Hour), out, "[GitHub] ", testLogger())

	err := n.Prompt(context.Background(), &domain.Identity{ID: 42}, "Please authenticate.", "https://github.com/login/oauth/authorize?state=s")
	require.NoError(t, err)

	require.Len(t, out.sent, 1)
	sent := out.sent[0]
	assert.Equal(t, domain.NotificationAuthorize, sent.Type)
	assert.Equal(t, int64(42), sent.IdentityID)
	assert.Equal(t, "[GitHub] Please authenticate.", sent.Text)
	assert.Equal(t, "https://github.com/login/oauth/authorize?state=s", sent.URL)
	assert.Empty(t, sent.ChannelID)

	assert.Error(t, n.Prompt(context.Background(), nil, "x", "y"))
}
