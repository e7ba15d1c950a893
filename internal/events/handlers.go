package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Priya8975/gh-bridge/internal/domain"
)

// Payload fragments shared by the default handlers.
type (
	user struct {
		Login string `json:"login"`
		Name  string `json:"name"`
	}

	issue struct {
		Number      int    `json:"number"`
		Title       string `json:"title"`
		HTMLURL     string `json:"html_url"`
		CommentsURL string `json:"comments_url"`
		Merged      bool   `json:"merged"`
	}
)

// RegisterDefaults installs handlers that summarize common webhook events
// as one line of text. Issue and pull request events carry a reply
// target so users can answer them.
func RegisterDefaults(d *Dispatcher) {
	d.On(domain.EventKey{Name: "push"}, pushHandler, false)
	d.On(domain.EventKey{Name: "issues"}, issuesHandler, false)
	d.On(domain.EventKey{Name: "issue_comment", Action: "created"}, issueCommentHandler, false)
	d.On(domain.EventKey{Name: "pull_request", Action: "closed"}, pullRequestMergedHandler, false)
	d.On(domain.EventKey{Name: "pull_request"}, pullRequestHandler, false)
	d.On(domain.EventKey{Name: "pull_request_review", Action: "submitted"}, pullRequestReviewHandler, false)
	d.On(domain.EventKey{Name: "star", Action: "created"}, starHandler, false)
	d.On(domain.EventKey{Name: "fork"}, forkHandler, false)
	d.On(domain.EventKey{Name: "release", Action: "published"}, releaseHandler, false)
}

func decode(event domain.Event, v any) error {
	if err := json.Unmarshal(event.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", event.Key(), err)
	}
	return nil
}

func pushHandler(ctx context.Context, event domain.Event) (any, error) {
	var p struct {
		Ref     string     `json:"ref"`
		Deleted bool       `json:"deleted"`
		Pusher  user       `json:"pusher"`
		Commits []struct{} `json:"commits"`
	}
	if err := decode(event, &p); err != nil {
		return nil, err
	}
	if p.Deleted {
		return nil, nil
	}

	branch := strings.TrimPrefix(strings.TrimPrefix(p.Ref, "refs/heads/"), "refs/tags/")
	noun := "commits"
	if len(p.Commits) == 1 {
		noun = "commit"
	}
	return &domain.Summary{
		Text: fmt.Sprintf("%s pushed %d %s to %s in %s", p.Pusher.Name, len(p.Commits), noun, branch, event.Repository),
	}, nil
}

func issuesHandler(ctx context.Context, event domain.Event) (any, error) {
	var p struct {
		Issue  issue `json:"issue"`
		Sender user  `json:"sender"`
	}
	if err := decode(event, &p); err != nil {
		return nil, err
	}

	return &domain.Summary{
		Text:  fmt.Sprintf("%s %s issue #%d in %s: %s", p.Sender.Login, event.Action, p.Issue.Number, event.Repository, p.Issue.Title),
		Reply: replyTarget(event, p.Issue),
	}, nil
}

func issueCommentHandler(ctx context.Context, event domain.Event) (any, error) {
	var p struct {
		Issue   issue `json:"issue"`
		Comment struct {
			Body string `json:"body"`
		} `json:"comment"`
		Sender user `json:"sender"`
	}
	if err := decode(event, &p); err != nil {
		return nil, err
	}

	return &domain.Summary{
		Text:  fmt.Sprintf("%s commented on #%d in %s: %s", p.Sender.Login, p.Issue.Number, event.Repository, firstLine(p.Comment.Body)),
		Reply: replyTarget(event, p.Issue),
	}, nil
}

// pullRequestMergedHandler claims closed pull requests that were merged
// and leaves plain closes to the general handler.
func pullRequestMergedHandler(ctx context.Context, event domain.Event) (any, error) {
	var p struct {
		PullRequest issue `json:"pull_request"`
		Sender      user  `json:"sender"`
	}
	if err := decode(event, &p); err != nil {
		return nil, err
	}
	if !p.PullRequest.Merged {
		return nil, nil
	}

	return &domain.Summary{
		Text:  fmt.Sprintf("%s merged pull request #%d in %s: %s", p.Sender.Login, p.PullRequest.Number, event.Repository, p.PullRequest.Title),
		Reply: replyTarget(event, p.PullRequest),
	}, nil
}

func pullRequestHandler(ctx context.Context, event domain.Event) (any, error) {
	var p struct {
		PullRequest issue `json:"pull_request"`
		Sender      user  `json:"sender"`
	}
	if err := decode(event, &p); err != nil {
		return nil, err
	}

	action := strings.ReplaceAll(event.Action, "_", " ")
	return &domain.Summary{
		Text:  fmt.Sprintf("%s %s pull request #%d in %s: %s", p.Sender.Login, action, p.PullRequest.Number, event.Repository, p.PullRequest.Title),
		Reply: replyTarget(event, p.PullRequest),
	}, nil
}

func pullRequestReviewHandler(ctx context.Context, event domain.Event) (any, error) {
	var p struct {
		Review struct {
			State string `json:"state"`
		} `json:"review"`
		PullRequest issue `json:"pull_request"`
		Sender      user  `json:"sender"`
	}
	if err := decode(event, &p); err != nil {
		return nil, err
	}

	verb := "reviewed"
	switch strings.ToLower(p.Review.State) {
	case "approved":
		verb = "approved"
	case "changes_requested":
		verb = "requested changes on"
	}
	return &domain.Summary{
		Text:  fmt.Sprintf("%s %s pull request #%d in %s: %s", p.Sender.Login, verb, p.PullRequest.Number, event.Repository, p.PullRequest.Title),
		Reply: replyTarget(event, p.PullRequest),
	}, nil
}

func starHandler(ctx context.Context, event domain.Event) (any, error) {
	var p struct {
		Sender user `json:"sender"`
	}
	if err := decode(event, &p); err != nil {
		return nil, err
	}
	return &domain.Summary{Text: fmt.Sprintf("%s starred %s", p.Sender.Login, event.Repository)}, nil
}

func forkHandler(ctx context.Context, event domain.Event) (any, error) {
	var p struct {
		Forkee struct {
			FullName string `json:"full_name"`
		} `json:"forkee"`
		Sender user `json:"sender"`
	}
	if err := decode(event, &p); err != nil {
		return nil, err
	}
	return &domain.Summary{
		Text: fmt.Sprintf("%s forked %s to %s", p.Sender.Login, event.Repository, p.Forkee.FullName),
	}, nil
}

func releaseHandler(ctx context.Context, event domain.Event) (any, error) {
	var p struct {
		Release struct {
			TagName string `json:"tag_name"`
			Name    string `json:"name"`
		} `json:"release"`
		Sender user `json:"sender"`
	}
	if err := decode(event, &p); err != nil {
		return nil, err
	}

	name := p.Release.Name
	if name == "" {
		name = p.Release.TagName
	}
	return &domain.Summary{
		Text: fmt.Sprintf("%s published release %s in %s", p.Sender.Login, name, event.Repository),
	}, nil
}

func replyTarget(event domain.Event, i issue) *domain.ReplyTarget {
	if i.CommentsURL == "" {
		return nil
	}
	return &domain.ReplyTarget{
		Event:       event.Key().String(),
		Repository:  event.Repository,
		Number:      i.Number,
		CommentsURL: i.CommentsURL,
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i]) + " ..."
	}
	return s
}
