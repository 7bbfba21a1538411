// Package notify provides the ops-notification channel consumed by the
// email_notification handler. No original_source file backs this task type
// directly; grounded instead on the general "opaque external client" shape
// every other handler uses for its out-of-scope collaborators.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/makermatrix/taskctl/internal/observability"
)

// Notifier delivers a subject/body notification to whatever ops channel is
// configured.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

// LogNotifier writes the notification to the host log. Used when no Slack
// webhook/token is configured — the safe default for a dev/test run.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, subject, body string) error {
	observability.Infof("notify", "%s: %s", subject, body)
	return nil
}

// SlackNotifier posts to a fixed channel via the Slack Web API. Library:
// github.com/slack-go/slack, named and grounded via jordigilh-kubernaut's
// go.mod (the pack's one repo that carries a Slack dependency); nothing in
// the teacher or original source calls for Slack specifically, but every
// background-task system of this shape needs *some* ops notification path,
// and this is the one real channel library the retrieved pack offers.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier constructs a notifier posting to channel using token.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

func (n *SlackNotifier) Notify(ctx context.Context, subject, body string) error {
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(fmt.Sprintf("*%s*\n%s", subject, body), false))
	if err != nil {
		return fmt.Errorf("notify: slack post: %w", err)
	}
	return nil
}
