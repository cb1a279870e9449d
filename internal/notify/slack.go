package notify

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"
)

// SlackNotifier posts critical escalations to a Slack channel. It is a
// best-effort side channel: failures are logged and never propagated, and
// a nil or unconfigured notifier is safe to call.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier, or a disabled one when no token is
// configured.
func NewSlackNotifier(botToken, channel string) *SlackNotifier {
	if botToken == "" {
		log.Println("Slack escalation disabled (no bot token configured)")
		return &SlackNotifier{}
	}
	return &SlackNotifier{
		client:  slack.New(botToken),
		channel: channel,
	}
}

// Enabled reports whether escalations will actually reach Slack
func (n *SlackNotifier) Enabled() bool {
	return n != nil && n.client != nil
}

// NotifyCritical posts a critical escalation message. Errors are logged
// only; the caller's operation must not depend on Slack availability.
func (n *SlackNotifier) NotifyCritical(title, message string) {
	if !n.Enabled() {
		return
	}

	text := fmt.Sprintf(":red_circle: *%s*\n%s", title, message)
	_, _, err := n.client.PostMessage(n.channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionDisableLinkUnfurl(),
	)
	if err != nil {
		log.Printf("Slack escalation failed: %v", err)
	}
}
