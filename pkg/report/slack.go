// Package report posts dispatch summaries to an operations channel.
package report

import (
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/realpolitik/push-relay/pkg/dispatch"
	"github.com/realpolitik/push-relay/pkg/event"
)

// Notifier receives a summary after each dispatch pass. Reporting is best
// effort and never surfaces to the upstream caller.
type Notifier interface {
	DispatchSummary(ev *event.Event, summary dispatch.Summary)
}

// SlackNotifier posts summaries to a Slack channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier creates a notifier from a bot token and channel ID.
func NewSlackNotifier(token, channel string) (*SlackNotifier, error) {
	if token == "" || channel == "" {
		return nil, fmt.Errorf("slack token and channel are required")
	}
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
	}, nil
}

// DispatchSummary posts one line per dispatch pass.
func (n *SlackNotifier) DispatchSummary(ev *event.Event, summary dispatch.Summary) {
	critical := ""
	if ev.Critical {
		critical = " :rotating_light:"
	}
	text := fmt.Sprintf("Push dispatch%s `%s` (%s/%s sev %d): %d sent, %d failed, %d removed",
		critical, ev.ID, ev.Category, ev.Region, ev.Severity,
		summary.Sent, summary.Failed, summary.Removed)

	_, _, err := n.client.PostMessage(n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		log.Printf("[REPORT] failed to post dispatch summary: %v", err)
	}
}
