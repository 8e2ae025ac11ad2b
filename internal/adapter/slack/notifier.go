// Package slack implements the approval-notification port using Slack
// Block Kit messages posted by a bot.
package slack

import (
	"context"
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/finback/autoclerk/internal/port/notifier"
)

// poster is the slice of the Slack client the notifier needs.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Notifier posts approval proposals to a Slack channel.
type Notifier struct {
	client  poster
	channel string
}

// NewNotifier creates a Slack notifier. With an empty token or channel the
// notifier reports ErrNotConfigured on every send.
func NewNotifier(token, channel string) *Notifier {
	n := &Notifier{channel: channel}
	if token != "" {
		n.client = slack.New(token)
	}
	return n
}

// SendApprovalRequired posts a Block Kit message describing the proposal.
func (n *Notifier) SendApprovalRequired(ctx context.Context, p notifier.Proposal) error {
	if n.client == nil || n.channel == "" {
		return notifier.ErrNotConfigured
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionBlocks(buildBlocks(p)...))
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

// buildBlocks renders a proposal as Block Kit blocks.
func buildBlocks(p notifier.Proposal) []slack.Block {
	header := slack.NewHeaderBlock(
		slack.NewTextBlockObject(slack.PlainTextType, "Approval required: "+p.Agent, false, false))

	body := fmt.Sprintf("*%s*\n%s", p.Subject, p.Summary)
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, body, false, false), nil, nil)

	blocks := []slack.Block{header, section}

	var meta []string
	if p.Confidence > 0 {
		meta = append(meta, fmt.Sprintf("confidence %.2f", p.Confidence))
	}
	for _, r := range p.Reasons {
		meta = append(meta, string(r))
	}
	if p.EventID != "" {
		meta = append(meta, "event "+p.EventID)
	}
	if len(meta) > 0 {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(meta, " | "), false, false)))
	}

	if len(p.Candidates) > 0 {
		var lines []string
		for _, c := range p.Candidates {
			lines = append(lines, fmt.Sprintf("• `%s/%s` confidence %.2f", c.SourceType, c.SourceID, c.Confidence))
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, strings.Join(lines, "\n"), false, false), nil, nil))
	}

	return blocks
}
