package notify

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/slack-go/slack"
)

// slackPoster abstracts the Slack API method we use, enabling test mocks.
type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts the notice to a Slack channel.
type SlackNotifier struct {
	client  slackPoster
	channel string
}

// NewSlackNotifier creates a SlackNotifier with a bot token.
func NewSlackNotifier(token, channel string) (*SlackNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: slack: token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("notify: slack: channel is required")
	}
	return &SlackNotifier{client: slack.New(token), channel: channel}, nil
}

func (s *SlackNotifier) Name() string { return "slack" }

func (s *SlackNotifier) Notify(ctx context.Context, msg Message) error {
	if _, _, err := s.client.PostMessageContext(ctx, s.channel, slack.MsgOptionText(msg.Text(), false)); err != nil {
		return fmt.Errorf("notify: slack: post: %w", err)
	}
	return nil
}

// discordSender abstracts the discordgo.Session method we use.
type discordSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordNotifier posts the notice to a Discord channel over the REST API.
// No gateway connection is opened.
type DiscordNotifier struct {
	sess    discordSender
	channel string
}

// discordLimit is Discord's maximum message length.
const discordLimit = 2000

// NewDiscordNotifier creates a DiscordNotifier with a bot token.
func NewDiscordNotifier(token, channel string) (*DiscordNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("notify: discord: token is required")
	}
	if channel == "" {
		return nil, fmt.Errorf("notify: discord: channel is required")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("notify: discord: %w", err)
	}
	return &DiscordNotifier{sess: dg, channel: channel}, nil
}

func (d *DiscordNotifier) Name() string { return "discord" }

func (d *DiscordNotifier) Notify(ctx context.Context, msg Message) error {
	text := msg.Text()
	if r := []rune(text); len(r) > discordLimit {
		text = string(r[:discordLimit-1]) + "…"
	}
	if _, err := d.sess.ChannelMessageSend(d.channel, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("notify: discord: send: %w", err)
	}
	return nil
}
