package sink

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/wisbric/neocache/pkg/eventpublisher"
)

// SlackSink posts a batch summary to a Slack channel, reserved for the
// events an operator actually cares about (invalidations and errors) so a
// busy cache doesn't flood the channel with every hit.
type SlackSink struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewSlackSink constructs a SlackSink. If botToken is empty, Publish is a
// no-op (logging only).
func NewSlackSink(botToken, channel string, logger *slog.Logger) *SlackSink {
	if logger == nil {
		logger = slog.Default()
	}
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackSink{client: client, channel: channel, logger: logger}
}

func (s *SlackSink) IsEnabled() bool { return s.client != nil && s.channel != "" }

func (s *SlackSink) Publish(ctx context.Context, events []eventpublisher.Event) error {
	var lines []string
	for _, e := range events {
		switch e.Kind {
		case eventpublisher.KindCacheInvalidated:
			lines = append(lines, fmt.Sprintf("• invalidated `%s` (%s)", e.Key, e.InvalidationReason))
		case eventpublisher.KindCacheMiss:
			if e.MissReason == eventpublisher.MissError {
				lines = append(lines, fmt.Sprintf("• miss-error on `%s`", e.Key))
			}
		}
	}
	if len(lines) == 0 {
		return nil
	}

	if !s.IsEnabled() {
		s.logger.Debug("slack sink disabled, skipping batch", "line_count", len(lines))
		return nil
	}

	text := fmt.Sprintf("cache activity (%d events):\n%s", len(events), strings.Join(lines, "\n"))
	_, _, err := s.client.PostMessageContext(ctx, s.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("posting cache event batch to slack: %w", err)
	}
	return nil
}
