package channels

import (
	"context"
	"os"
	"path/filepath"

	"github.com/slack-go/slack"
)

// SlackSender delivers messages through the Slack Web API.
type SlackSender struct {
	client *slack.Client
}

// NewSlackSender creates the sender from a bot token.
func NewSlackSender(token string) *SlackSender {
	return &SlackSender{client: slack.New(token)}
}

func (s *SlackSender) Channel() string { return "slack" }

func (s *SlackSender) SendText(ctx context.Context, chatID, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
	return err
}

func (s *SlackSender) SendDocument(ctx context.Context, chatID, path, caption string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	_, err = s.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
		Channel:        chatID,
		File:           path,
		FileSize:       int(info.Size()),
		Filename:       filepath.Base(path),
		InitialComment: caption,
	})
	return err
}
