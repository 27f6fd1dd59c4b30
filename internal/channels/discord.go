package channels

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bwmarrin/discordgo"
)

// DiscordSender delivers messages through a Discord bot session.
type DiscordSender struct {
	session *discordgo.Session
}

// NewDiscordSender creates the sender from a bot token.
func NewDiscordSender(token string) (*DiscordSender, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	return &DiscordSender{session: session}, nil
}

func (s *DiscordSender) Channel() string { return "discord" }

func (s *DiscordSender) SendText(ctx context.Context, chatID, text string) error {
	_, err := s.session.ChannelMessageSend(chatID, text, discordgo.WithContext(ctx))
	return err
}

func (s *DiscordSender) SendDocument(ctx context.Context, chatID, path, caption string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = s.session.ChannelMessageSendComplex(chatID, &discordgo.MessageSend{
		Content: caption,
		Files: []*discordgo.File{
			{Name: filepath.Base(path), Reader: f},
		},
	}, discordgo.WithContext(ctx))
	return err
}
